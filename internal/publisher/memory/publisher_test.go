package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "snapshots", crawler.SnapshotEvent{JobID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	msgs[0].Topic = "modified"
	require.Equal(t, "snapshots", pub.Messages()[0].Topic)

	events := pub.Topic("snapshots")
	require.Len(t, events, 1)
	require.Equal(t, "job-1", events[0].(crawler.SnapshotEvent).JobID)
	require.Empty(t, pub.Topic("missing"))
}
