// Package retention deletes snapshots that have outlived the retention window.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/crawler"
	"github.com/JakeFAU/web-archiver/internal/metrics"
)

// DefaultMaxAge keeps snapshots for a year.
const DefaultMaxAge = 365 * 24 * time.Hour

// ArtifactRemover deletes a snapshot's stored artifacts.
type ArtifactRemover interface {
	Purge(ctx context.Context, snapshotID string) error
}

// Purger removes expired snapshots: artifacts first, then the record.
type Purger struct {
	store   crawler.SnapshotStore
	remover ArtifactRemover
	maxAge  time.Duration
	logger  *zap.Logger
}

// New builds a Purger. A non-positive maxAge uses DefaultMaxAge.
func New(store crawler.SnapshotStore, remover ArtifactRemover, maxAge time.Duration, logger *zap.Logger) *Purger {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purger{store: store, remover: remover, maxAge: maxAge, logger: logger}
}

// Purge deletes completed and failed snapshots created before now minus the
// max age. Running snapshots are never touched. A failure on one snapshot is
// logged and the rest continue; the number deleted is returned.
func (p *Purger) Purge(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-p.maxAge)
	expired, err := p.store.ListExpiredSnapshots(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired snapshots: %w", err)
	}

	deleted := 0
	for _, snap := range expired {
		if err := ctx.Err(); err != nil {
			return deleted, fmt.Errorf("purge interrupted: %w", err)
		}
		if !snap.Status.IsTerminal() {
			continue
		}
		if err := p.remover.Purge(ctx, snap.ID); err != nil {
			p.logger.Error("purge snapshot artifacts failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
			continue
		}
		if err := p.store.DeleteSnapshot(ctx, snap.ID); err != nil {
			p.logger.Error("delete snapshot record failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
			continue
		}
		deleted++
	}
	metrics.ObserveSnapshotsPurged(deleted)
	p.logger.Info("retention purge finished",
		zap.Time("cutoff", cutoff),
		zap.Int("expired", len(expired)),
		zap.Int("deleted", deleted),
	)
	return deleted, nil
}
