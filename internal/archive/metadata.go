package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

// SnapshotMetadata is the document sealed into a snapshot's encrypted
// metadata column.
type SnapshotMetadata struct {
	Settings   crawler.CrawlJob   `json:"crawl_settings"`
	CrawlTime  time.Time          `json:"crawl_time"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	StartURL   string             `json:"start_url"`
	BaseDomain string             `json:"base_domain"`
	Stats      crawler.CrawlStats `json:"statistics"`
	Canceled   bool               `json:"canceled,omitempty"`
	Extra      map[string]any     `json:"extra,omitempty"`
}

// NewSnapshotMetadata derives metadata from a finished crawl.
func NewSnapshotMetadata(job crawler.CrawlJob, result crawler.CrawlResult) SnapshotMetadata {
	return SnapshotMetadata{
		Settings:   job,
		CrawlTime:  result.FinishedAt,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		StartURL:   result.StartURL,
		BaseDomain: crawler.HostOf(result.StartURL),
		Stats:      result.Stats,
		Canceled:   result.Canceled,
	}
}

// SealMetadata serializes meta as indented JSON and encrypts it. Extra values
// that cannot be serialized are dropped.
func (w *Writer) SealMetadata(meta SnapshotMetadata) (string, error) {
	if len(meta.Extra) > 0 {
		clean := make(map[string]any, len(meta.Extra))
		for k, v := range meta.Extra {
			if _, err := json.Marshal(v); err != nil {
				continue
			}
			clean[k] = v
		}
		meta.Extra = clean
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	token, err := w.cipher.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("encrypt metadata: %w", err)
	}
	return token, nil
}

// OpenMetadata decrypts and parses a sealed metadata token.
func (w *Writer) OpenMetadata(token string) (SnapshotMetadata, error) {
	var meta SnapshotMetadata
	raw, err := w.cipher.Decrypt(token)
	if err != nil {
		return meta, fmt.Errorf("decrypt metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return meta, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}
