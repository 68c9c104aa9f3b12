package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lead_rating_engine/platform/apperr"
)

// SnapshotEntry is one exported cache entry. TTLSeconds is 0 when the
// entry had no expiry.
type SnapshotEntry struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	TTLSeconds int64           `json:"ttlSeconds,omitempty"`
}

// Snapshot is a point-in-time copy of the cache.
type Snapshot struct {
	Version    int                           `json:"version"`
	ExportedAt time.Time                     `json:"exportedAt"`
	Entries    map[Namespace][]SnapshotEntry `json:"entries"`
	Total      int                           `json:"total"`
}

const snapshotVersion = 1

// ImportReport counts the outcome of Import.
type ImportReport struct {
	Total    int      `json:"total"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// Export reads every entry of every namespace. Entries that expire between
// listing and reading are left out.
func (c *Cache) Export(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Version:    snapshotVersion,
		ExportedAt: c.now().UTC(),
		Entries:    make(map[Namespace][]SnapshotEntry, len(namespaces)),
	}

	for _, ns := range namespaces {
		prefix := c.nsPrefix(ns)
		keys, err := c.backend.KeysByPrefix(ctx, prefix)
		if err != nil {
			return Snapshot{}, apperr.Cache("cache export failed", err).WithOp("cache.Export")
		}
		entries := make([]SnapshotEntry, 0, len(keys))
		for _, full := range keys {
			data, found, err := c.backend.Get(ctx, full)
			if err != nil {
				return Snapshot{}, apperr.Cache("cache export failed", err).WithOp("cache.Export")
			}
			if !found || !json.Valid(data) {
				continue
			}
			entry := SnapshotEntry{Key: full[len(prefix):], Value: json.RawMessage(data)}
			if ttl, err := c.backend.TTL(ctx, full); err == nil && ttl > 0 {
				entry.TTLSeconds = int64(ttl / time.Second)
				if entry.TTLSeconds == 0 {
					entry.TTLSeconds = 1
				}
			}
			entries = append(entries, entry)
		}
		snap.Entries[ns] = entries
		snap.Total += len(entries)
	}
	return snap, nil
}

// Import writes every entry of snap. Entries for unknown namespaces are
// skipped; entries without a TTL get the namespace default. Import stops at
// the first backend failure.
func (c *Cache) Import(ctx context.Context, snap Snapshot) (ImportReport, error) {
	var report ImportReport
	known := make(map[Namespace]bool, len(namespaces))
	for _, ns := range namespaces {
		known[ns] = true
	}

	for ns, entries := range snap.Entries {
		report.Total += len(entries)
		if !known[ns] {
			report.Skipped += len(entries)
			report.Errors = append(report.Errors, fmt.Sprintf("unknown namespace %q", ns))
			continue
		}
		for _, e := range entries {
			if e.Key == "" || !json.Valid(e.Value) {
				report.Skipped++
				report.Errors = append(report.Errors, fmt.Sprintf("%s: invalid entry %q", ns, e.Key))
				continue
			}
			ttl := time.Duration(e.TTLSeconds) * time.Second
			if err := c.setRaw(ctx, ns, e.Key, e.Value, ttl); err != nil {
				return report, err
			}
			report.Imported++
		}
	}
	return report, nil
}
