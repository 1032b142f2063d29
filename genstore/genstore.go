// Package genstore keeps generation counters for deskquery's persistence
// tier. A persisted entry is stamped with the generations of its key root
// (e.g. "tickets") and of the namespace; invalidating the root or clearing
// the cache bumps a counter, so every value persisted before that point is
// rejected on hydrate.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for one process, or RedisGenStore when several
// processes share a Redis-backed persistence tier.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns gens for many keys; missing => 0.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes counters not bumped within retention (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
