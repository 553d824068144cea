// Package genstore keeps the invalidation generation of every key prefix.
//
// A cache entry records the generations of all its prefixes when written;
// bumping one prefix makes every entry below it stale at once.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// LocalGenStore (default) is in-process; RedisGenStore shares generations
// between replicas so an invalidation on one is seen by all.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, prefix string) (uint64, error)
	// SnapshotMany returns gens for many prefixes; missing => 0.
	SnapshotMany(ctx context.Context, prefixes []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, prefix string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
