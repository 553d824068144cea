package querykit

import (
	"context"
	"time"

	gen "github.com/bountydotnew/querykit/genstore"
	pr "github.com/bountydotnew/querykit/provider"
)

type SetCostFunc func(storageKey string, raw []byte) int64

// Operation is a remote procedure: one input, one output, or an error.
type Operation[I, O any] func(ctx context.Context, input I) (O, error)

// RefetchFunc reloads a watched key from its source of truth.
type RefetchFunc func(ctx context.Context) error

// Entry is the last known value of a key, server-confirmed or optimistic.
// Stale is set once a prefix of the key was invalidated after the write.
type Entry struct {
	Payload []byte
	Seq     uint64
	Stale   bool
}

// Snapshot is what a conditional write compares against.
type Snapshot struct {
	Gens    []uint64
	Seq     uint64
	Present bool
}

// Cache is the query cache contract used by queries, patches and mutations.
type Cache interface {
	Enabled() bool
	Close(context.Context) error

	Get(ctx context.Context, key Key) (Entry, bool, error)
	// Set writes unconditionally and returns the write sequence. ttl 0 => default.
	Set(ctx context.Context, key Key, payload []byte, ttl time.Duration) (uint64, error)
	Remove(ctx context.Context, key Key) error

	// CAS
	Snapshot(ctx context.Context, key Key) (Snapshot, error)
	SetIfUnchanged(ctx context.Context, key Key, payload []byte, obs Snapshot, ttl time.Duration) (bool, error)
	RemoveIfUnchanged(ctx context.Context, key Key, obs Snapshot) (bool, error)

	// Invalidate marks every entry under prefix stale and refetches watched keys.
	Invalidate(ctx context.Context, prefix Key) error
	Watch(key Key, refetch RefetchFunc) (*Watch, error)
}

// Options tune the behavior of the cache.
// Only Namespace and Provider are required; others have sensible defaults.
type Options struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "web", "cli"
	Provider  pr.Provider

	Logger          Logger        // if nil, NopLogger is used
	Hooks           Hooks         // if nil, NopHooks is used
	DefaultTTL      time.Duration // 0 => 10m
	CleanupInterval time.Duration // 0 => 1h
	GenRetention    time.Duration // 0 => 30d
	RefetchTimeout  time.Duration // per refetch attempt; 0 => 30s
	Disabled        bool          // default false (enabled)
	ComputeSetCost  SetCostFunc   // default 1
	GenStore        gen.GenStore  // nil => LocalGenStore (in-process)
}

func New(opts Options) (*Client, error) {
	return newClient(opts)
}
