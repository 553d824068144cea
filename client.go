package querykit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	gen "github.com/bountydotnew/querykit/genstore"
	"github.com/bountydotnew/querykit/internal/wire"
	pr "github.com/bountydotnew/querykit/provider"
)

// Client is the provider-backed Cache.
//
// Conditional writes are atomic within one Client. Replicas sharing a Redis
// provider only share generations; their seq checks are best-effort.
type Client struct {
	ns             string
	provider       pr.Provider
	gen            gen.GenStore
	log            Logger
	hooks          Hooks
	enabled        bool
	defaultTTL     time.Duration
	refetchTimeout time.Duration
	computeSetCost SetCostFunc

	seq     atomic.Uint64
	writeMu sync.Mutex

	watchID atomic.Uint64
	watches *xsync.MapOf[uint64, *Watch]

	refetchMu sync.Mutex
	inflight  map[string]*refetchRun
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ Cache = (*Client)(nil)

type refetchRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	again  bool
}

func newClient(opts Options) (*Client, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("querykit: provider is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("querykit: namespace is required")
	}

	c := &Client{
		ns:       opts.Namespace,
		provider: opts.Provider,
		enabled:  !opts.Disabled,
		watches:  xsync.NewMapOf[uint64, *Watch](),
		inflight: make(map[string]*refetchRun),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.defaultTTL = coalesce(opts.DefaultTTL, defaultTTL)
	c.refetchTimeout = coalesce(opts.RefetchTimeout, defaultRefetchTimeout)

	if opts.ComputeSetCost != nil {
		c.computeSetCost = opts.ComputeSetCost
	} else {
		c.computeSetCost = func(string, []byte) int64 { return 1 }
	}

	if opts.GenStore != nil {
		c.gen = opts.GenStore
	} else {
		c.gen = gen.NewLocalGenStore(
			coalesce(opts.CleanupInterval, defaultSweep),
			coalesce(opts.GenRetention, defaultGenRetention),
		)
	}

	// seq only needs to be unique per key; start from the clock so a restarted
	// process sharing a provider does not reuse sequences.
	c.seq.Store(uint64(time.Now().UnixNano()))
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

func (c *Client) Enabled() bool { return c.enabled }

// Close cancels scheduled refetches, waits for them, then closes the gen store
// and the provider.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.refetchMu.Lock()
		c.closed = true
		c.refetchMu.Unlock()
		c.cancel()
		c.wg.Wait()

		// gen store first (best effort)
		_ = c.gen.Close(ctx)
		err = c.provider.Close(ctx)
	})
	return err
}

func (c *Client) Get(ctx context.Context, key Key) (Entry, bool, error) {
	if err := key.validate(); err != nil {
		return Entry{}, false, err
	}
	if !c.enabled {
		return Entry{}, false, nil
	}
	sk := c.storageKey(key)
	e, ok, err := c.read(ctx, sk, len(key))
	if err != nil || !ok {
		return Entry{}, false, err
	}
	cur, err := c.snapshotGens(ctx, key)
	// unknown generations are treated as stale
	stale := err != nil || !equalGens(e.Gens, cur)
	return Entry{Payload: e.Payload, Seq: e.Seq, Stale: stale}, true, nil
}

func (c *Client) Set(ctx context.Context, key Key, payload []byte, ttl time.Duration) (uint64, error) {
	if err := key.validate(); err != nil {
		return 0, err
	}
	if !c.enabled {
		return 0, nil
	}
	gens, err := c.snapshotGens(ctx, key)
	if err != nil {
		return 0, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.write(ctx, key, payload, gens, ttl)
}

func (c *Client) Remove(ctx context.Context, key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	if !c.enabled {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.provider.Del(ctx, c.storageKey(key))
}

func (c *Client) Snapshot(ctx context.Context, key Key) (Snapshot, error) {
	if err := key.validate(); err != nil {
		return Snapshot{}, err
	}
	if !c.enabled {
		return Snapshot{}, nil
	}
	return c.snapshot(ctx, key)
}

// SetIfUnchanged writes payload only if no prefix generation moved and no other
// write landed on key since obs was taken.
func (c *Client) SetIfUnchanged(ctx context.Context, key Key, payload []byte, obs Snapshot, ttl time.Duration) (bool, error) {
	if err := key.validate(); err != nil {
		return false, err
	}
	if !c.enabled {
		return false, nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cur, ok, err := c.unchanged(ctx, key, obs)
	if err != nil || !ok {
		return false, err
	}
	if _, err := c.write(ctx, key, payload, cur.Gens, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveIfUnchanged deletes key only if it still matches obs.
func (c *Client) RemoveIfUnchanged(ctx context.Context, key Key, obs Snapshot) (bool, error) {
	if err := key.validate(); err != nil {
		return false, err
	}
	if !c.enabled {
		return false, nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, ok, err := c.unchanged(ctx, key, obs)
	if err != nil || !ok {
		return false, err
	}
	if err := c.provider.Del(ctx, c.storageKey(key)); err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate bumps the generation of prefix. Every entry under it turns stale
// and every watched key under it gets a background refetch.
func (c *Client) Invalidate(ctx context.Context, prefix Key) error {
	if len(prefix) == 0 {
		return ErrEmptyPrefix
	}
	if err := prefix.validate(); err != nil {
		return err
	}
	if !c.enabled {
		return nil
	}
	p := prefix.String()
	newGen, bumpErr := c.gen.Bump(ctx, p)

	var ierr *InvalidateError
	if bumpErr != nil {
		c.hooks.GenBumpError(p, bumpErr)
		c.log.Error("gen bump error", Fields{"prefix": p, "err": bumpErr})
		// without a bump, readers would still see the old entries as fresh
		ierr = &InvalidateError{Prefix: p, BumpErr: bumpErr, DelErr: c.dropWatched(ctx, prefix)}
	}

	n := c.scheduleRefetches(prefix)
	c.hooks.Invalidated(p, n)
	c.log.Debug("invalidated prefix", Fields{"prefix": p, "newGen": newGen, "watchers": n})
	if ierr != nil {
		return ierr
	}
	return nil
}

func (c *Client) read(ctx context.Context, sk string, depth int) (wire.Entry, bool, error) {
	raw, ok, err := c.provider.Get(ctx, sk)
	if err != nil || !ok {
		return wire.Entry{}, false, err
	}
	e, err := wire.DecodeEntry(raw)
	if err != nil || len(e.Gens) != depth {
		_ = c.provider.Del(ctx, sk) // self-heal corrupt
		c.hooks.SelfHeal(sk, "corrupt")
		return wire.Entry{}, false, nil
	}
	return e, true, nil
}

func (c *Client) snapshot(ctx context.Context, key Key) (Snapshot, error) {
	gens, err := c.snapshotGens(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	e, ok, err := c.read(ctx, c.storageKey(key), len(key))
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Gens: gens, Seq: e.Seq, Present: ok}, nil
}

// unchanged must be called with writeMu held.
func (c *Client) unchanged(ctx context.Context, key Key, obs Snapshot) (Snapshot, bool, error) {
	cur, err := c.snapshot(ctx, key)
	if err != nil {
		return Snapshot{}, false, err
	}
	if cur.Present != obs.Present || cur.Seq != obs.Seq || !equalGens(cur.Gens, obs.Gens) {
		sk := c.storageKey(key)
		c.hooks.CASSkipped(sk)
		c.log.Debug("conditional write skipped (key moved)", Fields{"key": sk})
		return cur, false, nil
	}
	return cur, true, nil
}

// write must be called with writeMu held.
func (c *Client) write(ctx context.Context, key Key, payload []byte, gens []uint64, ttl time.Duration) (uint64, error) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	seq := c.seq.Add(1)
	b, err := wire.EncodeEntry(seq, gens, payload)
	if err != nil {
		return 0, err
	}
	sk := c.storageKey(key)
	ok, err := c.provider.Set(ctx, sk, b, c.computeSetCost(sk, b), ttl)
	if err != nil {
		return 0, err
	}
	if !ok {
		c.hooks.ProviderSetRejected(sk)
		c.log.Debug("Set rejected by provider (pressure)", Fields{"key": sk})
	}
	return seq, nil
}

func (c *Client) snapshotGens(ctx context.Context, key Key) ([]uint64, error) {
	ps := key.prefixes()
	m, err := c.gen.SnapshotMany(ctx, ps)
	if err != nil {
		c.hooks.GenSnapshotError(len(ps), err)
		c.log.Warn("gen snapshot error", Fields{"key": key.String(), "err": err})
		return nil, err
	}
	out := make([]uint64, len(ps))
	for i, p := range ps {
		out[i] = m[p]
	}
	return out, nil
}

func (c *Client) dropWatched(ctx context.Context, prefix Key) error {
	var errs []error
	c.watches.Range(func(_ uint64, w *Watch) bool {
		if w.key.HasPrefix(prefix) {
			if err := c.provider.Del(ctx, w.sk); err != nil {
				errs = append(errs, err)
			}
		}
		return true
	})
	return errors.Join(errs...)
}

func (c *Client) storageKey(key Key) string {
	// isolate by namespace
	return "q:" + c.ns + ":" + key.String()
}

func equalGens(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// clonePayload detaches a payload from provider-owned memory.
func clonePayload(b []byte) []byte { return bytes.Clone(b) }
