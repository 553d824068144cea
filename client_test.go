package querykit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gen "github.com/bountydotnew/querykit/genstore"
	"github.com/bountydotnew/querykit/internal/wire"
	pr "github.com/bountydotnew/querykit/provider"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	reject bool
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: value, exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

// flakyGenStore wraps a local store and fails on demand.
type flakyGenStore struct {
	*gen.LocalGenStore
	failSnap atomic.Bool
	failBump atomic.Bool
}

var errGen = errors.New("genstore down")

func (s *flakyGenStore) SnapshotMany(ctx context.Context, ps []string) (map[string]uint64, error) {
	if s.failSnap.Load() {
		return nil, errGen
	}
	return s.LocalGenStore.SnapshotMany(ctx, ps)
}

func (s *flakyGenStore) Bump(ctx context.Context, p string) (uint64, error) {
	if s.failBump.Load() {
		return 0, errGen
	}
	return s.LocalGenStore.Bump(ctx, p)
}

type recHooks struct {
	NopHooks
	mu          sync.Mutex
	selfHeals   []string
	rejected    int
	casSkipped  int
	invalidated map[string]int
	refetchErrs int
}

func newRecHooks() *recHooks { return &recHooks{invalidated: map[string]int{}} }

func (h *recHooks) SelfHeal(k, reason string) {
	h.mu.Lock()
	h.selfHeals = append(h.selfHeals, reason)
	h.mu.Unlock()
}
func (h *recHooks) ProviderSetRejected(string) { h.mu.Lock(); h.rejected++; h.mu.Unlock() }
func (h *recHooks) CASSkipped(string)          { h.mu.Lock(); h.casSkipped++; h.mu.Unlock() }
func (h *recHooks) RefetchFailed(string, error) {
	h.mu.Lock()
	h.refetchErrs++
	h.mu.Unlock()
}
func (h *recHooks) Invalidated(p string, n int) {
	h.mu.Lock()
	h.invalidated[p] = n
	h.mu.Unlock()
}

func (h *recHooks) watchers(p string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.invalidated[p]
}

func newTestClient(t *testing.T, mp pr.Provider, optsOpt func(*Options)) *Client {
	t.Helper()
	opts := Options{
		Namespace: "test",
		Provider:  mp,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewRequiresProviderAndNamespace(t *testing.T) {
	if _, err := New(Options{Namespace: "x"}); err == nil {
		t.Fatalf("expected error without provider")
	}
	if _, err := New(Options{Provider: newMemProvider()}); err == nil {
		t.Fatalf("expected error without namespace")
	}
}

// TestSetGetInvalidateFlow verifies writes are visible at once and that
// invalidating a prefix marks only entries below it stale.
func TestSetGetInvalidateFlow(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemProvider(), nil)

	votes := MustKey("bounties", "getBountyVotes", "b1")
	comments := MustKey("comments", "list", "b1")

	if _, ok, err := c.Get(ctx, votes); err != nil || ok {
		t.Fatalf("Get miss expected, ok=%v err=%v", ok, err)
	}
	seq, err := c.Set(ctx, votes, []byte("3"), 0)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := c.Set(ctx, comments, []byte("[]"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	e, ok, err := c.Get(ctx, votes)
	if err != nil || !ok || string(e.Payload) != "3" || e.Stale || e.Seq != seq {
		t.Fatalf("Get after Set: ok=%v err=%v entry=%+v seq=%d", ok, err, e, seq)
	}

	if err := c.Invalidate(ctx, MustKey("bounties")); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	e, ok, _ = c.Get(ctx, votes)
	if !ok || !e.Stale || string(e.Payload) != "3" {
		t.Fatalf("expected stale hit with old payload, ok=%v entry=%+v", ok, e)
	}
	e, ok, _ = c.Get(ctx, comments)
	if !ok || e.Stale {
		t.Fatalf("unrelated prefix must stay fresh, ok=%v entry=%+v", ok, e)
	}

	// a new write records the bumped generation and is fresh again
	if _, err := c.Set(ctx, votes, []byte("4"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if e, _, _ := c.Get(ctx, votes); e.Stale || string(e.Payload) != "4" {
		t.Fatalf("rewrite should be fresh, got %+v", e)
	}
}

func TestInvalidateRejectsEmptyPrefix(t *testing.T) {
	c := newTestClient(t, newMemProvider(), nil)
	if err := c.Invalidate(context.Background(), nil); !errors.Is(err, ErrEmptyPrefix) {
		t.Fatalf("expected ErrEmptyPrefix, got %v", err)
	}
}

func TestSetIfUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newRecHooks()
	c := newTestClient(t, newMemProvider(), func(o *Options) { o.Hooks = h })
	k := MustKey("bounties", "getBountyVotes", "b1")

	t.Run("fresh snapshot writes", func(t *testing.T) {
		obs, err := c.Snapshot(ctx, k)
		if err != nil {
			t.Fatal(err)
		}
		if obs.Present {
			t.Fatalf("expected absent key")
		}
		ok, err := c.SetIfUnchanged(ctx, k, []byte("1"), obs, 0)
		if err != nil || !ok {
			t.Fatalf("SetIfUnchanged: ok=%v err=%v", ok, err)
		}
	})

	t.Run("invalidation in between skips", func(t *testing.T) {
		obs, _ := c.Snapshot(ctx, k)
		if err := c.Invalidate(ctx, MustKey("bounties", "getBountyVotes")); err != nil {
			t.Fatal(err)
		}
		ok, err := c.SetIfUnchanged(ctx, k, []byte("old"), obs, 0)
		if err != nil || ok {
			t.Fatalf("expected skip, ok=%v err=%v", ok, err)
		}
	})

	t.Run("other write in between skips", func(t *testing.T) {
		obs, _ := c.Snapshot(ctx, k)
		if _, err := c.Set(ctx, k, []byte("optimistic"), 0); err != nil {
			t.Fatal(err)
		}
		ok, err := c.SetIfUnchanged(ctx, k, []byte("server"), obs, 0)
		if err != nil || ok {
			t.Fatalf("expected skip, ok=%v err=%v", ok, err)
		}
		if e, _, _ := c.Get(ctx, k); string(e.Payload) != "optimistic" {
			t.Fatalf("newer write was overwritten: %q", e.Payload)
		}
	})

	h.mu.Lock()
	skipped := h.casSkipped
	h.mu.Unlock()
	if skipped != 2 {
		t.Fatalf("CASSkipped hook count = %d, want 2", skipped)
	}
}

func TestRemoveIfUnchanged(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemProvider(), nil)
	k := MustKey("a", "b")

	if _, err := c.Set(ctx, k, []byte("x"), 0); err != nil {
		t.Fatal(err)
	}
	obs, _ := c.Snapshot(ctx, k)
	if _, err := c.Set(ctx, k, []byte("y"), 0); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.RemoveIfUnchanged(ctx, k, obs); ok {
		t.Fatalf("remove must be skipped after another write")
	}
	obs, _ = c.Snapshot(ctx, k)
	if ok, err := c.RemoveIfUnchanged(ctx, k, obs); err != nil || !ok {
		t.Fatalf("RemoveIfUnchanged: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := c.Get(ctx, k); ok {
		t.Fatalf("key should be gone")
	}
}

// TestSelfHealOnCorrupt ensures undecodable bytes and frames of the wrong
// depth are deleted and reported as a miss.
func TestSelfHealOnCorrupt(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := newRecHooks()
	c := newTestClient(t, mp, func(o *Options) { o.Hooks = h })

	k := MustKey("bounties", "bad")
	sk := c.storageKey(k)

	if ok, err := mp.Set(ctx, sk, []byte("not-wire-format"), 1, time.Minute); err != nil || !ok {
		t.Fatalf("inject corrupt: ok=%v err=%v", ok, err)
	}
	if _, ok, err := c.Get(ctx, k); err != nil || ok {
		t.Fatalf("Get on corrupt should miss, ok=%v err=%v", ok, err)
	}
	if mp.has(sk) {
		t.Fatalf("corrupt entry was not deleted by self-heal")
	}

	// valid frame, but one generation for a two-segment key
	b, err := wire.EncodeEntry(1, []uint64{0}, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	_, _ = mp.Set(ctx, sk, b, 1, time.Minute)
	if _, ok, _ := c.Get(ctx, k); ok {
		t.Fatalf("depth mismatch should miss")
	}
	if mp.has(sk) {
		t.Fatalf("mismatched entry was not deleted")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.selfHeals) != 2 || h.selfHeals[0] != "corrupt" {
		t.Fatalf("self-heal hooks = %v", h.selfHeals)
	}
}

func TestGenSnapshotErrorReadsAsStale(t *testing.T) {
	ctx := context.Background()
	gs := &flakyGenStore{LocalGenStore: gen.NewLocalGenStore(0, 0)}
	c := newTestClient(t, newMemProvider(), func(o *Options) { o.GenStore = gs })
	k := MustKey("bounties", "x")

	if _, err := c.Set(ctx, k, []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	gs.failSnap.Store(true)

	e, ok, err := c.Get(ctx, k)
	if err != nil || !ok || !e.Stale {
		t.Fatalf("expected stale hit on snapshot error, ok=%v err=%v entry=%+v", ok, err, e)
	}
	if _, err := c.Set(ctx, k, []byte("w"), 0); !errors.Is(err, errGen) {
		t.Fatalf("Set should surface gen errors, got %v", err)
	}
}

func TestInvalidateBumpFailureDropsWatchedEntries(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	gs := &flakyGenStore{LocalGenStore: gen.NewLocalGenStore(0, 0)}
	c := newTestClient(t, mp, func(o *Options) { o.GenStore = gs })

	k := MustKey("bounties", "getBountyVotes", "b1")
	if _, err := c.Set(ctx, k, []byte("1"), 0); err != nil {
		t.Fatal(err)
	}
	w, err := c.Watch(k, func(context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	gs.failBump.Store(true)
	err = c.Invalidate(ctx, MustKey("bounties"))
	var ie *InvalidateError
	if !errors.As(err, &ie) || !errors.Is(err, errGen) {
		t.Fatalf("expected InvalidateError wrapping bump error, got %v", err)
	}
	if ie.Prefix != "bounties" || ie.DelErr != nil {
		t.Fatalf("unexpected error detail: %+v", ie)
	}
	if mp.has(c.storageKey(k)) {
		t.Fatalf("watched entry should have been deleted as fallback")
	}
}

func TestInvalidateRefetchesWatchedKeysUnderPrefix(t *testing.T) {
	ctx := context.Background()
	h := newRecHooks()
	c := newTestClient(t, newMemProvider(), func(o *Options) { o.Hooks = h })

	var votes, comments atomic.Int32
	wv, err := c.Watch(MustKey("bounties", "getBountyVotes", "b1"), func(context.Context) error {
		votes.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer wv.Close()
	wc, err := c.Watch(MustKey("comments", "b1"), func(context.Context) error {
		comments.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer wc.Close()

	if err := c.Invalidate(ctx, MustKey("bounties")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return votes.Load() == 1 })
	if comments.Load() != 0 {
		t.Fatalf("watch outside the prefix was refetched")
	}
	if n := h.watchers("bounties"); n != 1 {
		t.Fatalf("Invalidated hook watchers = %d, want 1", n)
	}

	wv.Close()
	if err := c.Invalidate(ctx, MustKey("bounties")); err != nil {
		t.Fatal(err)
	}
	if n := h.watchers("bounties"); n != 0 {
		t.Fatalf("closed watch still scheduled: %d", n)
	}
}

// An invalidation that lands while a refetch is running must cause one more
// refetch, since the running one may have read pre-invalidation data.
func TestInvalidateDuringRefetchRunsAgain(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemProvider(), nil)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	w, err := c.Watch(MustKey("bounties", "list"), func(context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	_ = c.Invalidate(ctx, MustKey("bounties"))
	<-started
	_ = c.Invalidate(ctx, MustKey("bounties"))
	_ = c.Invalidate(ctx, MustKey("bounties"))
	close(release)

	waitFor(t, func() bool { return calls.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 2 {
		t.Fatalf("refetch calls = %d, want 2 (deduplicated rerun)", n)
	}
}

func TestRefetchFailureIsReported(t *testing.T) {
	h := newRecHooks()
	c := newTestClient(t, newMemProvider(), func(o *Options) { o.Hooks = h })
	w, err := c.Watch(MustKey("a", "b"), func(context.Context) error { return errors.New("boom") })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	_ = c.Invalidate(context.Background(), MustKey("a"))
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.refetchErrs == 1
	})
}

func TestCloseCancelsInflightRefetch(t *testing.T) {
	mp := newMemProvider()
	c, err := New(Options{Namespace: "test", Provider: mp})
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	_, err = c.Watch(MustKey("a"), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Invalidate(context.Background(), MustKey("a"))
	<-started

	done := make(chan struct{})
	go func() {
		_ = c.Close(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not cancel the running refetch")
	}
	if _, err := c.Watch(MustKey("a"), func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Watch after Close: got %v, want ErrClosed", err)
	}
}

func TestProviderRejectionIsReported(t *testing.T) {
	mp := newMemProvider()
	mp.reject = true
	h := newRecHooks()
	c := newTestClient(t, mp, func(o *Options) { o.Hooks = h })

	if _, err := c.Set(context.Background(), MustKey("a"), []byte("x"), 0); err != nil {
		t.Fatal(err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rejected != 1 {
		t.Fatalf("ProviderSetRejected count = %d, want 1", h.rejected)
	}
}

func TestDisabledCacheIsInert(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	c := newTestClient(t, mp, func(o *Options) { o.Disabled = true })
	k := MustKey("a", "b")

	if c.Enabled() {
		t.Fatalf("expected disabled")
	}
	if _, err := c.Set(ctx, k, []byte("x"), 0); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, k); ok {
		t.Fatalf("disabled cache must miss")
	}
	if err := c.Invalidate(ctx, MustKey("a")); err != nil {
		t.Fatal(err)
	}
	if len(mp.m) != 0 {
		t.Fatalf("disabled cache wrote to provider")
	}
}
