package querykit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bountydotnew/querykit/codec"
)

// QueryOptions tune a typed query. All fields are optional.
type QueryOptions[V any] struct {
	Codec codec.Codec[V] // nil => codec.JSON[V]
	TTL   time.Duration  // 0 => cache default
	// Timeout bounds one shared remote call; 0 => 30s. The call is not tied
	// to any single caller's context.
	Timeout time.Duration
	Logger  Logger
}

// State describes where a value returned by Query.Get came from.
type State struct {
	Found bool
	Stale bool
	Seq   uint64
}

// Query binds a remote operation to the cache: one key per input.
type Query[I, V any] struct {
	cache   Cache
	name    string
	fetch   Operation[I, V]
	codec   codec.Codec[V]
	ttl     time.Duration
	timeout time.Duration
	log     Logger
	sf      singleflight.Group
}

func NewQuery[I, V any](cache Cache, name string, fetch Operation[I, V], opts QueryOptions[V]) (*Query[I, V], error) {
	if cache == nil {
		return nil, fmt.Errorf("querykit: query %s: cache is required", name)
	}
	if fetch == nil {
		return nil, fmt.Errorf("querykit: query %s: fetch is required", name)
	}
	if _, err := KeyOf(name, nil); err != nil {
		return nil, fmt.Errorf("querykit: query name: %w", err)
	}
	q := &Query[I, V]{
		cache:   cache,
		name:    name,
		fetch:   fetch,
		codec:   opts.Codec,
		ttl:     opts.TTL,
		timeout: coalesce(opts.Timeout, defaultRefetchTimeout),
		log:     coalesce[Logger](opts.Logger, NopLogger{}),
	}
	if q.codec == nil {
		q.codec = codec.JSON[V]{}
	}
	return q, nil
}

func (q *Query[I, V]) Name() string { return q.name }

// Prefix is the key shared by every input of this query.
func (q *Query[I, V]) Prefix() Key {
	k, _ := KeyOf(q.name, nil)
	return k
}

func (q *Query[I, V]) Key(in I) (Key, error) { return KeyOf(q.name, in) }

// Get reads the cached value without fetching. A payload that no longer
// decodes is removed and reported as a miss.
func (q *Query[I, V]) Get(ctx context.Context, in I) (V, State, error) {
	var zero V
	key, err := q.Key(in)
	if err != nil {
		return zero, State{}, err
	}
	e, ok, err := q.cache.Get(ctx, key)
	if err != nil || !ok {
		return zero, State{}, err
	}
	v, err := q.codec.Decode(e.Payload)
	if err != nil {
		q.log.Warn("cached value does not decode; removing", Fields{"key": key.String(), "err": err})
		_ = q.cache.Remove(ctx, key)
		return zero, State{}, nil
	}
	return v, State{Found: true, Stale: e.Stale, Seq: e.Seq}, nil
}

// Fetch calls the remote operation and stores the result unless the key moved
// while the call was in flight. Concurrent fetches of one key share a call;
// a caller whose ctx ends stops waiting without failing the others.
func (q *Query[I, V]) Fetch(ctx context.Context, in I) (V, error) {
	var zero V
	key, err := q.Key(in)
	if err != nil {
		return zero, err
	}
	sk := key.String()
	ch := q.sf.DoChan(sk, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
		defer cancel()
		obs, snapErr := q.cache.Snapshot(fctx, key)
		out, err := q.fetch(fctx, in)
		if err != nil {
			return nil, err
		}
		if snapErr != nil {
			// still return the fresh value; just don't cache it
			q.log.Warn("snapshot failed; result not cached", Fields{"key": sk, "err": snapErr})
			return out, nil
		}
		b, err := q.codec.Encode(out)
		if err != nil {
			return nil, fmt.Errorf("querykit: encode %s: %w", q.name, err)
		}
		if _, err := q.cache.SetIfUnchanged(fctx, key, b, obs, q.ttl); err != nil {
			q.log.Warn("cache write failed", Fields{"key": sk, "err": err})
		}
		return out, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// Ensure returns the cached value when fresh and fetches otherwise. If the
// fetch fails and a stale value is cached, the stale value is returned along
// with the error.
func (q *Query[I, V]) Ensure(ctx context.Context, in I) (V, error) {
	v, st, err := q.Get(ctx, in)
	if err != nil {
		return v, err
	}
	if st.Found && !st.Stale {
		return v, nil
	}
	fresh, err := q.Fetch(ctx, in)
	if err != nil {
		return v, err
	}
	return fresh, nil
}

// Prefetch warms the cache. Failures are logged and leave the key without
// data; they never reach the caller.
func (q *Query[I, V]) Prefetch(ctx context.Context, in I) {
	if _, err := q.Ensure(ctx, in); err != nil {
		q.log.Warn("prefetch failed", Fields{"query": q.name, "err": err})
	}
}

// SetData writes v directly, as if the server had returned it.
func (q *Query[I, V]) SetData(ctx context.Context, in I, v V) error {
	key, err := q.Key(in)
	if err != nil {
		return err
	}
	b, err := q.codec.Encode(v)
	if err != nil {
		return err
	}
	_, err = q.cache.Set(ctx, key, b, q.ttl)
	return err
}

// Update applies fn to the cached value of in and records the result on patch.
// fn receives found=false when nothing usable is cached; returning ok=false
// leaves the key untouched. A nil patch writes straight to the cache.
func (q *Query[I, V]) Update(ctx context.Context, patch *Patch, in I, fn func(old V, found bool) (V, bool)) error {
	key, err := q.Key(in)
	if err != nil {
		return err
	}
	old, st, err := q.Get(ctx, in)
	if err != nil {
		return err
	}
	next, ok := fn(old, st.Found)
	if !ok {
		return nil
	}
	b, err := q.codec.Encode(next)
	if err != nil {
		return err
	}
	if patch == nil {
		_, err = q.cache.Set(ctx, key, b, q.ttl)
		return err
	}
	return patch.Set(ctx, key, b)
}

// Observer delivers the value of one query input to a callback until closed.
type Observer struct {
	dmu    sync.Mutex // serializes callbacks
	gen    atomic.Uint64
	closed atomic.Bool

	mu    sync.Mutex
	watch *Watch
	stop  func() bool
}

// Observe loads in (cache first), delivers it, and re-delivers after every
// refetch triggered by an invalidation. Callbacks stop once the observer is
// closed or ctx is done. onChange may call Close.
func (q *Query[I, V]) Observe(ctx context.Context, in I, onChange func(V, error)) (*Observer, error) {
	key, err := q.Key(in)
	if err != nil {
		return nil, err
	}
	o := &Observer{}
	deliver := func(v V, err error) {
		o.dmu.Lock()
		defer o.dmu.Unlock()
		if o.closed.Load() {
			return
		}
		o.gen.Add(1)
		onChange(v, err)
	}

	w, err := q.cache.Watch(key, func(rctx context.Context) error {
		v, err := q.Fetch(rctx, in)
		if err != nil {
			if rctx.Err() == nil {
				deliver(v, err)
			}
			return err
		}
		deliver(v, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.watch = w
	o.stop = context.AfterFunc(ctx, o.Close)
	o.mu.Unlock()

	v, err := q.Ensure(ctx, in)
	if ctx.Err() == nil {
		deliver(v, err)
	}
	return o, nil
}

// Deliveries reports how many callbacks have run.
func (o *Observer) Deliveries() uint64 { return o.gen.Load() }

func (o *Observer) Close() {
	if o.closed.Swap(true) {
		return
	}
	o.mu.Lock()
	w, stop := o.watch, o.stop
	o.mu.Unlock()
	if stop != nil {
		stop()
	}
	if w != nil {
		w.Close()
	}
}
