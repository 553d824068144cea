package querykit

import (
	"context"
	"errors"
	"sync"
)

// Patch records optimistic writes so they can be undone.
//
// The first write to a key captures the value it replaced. Rollback restores
// that value only where the key still holds the patch's own last write; a
// later write, server-confirmed or from another patch, is left alone.
type Patch struct {
	cache Cache

	mu    sync.Mutex
	order []string
	items map[string]*patchItem
}

type patchItem struct {
	key     Key
	prev    Entry
	hadPrev bool
	seq     uint64
}

func NewPatch(cache Cache) *Patch {
	return &Patch{cache: cache, items: make(map[string]*patchItem)}
}

// Set writes payload to key and records it on the patch.
func (p *Patch) Set(ctx context.Context, key Key, payload []byte) error {
	sk := key.String()
	p.mu.Lock()
	defer p.mu.Unlock()

	it, seen := p.items[sk]
	if !seen {
		prev, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		prev.Payload = clonePayload(prev.Payload)
		it = &patchItem{key: append(Key(nil), key...), prev: prev, hadPrev: ok}
	}
	seq, err := p.cache.Set(ctx, key, payload, 0)
	if err != nil {
		return err
	}
	it.seq = seq
	if !seen {
		p.items[sk] = it
		p.order = append(p.order, sk)
	}
	return nil
}

// Keys returns the patched keys in first-write order.
func (p *Patch) Keys() []Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Key, 0, len(p.order))
	for _, sk := range p.order {
		out = append(out, p.items[sk].key)
	}
	return out
}

func (p *Patch) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Rollback undoes the patch and reports how many keys were restored. Keys that
// had no value before are removed. A restored value is invalidated again when
// it was stale or when a prefix was invalidated after the patch was written,
// so it gets refetched.
func (p *Patch) Rollback(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	restored := 0
	var errs []error
	for _, sk := range p.order {
		it := p.items[sk]
		ok, err := p.restore(ctx, it)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			restored++
		}
	}
	return restored, errors.Join(errs...)
}

func (p *Patch) restore(ctx context.Context, it *patchItem) (bool, error) {
	snap, err := p.cache.Snapshot(ctx, it.key)
	if err != nil {
		return false, err
	}
	if !snap.Present || snap.Seq != it.seq {
		return false, nil
	}
	if !it.hadPrev {
		return p.cache.RemoveIfUnchanged(ctx, it.key, snap)
	}
	// the patch's own write turned stale: a prefix was invalidated after it
	cur, _, err := p.cache.Get(ctx, it.key)
	if err != nil {
		return false, err
	}
	ok, err := p.cache.SetIfUnchanged(ctx, it.key, it.prev.Payload, snap, 0)
	if err != nil || !ok {
		return false, err
	}
	if it.prev.Stale || cur.Stale {
		if err := p.cache.Invalidate(ctx, it.key); err != nil {
			return true, err
		}
	}
	return true, nil
}
