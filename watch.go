package querykit

import (
	"context"
	"fmt"
	"sync"
)

// Watch marks a key as actively observed. Invalidating any prefix of the key
// schedules its refetch until the watch is closed.
type Watch struct {
	c       *Client
	id      uint64
	key     Key
	sk      string
	refetch RefetchFunc
	once    sync.Once
}

func (c *Client) Watch(key Key, refetch RefetchFunc) (*Watch, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	if refetch == nil {
		return nil, fmt.Errorf("querykit: watch %s: refetch is required", key)
	}
	c.refetchMu.Lock()
	closed := c.closed
	c.refetchMu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	w := &Watch{
		c:       c,
		id:      c.watchID.Add(1),
		key:     append(Key(nil), key...),
		sk:      c.storageKey(key),
		refetch: refetch,
	}
	c.watches.Store(w.id, w)
	return w, nil
}

func (w *Watch) Key() Key { return w.key }

// Close unregisters the watch. When it was the last watch of its key, an
// in-flight refetch for that key is cancelled.
func (w *Watch) Close() {
	w.once.Do(func() {
		c := w.c
		c.watches.Delete(w.id)

		last := true
		c.watches.Range(func(_ uint64, o *Watch) bool {
			if o.sk == w.sk {
				last = false
				return false
			}
			return true
		})
		if !last {
			return
		}
		c.refetchMu.Lock()
		if run, ok := c.inflight[w.sk]; ok {
			run.cancel()
		}
		c.refetchMu.Unlock()
	})
}

// scheduleRefetches starts one refetch per watched storage key under prefix.
// A key already refetching is marked to run once more, since its in-flight
// fetch may predate this invalidation.
func (c *Client) scheduleRefetches(prefix Key) int {
	byKey := make(map[string]RefetchFunc)
	c.watches.Range(func(_ uint64, w *Watch) bool {
		if w.key.HasPrefix(prefix) {
			if _, seen := byKey[w.sk]; !seen {
				byKey[w.sk] = w.refetch
			}
		}
		return true
	})
	if len(byKey) == 0 {
		return 0
	}

	c.refetchMu.Lock()
	defer c.refetchMu.Unlock()
	if c.closed {
		return 0
	}
	for sk, fn := range byKey {
		if run, ok := c.inflight[sk]; ok && run.ctx.Err() == nil {
			run.again = true
			continue
		}
		ctx, cancel := context.WithCancel(c.ctx)
		run := &refetchRun{ctx: ctx, cancel: cancel}
		c.inflight[sk] = run
		c.wg.Add(1)
		go c.runRefetch(sk, run, fn)
	}
	return len(byKey)
}

func (c *Client) runRefetch(sk string, run *refetchRun, fn RefetchFunc) {
	defer c.wg.Done()
	defer run.cancel()
	for {
		ctx, cancel := context.WithTimeout(run.ctx, c.refetchTimeout)
		err := fn(ctx)
		cancel()
		if err != nil && run.ctx.Err() == nil {
			c.hooks.RefetchFailed(sk, err)
			c.log.Warn("refetch failed", Fields{"key": sk, "err": err})
		}

		c.refetchMu.Lock()
		if !run.again || run.ctx.Err() != nil {
			if c.inflight[sk] == run {
				delete(c.inflight, sk)
			}
			c.refetchMu.Unlock()
			return
		}
		run.again = false
		c.refetchMu.Unlock()
	}
}
