package asynchook

import (
	"sync"
	"testing"

	"github.com/bountydotnew/querykit"
)

type countHooks struct {
	querykit.NopHooks
	mu    sync.Mutex
	n     int
	block chan struct{}
}

func (c *countHooks) Invalidated(string, int) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func TestEventsAreDeliveredBeforeClose(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	for i := 0; i < 10; i++ {
		h.Invalidated("bounties", 1)
	}
	h.Close()
	if inner.n != 10 {
		t.Fatalf("delivered %d events, want 10", inner.n)
	}
}

func TestFullQueueDrops(t *testing.T) {
	inner := &countHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)
	// worker takes the first event and blocks; second fills the queue
	h.Invalidated("a", 1)
	for h.Dropped() == 0 {
		h.Invalidated("a", 1)
	}
	close(inner.block)
	h.Close()
	if h.Dropped() == 0 {
		t.Fatalf("expected dropped events")
	}

	d := h.Dropped()
	h.Invalidated("after-close", 0)
	if h.Dropped() != d+1 {
		t.Fatalf("event after close should be dropped")
	}
}
