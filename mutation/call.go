package mutation

import (
	"context"
	"errors"
	"sync"
)

type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var ErrPending = errors.New("mutation: call still pending")

// Call is one invocation of a mutation.
type Call[O any] struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	status Status
	out    O
	err    error
}

func newCall[O any]() *Call[O] {
	return &Call[O]{done: make(chan struct{}), status: StatusPending, cancel: func() {}}
}

func (c *Call[O]) finish(out O, err error, st Status) {
	c.mu.Lock()
	c.out, c.err, c.status = out, err, st
	c.mu.Unlock()
	close(c.done)
}

// Done is closed once the call finished and its callbacks returned.
func (c *Call[O]) Done() <-chan struct{} { return c.done }

// Wait blocks until the call finishes or ctx is done.
func (c *Call[O]) Wait(ctx context.Context) (O, error) {
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		var zero O
		return zero, ctx.Err()
	}
}

// Result returns the outcome, or ErrPending while the call runs.
func (c *Call[O]) Result() (O, error) {
	select {
	case <-c.done:
	default:
		var zero O
		return zero, ErrPending
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out, c.err
}

func (c *Call[O]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Cancel abandons the call: the remote request is cancelled and no callback
// runs.
func (c *Call[O]) Cancel() { c.cancel() }
