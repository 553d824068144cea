// Package mutation wraps a remote write with an optimistic cache patch.
//
// Invoke validates the input, applies the optimistic patch before returning,
// and issues the remote call in the background. On success the configured
// query prefixes are invalidated and OnSuccess runs; on failure the patch is
// reconciled per FailurePolicy and OnError runs. There is no automatic retry.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/apperr"
)

// FailurePolicy says what happens to an optimistic patch when the remote call
// fails.
type FailurePolicy int

const (
	// Rollback restores the values the patch replaced.
	Rollback FailurePolicy = iota
	// Refetch invalidates the patched keys; watched keys reload from the server.
	Refetch
	// Keep leaves the patch in place until something else invalidates it.
	Keep
)

func (p FailurePolicy) String() string {
	switch p {
	case Rollback:
		return "rollback"
	case Refetch:
		return "refetch"
	case Keep:
		return "keep"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// cleanupTimeout bounds cache work done after the caller's context is gone.
const cleanupTimeout = 5 * time.Second

type Options[I, O any] struct {
	// Name labels log lines; defaults to "mutation".
	Name string
	// Validate runs before anything else. Its error is returned on the call
	// as a validation error and the remote call is never issued.
	Validate func(in I) error
	// OptimisticUpdate patches the cache synchronously inside Invoke.
	OptimisticUpdate func(ctx context.Context, p *querykit.Patch, in I) error
	OnSuccess        func(out O, in I)
	OnError          func(err error, in I)
	// InvalidateQueries are prefixes invalidated after a successful call.
	InvalidateQueries []querykit.Key
	OnFailure         FailurePolicy
	Logger            querykit.Logger
}

type Mutation[I, O any] struct {
	cache querykit.Cache
	op    querykit.Operation[I, O]
	opts  Options[I, O]
	log   querykit.Logger

	mu     sync.Mutex
	latest *Call[O]
	wg     sync.WaitGroup
}

func New[I, O any](cache querykit.Cache, op querykit.Operation[I, O], opts Options[I, O]) (*Mutation[I, O], error) {
	if cache == nil {
		return nil, errors.New("mutation: cache is required")
	}
	if op == nil {
		return nil, errors.New("mutation: operation is required")
	}
	switch opts.OnFailure {
	case Rollback, Refetch, Keep:
	default:
		return nil, fmt.Errorf("mutation: unknown failure policy %v", opts.OnFailure)
	}
	for i, p := range opts.InvalidateQueries {
		if len(p) == 0 {
			return nil, fmt.Errorf("mutation: invalidate prefix %d: %w", i, querykit.ErrEmptyPrefix)
		}
		if _, err := querykit.NewKey(p...); err != nil {
			return nil, fmt.Errorf("mutation: invalidate prefix %d: %w", i, err)
		}
	}
	if opts.Name == "" {
		opts.Name = "mutation"
	}
	m := &Mutation[I, O]{cache: cache, op: op, opts: opts, log: opts.Logger}
	if m.log == nil {
		m.log = querykit.NopLogger{}
	}
	return m, nil
}

// Invoke starts one mutation. ctx bounds the caller's interest: once it is
// done the remote call is cancelled, no callback runs, and the patched keys
// are invalidated so the cache reloads server state. If the remote call had
// already succeeded, InvalidateQueries are invalidated as well.
func (m *Mutation[I, O]) Invoke(ctx context.Context, in I) *Call[O] {
	call := newCall[O]()
	m.mu.Lock()
	m.latest = call
	m.mu.Unlock()

	if m.opts.Validate != nil {
		if err := m.opts.Validate(in); err != nil {
			var zero O
			call.finish(zero, asValidation(err), StatusError)
			return call
		}
	}

	patch := querykit.NewPatch(m.cache)
	if m.opts.OptimisticUpdate != nil {
		if err := m.opts.OptimisticUpdate(ctx, patch, in); err != nil {
			m.log.Warn("optimistic update failed", querykit.Fields{"mutation": m.opts.Name, "err": err})
			m.rollback(ctx, patch)
			if m.opts.OnError != nil && ctx.Err() == nil {
				m.opts.OnError(err, in)
			}
			var zero O
			call.finish(zero, err, StatusError)
			return call
		}
	}

	callCtx, cancel := context.WithCancel(ctx)
	call.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx, callCtx, call, patch, in)
	return call
}

func (m *Mutation[I, O]) run(parent, ctx context.Context, call *Call[O], patch *querykit.Patch, in I) {
	defer m.wg.Done()
	defer call.cancel()

	out, err := m.op(ctx, in)

	if ctx.Err() != nil {
		keys := patch.Keys()
		if err == nil {
			// the write landed before the cancel was seen
			keys = append(keys, m.opts.InvalidateQueries...)
		}
		m.invalidateKeys(parent, keys)
		var zero O
		call.finish(zero, ctx.Err(), StatusCanceled)
		return
	}

	if err == nil {
		m.invalidateKeys(parent, m.opts.InvalidateQueries)
		if m.opts.OnSuccess != nil {
			m.opts.OnSuccess(out, in)
		}
		call.finish(out, nil, StatusSuccess)
		return
	}

	m.log.Debug("remote call failed", querykit.Fields{
		"mutation": m.opts.Name, "policy": m.opts.OnFailure.String(), "err": err,
	})
	switch m.opts.OnFailure {
	case Rollback:
		m.rollback(parent, patch)
	case Refetch:
		m.invalidateKeys(parent, patch.Keys())
	case Keep:
	}
	if m.opts.OnError != nil {
		m.opts.OnError(err, in)
	}
	var zero O
	call.finish(zero, err, StatusError)
}

func (m *Mutation[I, O]) rollback(parent context.Context, patch *querykit.Patch) {
	if patch.Len() == 0 {
		return
	}
	ctx, cancel := detached(parent)
	defer cancel()
	n, err := patch.Rollback(ctx)
	if err != nil {
		m.log.Error("rollback failed", querykit.Fields{"mutation": m.opts.Name, "err": err})
		// leave the keys stale so they reload
		m.invalidateKeys(parent, patch.Keys())
		return
	}
	m.log.Debug("rolled back optimistic patch", querykit.Fields{"mutation": m.opts.Name, "restored": n})
}

func (m *Mutation[I, O]) invalidateKeys(parent context.Context, keys []querykit.Key) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := detached(parent)
	defer cancel()
	for _, k := range keys {
		if err := m.cache.Invalidate(ctx, k); err != nil {
			m.log.Error("invalidate failed", querykit.Fields{
				"mutation": m.opts.Name, "prefix": k.String(), "err": err,
			})
		}
	}
}

// Status reports the state of the latest call.
func (m *Mutation[I, O]) Status() Status {
	m.mu.Lock()
	c := m.latest
	m.mu.Unlock()
	if c == nil {
		return StatusIdle
	}
	return c.Status()
}

func (m *Mutation[I, O]) IsPending() bool { return m.Status() == StatusPending }

// Err returns the error of the latest call, if it failed.
func (m *Mutation[I, O]) Err() error {
	m.mu.Lock()
	c := m.latest
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until every started call has finished.
func (m *Mutation[I, O]) Wait() { m.wg.Wait() }

func detached(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), cleanupTimeout)
}

func asValidation(err error) error {
	if apperr.KindOf(err) == apperr.KindValidation {
		return err
	}
	return apperr.Wrap(apperr.KindValidation, "invalid input", err)
}
