package dfu

import (
	"context"
	"sync"
)

// Result is the value a Completion resolves with.
type Result struct {
	DeviceAddress string
	// Aborted is set when the session ended in a user-requested abort, or
	// when this is the result of an accepted abort request.
	Aborted bool
	// Message is advisory text, set for abort outcomes.
	Message string
}

// Completion is a single-resolution pending result. Only the coordinator
// settles it; the first settlement wins and later ones are no-ops.
type Completion struct {
	done chan struct{}
	once sync.Once

	result Result
	err    error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func resolvedCompletion(r Result) *Completion {
	c := newCompletion()
	c.resolve(r)
	return c
}

func rejectedCompletion(err error) *Completion {
	c := newCompletion()
	c.reject(err)
	return c
}

func (c *Completion) resolve(r Result) bool { return c.settle(r, nil) }

func (c *Completion) reject(err error) bool { return c.settle(Result{}, err) }

// settle stores the outcome and reports whether this call was the one that
// settled c.
func (c *Completion) settle(r Result, err error) bool {
	settled := false
	c.once.Do(func() {
		c.result = r
		c.err = err
		settled = true
		close(c.done)
	})
	return settled
}

// Done is closed once the completion has settled.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Settled reports whether the completion has settled.
func (c *Completion) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Result returns the resolved value without blocking. ok is false while
// the completion is pending; a rejected completion returns a zero Result.
func (c *Completion) Result() (r Result, ok bool) {
	if !c.Settled() {
		return Result{}, false
	}
	return c.result, true
}

// Err returns the rejection error, or nil while pending or when resolved.
func (c *Completion) Err() error {
	if !c.Settled() {
		return nil
	}
	return c.err
}

// Wait blocks until the completion settles or ctx ends. Cancelling ctx only
// stops the wait; it does not abort the update.
func (c *Completion) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
