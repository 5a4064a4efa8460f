// Package bridge turns engine operations that complete on their own goroutine
// into blocking calls. Drive is the only place the rest of the module waits on
// the engine.
package bridge

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc/panics"
)

// ErrNilFuture is returned by Drive when handed a nil future.
var ErrNilFuture = errors.New("bridge: nil future")

// Future is the pending result of an engine operation.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
	pc    panics.Catcher
}

// Go starts fn on a new goroutine and returns its Future. A panic in fn is
// captured and re-raised by Drive on the waiting goroutine.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.pc.Try(func() {
			f.value, f.err = fn(ctx)
		})
	}()
	return f
}

// Resolved returns an already completed Future.
func Resolved[T any](value T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), value: value, err: err}
	close(f.done)
	return f
}

// Done is closed once the operation has returned or panicked.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Drive blocks until f completes and returns its value or error unchanged.
// The operation is never abandoned: cancellation is the operation's concern
// through the context it was started with.
//
// If the operation panicked, Drive panics with a *panics.Recovered whose
// Value is the original panic value and whose Stack is the stack of the
// goroutine that panicked.
func Drive[T any](f *Future[T]) (T, error) {
	if f == nil {
		var zero T
		return zero, ErrNilFuture
	}
	<-f.done
	f.pc.Repanic()
	return f.value, f.err
}

// Run is Go followed by Drive.
func Run[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	return Drive(Go(ctx, fn))
}
