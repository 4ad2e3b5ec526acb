package connector

import (
	"context"
	"fmt"

	"github.com/R3E-Network/remote_connector/internal/logging"
)

// Future is the deferred result of a remote call. It settles exactly once.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// settled returns a future that already holds v and err.
func settled[T any](v T, err error) *Future[T] {
	f := newFuture[T]()
	f.settle(v, err)
	return f
}

func (f *Future[T]) settle(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then calls fn with the outcome on its own goroutine once the future settles.
func (f *Future[T]) Then(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.val, f.err)
	}()
}

// PendingCall is the normalized form of one invocation's call options.
type PendingCall struct {
	Operation string
	Options   map[string]any
	Headers   map[string]string
	callback  any
}

// HasCallback reports whether a completion callback was supplied.
func (p *PendingCall) HasCallback() bool {
	return p.callback != nil
}

// CallOption customizes one call.
type CallOption func(*PendingCall)

// Done delivers the outcome of the call to fn, asynchronously and exactly
// once. T must match the result type of the operation it is passed to;
// otherwise fn is never called, nothing is sent, the returned future fails
// with ErrCallbackType and the mismatch is logged at error level.
func Done[T any](fn func(T, error)) CallOption {
	return func(p *PendingCall) {
		if fn != nil {
			p.callback = fn
		}
	}
}

// WithOptions merges opts into the options bag sent with the call.
func WithOptions(opts map[string]any) CallOption {
	return func(p *PendingCall) {
		if len(opts) == 0 {
			return
		}
		if p.Options == nil {
			p.Options = make(map[string]any, len(opts))
		}
		for k, v := range opts {
			p.Options[k] = v
		}
	}
}

// WithHeader sets an HTTP header on the call's request.
func WithHeader(name, value string) CallOption {
	return func(p *PendingCall) {
		if p.Headers == nil {
			p.Headers = make(map[string]string)
		}
		p.Headers[name] = value
	}
}

func newPendingCall(operation string, opts []CallOption) *PendingCall {
	p := &PendingCall{Operation: operation}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// run executes fn once on its own goroutine and returns its future. A
// callback supplied through Done is attached to that same future.
func run[T any](ctx context.Context, log *logging.Logger, operation string, opts []CallOption, fn func(context.Context, *PendingCall) (T, error)) *Future[T] {
	call := newPendingCall(operation, opts)

	var cb func(T, error)
	if call.callback != nil {
		typed, ok := call.callback.(func(T, error))
		if !ok {
			var zero T
			err := fmt.Errorf("%w: %s delivers %T, got %T", ErrCallbackType, operation, zero, call.callback)
			log.WithContext(ctx).WithField("operation", operation).WithError(err).Error("callback not called")
			return settled(zero, err)
		}
		cb = typed
	}

	f := newFuture[T]()
	go func() {
		v, err := fn(ctx, call)
		f.settle(v, err)
	}()
	if cb != nil {
		f.Then(cb)
	}
	return f
}
