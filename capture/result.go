package capture

import (
	"context"
	"sync"

	"github.com/0xsequence/identity-verifier/proto"
)

// Result is a single-shot result channel. It resolves exactly once, with a value or an error;
// later resolutions fail with proto.ErrAlreadyResolved.
type Result[T any] struct {
	mu    sync.Mutex
	done  chan struct{}
	value T
	err   error
	set   bool
}

func NewResult[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{})}
}

func (r *Result[T]) Resolve(value T) error {
	return r.complete(value, nil)
}

func (r *Result[T]) Fail(err error) error {
	var zero T
	return r.complete(zero, err)
}

func (r *Result[T]) complete(value T, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set {
		return proto.ErrAlreadyResolved
	}
	r.value, r.err, r.set = value, err, true
	close(r.done)
	return nil
}

func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Resolved reports whether the result has been set.
func (r *Result[T]) Resolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set
}

// Wait blocks until the result resolves or ctx is done.
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Go runs fn in a goroutine and resolves the returned result with its return values.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Result[T] {
	r := NewResult[T]()
	go func() {
		v, err := fn(ctx)
		if err != nil {
			_ = r.Fail(err)
			return
		}
		_ = r.Resolve(v)
	}()
	return r
}
