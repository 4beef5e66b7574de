package recorder

import (
	"context"
	"sync"
)

// Future is a value set at most once and read any number of times from any
// goroutine.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Set resolves the future. Only the first call has an effect; it reports
// whether this call resolved it.
func (f *Future[T]) Set(v T) bool {
	set := false
	f.once.Do(func() {
		f.val = v
		set = true
		close(f.done)
	})
	return set
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Value returns the value without blocking. ok is false while unresolved.
func (f *Future[T]) Value() (v T, ok bool) {
	select {
	case <-f.done:
		return f.val, true
	default:
		return v, false
	}
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
