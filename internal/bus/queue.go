package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"tradesim/pkg/exception"
)

// Queue is a bounded in-memory queue drained by a single consumer.
//
// Publishers hold the read lock while sending so Close can close the channel
// safely. Close flags the queue and closes done first, which releases any
// publisher blocked on a full channel before the write lock is taken.
type Queue[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	done   chan struct{}
	closed atomic.Bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity), done: make(chan struct{})}
}

// TryPublish enqueues an item without blocking.
func (q *Queue[T]) TryPublish(item T) error {
	if q.closed.Load() {
		return exception.ErrQueueClosed
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Publish enqueues an item, waiting for room until ctx is done or the queue
// is closed.
func (q *Queue[T]) Publish(ctx context.Context, item T) error {
	if q.closed.Load() {
		return exception.ErrQueueClosed
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	case <-q.done:
		return exception.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Receive exposes the queue for consumers that select on other events too.
// The channel is closed by Close.
func (q *Queue[T]) Receive() <-chan T {
	return q.ch
}

// Close stops the queue from accepting new items. Items already queued are
// still delivered by Run.
func (q *Queue[T]) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	close(q.done)

	q.mu.Lock()
	defer q.mu.Unlock()
	close(q.ch)
}

// Run consumes items until the context is done or the queue is closed and
// drained.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-q.ch:
			if !ok {
				return
			}
			handler(item)
		}
	}
}
