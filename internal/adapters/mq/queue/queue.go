// Package queue provides bounded in-memory queues joining pipeline stages.
package queue

import (
	"context"
	"sync"

	"github.com/okian/geoheat/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1024
	defaultName          = "events"
)

// Queue provides enqueue and channel-based dequeue semantics for items of type T.
type Queue[T any] interface {
	// Enqueue adds an item without blocking.
	// Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, item T) bool

	// Put adds an item, blocking while the queue is full.
	// Returns ErrClosed after Close, or the context error on cancellation.
	Put(ctx context.Context, item T) error

	// Dequeue returns a channel that will receive items as they become available.
	// The channel will be closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	// Close stops accepting items. Items already queued are still delivered.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	items    chan T
	capacity int
	name     string
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	cfg := config{
		capacity: defaultQueueCapacity,
		name:     defaultName,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	q := &InMemoryQueue[T]{
		items:    make(chan T, cfg.capacity),
		capacity: cfg.capacity,
		name:     cfg.name,
	}

	metrics.UpdateQueueCapacity(q.name, q.capacity)
	metrics.UpdateQueueSize(q.name, 0)

	return q
}

// Name returns the stage label used for metrics.
func (q *InMemoryQueue[T]) Name() string {
	return q.name
}

// Capacity returns the maximum number of buffered items.
func (q *InMemoryQueue[T]) Capacity() int {
	return q.capacity
}

// Enqueue adds an item if there is room.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError(q.name)
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	select {
	case q.items <- item:
		metrics.RecordQueueEnqueue(q.name)
		metrics.UpdateQueueSize(q.name, len(q.items))
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError(q.name)
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError(q.name)
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Put adds an item, waiting for room. Close waits for in-flight Put calls.
func (q *InMemoryQueue[T]) Put(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError(q.name)
		return ErrClosed
	}

	select {
	case q.items <- item:
		metrics.RecordQueueEnqueue(q.name)
		metrics.UpdateQueueSize(q.name, len(q.items))
		return nil
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError(q.name)
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	}
}

// Dequeue returns a channel that will receive items as they become available.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for item := range q.items {
			select {
			case out <- item:
				metrics.RecordQueueDequeue(q.name)
				metrics.UpdateQueueSize(q.name, len(q.items))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued items.
func (q *InMemoryQueue[T]) Len(_ context.Context) int {
	size := len(q.items)
	metrics.UpdateQueueSize(q.name, size)
	return size
}

// Close stops accepting items; it is safe to call more than once.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.items)
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
