package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultQueueBound is the capacity used by [NewQueue] when bound <= 0.
const DefaultQueueBound = 100

// Queue is a bounded FIFO of envelopes. Enqueue blocks while the queue is
// full and Dequeue blocks while it is empty; both observe context
// cancellation. Dropping on overflow is not supported; backpressure
// propagates to producers instead.
//
// Safe for any number of concurrent producers and consumers.
type Queue struct {
	name  string
	bound int

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	items    []*Envelope
}

// NewQueue creates a queue with the given stable name (used in forwarding
// paths) and capacity bound.
func NewQueue(name string, bound int) *Queue {
	if bound <= 0 {
		bound = DefaultQueueBound
	}
	q := &Queue{name: name, bound: bound}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue's stable name.
func (q *Queue) Name() string { return q.name }

// Enqueue appends env, blocking while the queue is at capacity. It returns
// ctx.Err() if the context is cancelled before space becomes available.
func (q *Queue) Enqueue(ctx context.Context, env *Envelope) error {
	if env == nil {
		return fmt.Errorf("bus: queue %s: enqueue nil envelope", q.name)
	}

	// Wake waiters when the context is cancelled so they can observe it.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.bound {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("bus: queue %s: enqueue: %w", q.name, err)
		}
		q.notFull.Wait()
	}
	q.items = append(q.items, env)
	q.notEmpty.Signal()
	return nil
}

// Dequeue removes and returns the oldest envelope, blocking while the queue
// is empty. It returns ctx.Err() if the context is cancelled first.
func (q *Queue) Dequeue(ctx context.Context) (*Envelope, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("bus: queue %s: dequeue: %w", q.name, err)
		}
		q.notEmpty.Wait()
	}
	env := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return env, nil
}

// Len returns the number of envelopes currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Peek returns the oldest envelope without removing it, or nil when empty.
func (q *Queue) Peek() *Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Snapshot returns a copy of the current queue contents, oldest first.
// The envelopes themselves are shared; the slice is not.
func (q *Queue) Snapshot() []*Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Envelope, len(q.items))
	copy(out, q.items)
	return out
}

// Drain removes and returns everything currently queued, waiting up to
// timeout for at least one envelope when the queue starts empty. A zero
// timeout drains without waiting.
func (q *Queue) Drain(timeout time.Duration) []*Envelope {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && timeout > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		// Cond has no timed wait; poll in short slices so Drain cannot hang.
		q.mu.Unlock()
		time.Sleep(min(remaining, 10*time.Millisecond))
		q.mu.Lock()
	}
	out := q.items
	q.items = nil
	q.notFull.Broadcast()
	return out
}
