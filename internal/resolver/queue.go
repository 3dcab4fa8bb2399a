package resolver

import (
	"context"
	"sync"
)

// cepQueue is a thread-safe FIFO queue of postal codes.
//
// Thread-safety covers concurrent dequeuing by pool workers while the
// pool fills the queue up front. The signal channel (buffered, size 1)
// coalesces wakeups and lets workers wait with context awareness
// instead of spinning.
type cepQueue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	signal chan struct{}
}

func newCEPQueue(capacity int) *cepQueue {
	return &cepQueue{
		items:  make([]string, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a postal code to the back of the queue.
// Returns false if the queue is closed.
func (q *cepQueue) Enqueue(cep string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, cep)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns ("", false) when the queue is empty.
func (q *cepQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return "", false
	}
	cep := q.items[0]
	q.items[0] = ""
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return cep, true
}

// Dequeue removes the front postal code, blocking until one is
// available, the queue is closed and drained, or ctx is done.
func (q *cepQueue) Dequeue(ctx context.Context) (string, bool) {
	for {
		if cep, ok := q.TryDequeue(); ok {
			return cep, true
		}

		q.mu.Lock()
		done := q.closed && len(q.items) == 0
		q.mu.Unlock()
		if done {
			// Cascade the wakeup so every other waiter also observes
			// the drained queue and exits.
			select {
			case q.signal <- struct{}{}:
			default:
			}
			return "", false
		}

		select {
		case <-q.signal:
		case <-ctx.Done():
			return "", false
		}
	}
}

// Close marks the queue closed. Waiting workers are woken so they can
// observe the drained state and exit.
func (q *cepQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of queued postal codes.
func (q *cepQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
