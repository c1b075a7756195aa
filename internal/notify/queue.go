package notify

import (
	"context"
	"sync"
)

// Publisher is the producer side of the notification channel.
type Publisher interface {
	Publish(rec Record)
}

// Queue is an unbounded FIFO of records with any number of producers and a
// single consumer. Publish never blocks, so the store engine keeps its place
// in the command order no matter how slow delivery is.
type Queue struct {
	mu     sync.Mutex
	items  []Record
	signal chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Publish appends rec.
func (q *Queue) Publish(rec Record) {
	q.mu.Lock()
	q.items = append(q.items, rec)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryNext pops the oldest record without waiting.
func (q *Queue) TryNext() (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Record{}, false
	}
	rec := q.items[0]
	q.items[0] = Record{}
	q.items = q.items[1:]
	return rec, true
}

// Next blocks until a record is available or ctx is done.
func (q *Queue) Next(ctx context.Context) (Record, error) {
	for {
		if rec, ok := q.TryNext(); ok {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
