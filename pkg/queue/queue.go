package queue

import "sync"

// Queue is a bounded FIFO buffer shared between producers and a single
// consumer. When the queue is full, pushing evicts the oldest droppable
// item instead of blocking. Items the droppable predicate rejects are
// never evicted; they may briefly grow the queue past its capacity so
// that critical items are not lost.
type Queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	items     []interface{}
	capacity  int
	droppable func(item interface{}) bool
	closed    bool
}

// NewQueue creates a queue with the given capacity. The droppable
// predicate decides which items may be evicted on overflow; a nil
// predicate means nothing is droppable.
func NewQueue(capacity int, droppable func(item interface{}) bool) *Queue {
	if droppable == nil {
		droppable = func(interface{}) bool { return false }
	}
	q := &Queue{
		capacity:  capacity,
		droppable: droppable,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item, evicting the oldest droppable item if the queue
// is full. It reports whether an item was evicted. Pushing to a closed
// queue is a no-op.
func (q *Queue) Push(item interface{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	dropped := false
	if len(q.items) >= q.capacity {
		for i, pending := range q.items {
			if q.droppable(pending) {
				q.items = append(q.items[:i], q.items[i+1:]...)
				dropped = true
				break
			}
		}
	}

	q.items = append(q.items, item)
	q.cond.Signal()
	return dropped
}

// Pop removes and returns the item at the front of the queue, blocking
// until an item is available. It returns false once the queue is closed.
func (q *Queue) Pop() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.closed {
		return nil, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close discards pending items and wakes the consumer.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}
