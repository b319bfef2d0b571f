package market

import "sync"

// growableQueue is an unbounded FIFO ring that doubles its capacity when it
// reaches 70% full. Push never blocks; Pop blocks until an item arrives or
// the queue is closed and drained.
type growableQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	size   int
	closed bool

	pushed  int64
	popped  int64
	resizes int
}

func newGrowableQueue[T any](capacity int) *growableQueue[T] {
	if capacity < 2 {
		capacity = 2
	}
	q := &growableQueue[T]{ring: make([]T, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Returns false once the queue is closed.
func (q *growableQueue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if (q.size+1)*100 >= len(q.ring)*70 {
		q.resize(len(q.ring) * 2)
	}

	q.ring[(q.head+q.size)%len(q.ring)] = item
	q.size++
	q.pushed++
	q.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking while the queue is empty and open.
// Returns false when the queue is closed and empty.
func (q *growableQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	q.popped++
	return item, true
}

// Close stops accepting items. Pending items can still be popped.
func (q *growableQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *growableQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// QueueStats describes the notification queue.
type QueueStats struct {
	Pending  int
	Capacity int
	Pushed   int64
	Popped   int64
	Resizes  int
}

func (q *growableQueue[T]) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending:  q.size,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Resizes:  q.resizes,
	}
}

// resize moves the live items to a new ring starting at index 0. Caller holds mu.
func (q *growableQueue[T]) resize(capacity int) {
	next := make([]T, capacity)
	for i := 0; i < q.size; i++ {
		next[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = next
	q.head = 0
	q.resizes++
}
