package connection

import (
	"sync"
)

// queue is an unbounded FIFO used for the inbound event stream and the
// pre-connect outbox. The ring doubles its capacity when it reaches 70% full,
// so producers never block and never drop.
type queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // read position
	tail   int // write position
	count  int
	closed bool

	resizes int
}

func newQueue[T any](initialCapacity int) *queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &queue[T]{ring: make([]T, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends an item. Returns false if the queue is closed.
func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (len(q.ring) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.ring[q.tail] = item
	q.tail = (q.tail + 1) % len(q.ring)
	q.count++

	q.cond.Signal()
	return true
}

// pop blocks until an item is available or the queue is closed.
// Items pushed before close are still returned; false means closed and empty.
func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// drain removes and returns everything queued, oldest first.
func (q *queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	out := make([]T, 0, q.count)
	for q.count > 0 {
		out = append(out, q.take())
	}
	return out
}

// close stops further pushes and wakes blocked readers.
func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// take pops the head. Must be called with lock held and count > 0.
func (q *queue[T]) take() T {
	item := q.ring[q.head]
	var zero T
	q.ring[q.head] = zero // release reference for GC
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return item
}

// grow doubles the ring. Must be called with lock held.
func (q *queue[T]) grow() {
	ring := make([]T, len(q.ring)*2)
	if q.count > 0 {
		if q.head < q.tail {
			copy(ring, q.ring[q.head:q.tail])
		} else {
			n := copy(ring, q.ring[q.head:])
			copy(ring[n:], q.ring[:q.tail])
		}
	}
	q.ring = ring
	q.head = 0
	q.tail = q.count
	q.resizes++
}
