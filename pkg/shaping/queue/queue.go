package queue

import (
	"github.com/vnykmshr/goshaper/pkg/common/validation"
)

// Stats holds counters describing queue activity.
type Stats struct {
	// Pushed is the number of values accepted by Push.
	Pushed int64

	// Popped is the number of values removed by Pop.
	Popped int64

	// Rejected is the number of Push calls refused because the queue was full.
	Rejected int64

	// Cleared is the number of values removed by Clear.
	Cleared int64

	// HighWater is the largest length the queue has reached.
	HighWater int

	// Utilization is the current length divided by capacity (0.0 to 1.0).
	Utilization float64
}

// Queue is a bounded FIFO backed by a fixed ring buffer. Push never grows
// the buffer; a full queue refuses new values and leaves existing ones
// untouched.
//
// Queue is not safe for concurrent use.
type Queue[T any] struct {
	buffer []T
	head   int
	tail   int
	count  int
	stats  Stats
}

// New creates a queue holding at most capacity values.
func New[T any](capacity int) (*Queue[T], error) {
	if err := validation.ValidatePositive("queue", "capacity", capacity); err != nil {
		return nil, err
	}
	return &Queue[T]{
		buffer: make([]T, capacity),
	}, nil
}

// Push appends value at the tail. It returns false, leaving the queue
// unchanged, when the queue is full.
func (q *Queue[T]) Push(value T) bool {
	if q.count >= len(q.buffer) {
		q.stats.Rejected++
		return false
	}

	q.buffer[q.tail] = value
	q.tail = (q.tail + 1) % len(q.buffer)
	q.count++
	q.stats.Pushed++
	if q.count > q.stats.HighWater {
		q.stats.HighWater = q.count
	}
	return true
}

// Pop removes and returns the value at the head.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}

	value := q.buffer[q.head]
	q.buffer[q.head] = zero // release reference
	q.head = (q.head + 1) % len(q.buffer)
	q.count--
	q.stats.Popped++
	return value, true
}

// Peek returns the value at the head without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	return q.buffer[q.head], true
}

// Clear removes every value in FIFO order, passing each to fn when fn is
// non-nil, and returns how many were removed.
func (q *Queue[T]) Clear(fn func(T)) int {
	n := 0
	for q.count > 0 {
		value, _ := q.Pop()
		q.stats.Popped--
		q.stats.Cleared++
		n++
		if fn != nil {
			fn(value)
		}
	}
	q.head, q.tail = 0, 0
	return n
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return len(q.buffer)
}

// Full reports whether Push would be refused.
func (q *Queue[T]) Full() bool {
	return q.count >= len(q.buffer)
}

// Empty reports whether the queue holds no values.
func (q *Queue[T]) Empty() bool {
	return q.count == 0
}

// Stats returns a snapshot of queue counters.
func (q *Queue[T]) Stats() Stats {
	stats := q.stats
	stats.Utilization = float64(q.count) / float64(len(q.buffer))
	return stats
}
