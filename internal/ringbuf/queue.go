package ringbuf

// Queue is an unbounded FIFO. The zero value is an empty queue.
type Queue[T any] struct {
	items []T
	head  int
}

// Push appends v to the back of the queue.
func (q *Queue[T]) Push(v T) {
	q.items = append(q.items, v)
}

// Pop removes and returns the front element. ok is false when the queue is
// empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	if q.head == len(q.items) {
		return v, false
	}
	v = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return v, true
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int { return len(q.items) - q.head }
