// Package ringbuf provides the two containers the detector needs: a
// fixed-capacity ring that evicts its oldest element on overflow, and an
// unbounded FIFO queue.
//
// Neither type is safe for concurrent use.
package ringbuf

// Ring is a fixed-capacity FIFO backed by a single array. Pushing into a
// full ring overwrites the oldest element. The zero value is unusable; create
// rings with [NewRing].
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	n    int
}

// NewRing returns an empty ring holding at most capacity elements.
// capacity must be at least 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		panic("ringbuf: capacity must be at least 1")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v as the newest element, overwriting the oldest when the ring
// is full.
func (r *Ring[T]) Push(v T) {
	if r.n == len(r.buf) {
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns a pointer to the i-th element counted from the oldest. The
// pointer stays valid until the slot is overwritten or the ring is cleared.
func (r *Ring[T]) At(i int) *T {
	if i < 0 || i >= r.n {
		panic("ringbuf: index out of range")
	}
	return &r.buf[(r.head+i)%len(r.buf)]
}

// Clear drops every element and releases references held by the backing
// array.
func (r *Ring[T]) Clear() {
	clear(r.buf)
	r.head = 0
	r.n = 0
}
