// Package ring provides a fixed-capacity circular buffer backed by a single
// preallocated arena. Writes are addressed by a monotonically increasing
// counter modulo the capacity; the buffer never grows.
package ring

// Ring is a fixed-capacity circular buffer. When full, a write overwrites the
// oldest element. The zero value is not usable; call New.
type Ring[T any] struct {
	buf     []T
	written uint64 // total number of writes since creation or Reset
	start   uint64 // write index of the oldest retained element
}

// New returns a Ring holding at most capacity elements. capacity below 1 is
// treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of retained elements.
func (r *Ring[T]) Len() int {
	return int(r.written - r.start)
}

// Written returns the total number of writes since creation or Reset.
func (r *Ring[T]) Written() uint64 { return r.written }

// Add appends every value in order, overwriting the oldest elements when the
// ring is full.
func (r *Ring[T]) Add(values ...T) {
	for _, v := range values {
		*r.Next() = v
	}
}

// Next claims the next slot and returns a pointer to it so callers can reuse
// the storage held there (slices owned by the previous occupant stay
// allocated). The slot keeps whatever the evicted element held.
func (r *Ring[T]) Next() *T {
	if r.Len() == len(r.buf) {
		r.start++
	}
	slot := &r.buf[r.written%uint64(len(r.buf))]
	r.written++
	return slot
}

// At returns a pointer to the i-th retained element, 0 being the oldest.
// It panics when i is out of range.
func (r *Ring[T]) At(i int) *T {
	if i < 0 || i >= r.Len() {
		panic("ring: index out of range")
	}
	return &r.buf[(r.start+uint64(i))%uint64(len(r.buf))]
}

// Oldest returns the oldest retained element, or false when empty.
func (r *Ring[T]) Oldest() (*T, bool) {
	if r.Len() == 0 {
		return nil, false
	}
	return r.At(0), true
}

// Newest returns the most recently written element, or false when empty.
func (r *Ring[T]) Newest() (*T, bool) {
	if r.Len() == 0 {
		return nil, false
	}
	return r.At(r.Len() - 1), true
}

// DropOldest removes the oldest retained element. It is a no-op when empty.
// The slot's storage is left in place for reuse by Next.
func (r *Ring[T]) DropOldest() {
	if r.Len() == 0 {
		return
	}
	r.start++
}

// Reset forgets all retained elements without releasing the arena.
func (r *Ring[T]) Reset() {
	r.written = 0
	r.start = 0
}
