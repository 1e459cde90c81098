// Package ring implements a fixed-capacity circular buffer.
//
// It is the shared building block behind the kernel's three bounded rings:
// the LSR deferred-work queue (full is a hard error, spec §4.2), and the
// event/error diagnostic buffers (full overwrites the oldest record, spec
// §6). The index bookkeeping (wraparound at the buffer length, explicit
// read/write cursors) follows the same shape as catrate's ringBuffer and eventloop's
// ChunkedIngress/MicrotaskRing from the teacher corpus, simplified down to
// a single fixed-size array since none of this kernel's rings grow.
package ring

import "golang.org/x/exp/constraints"

// Ring is a fixed-capacity circular buffer of T. It never reallocates.
type Ring[T any] struct {
	buf  []T
	r, w uint
	full bool
}

// New creates a Ring with the given capacity. Panics if capacity <= 0.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of queued elements.
func (r *Ring[T]) Len() int {
	if r.full {
		return len(r.buf)
	}
	if r.w >= r.r {
		return int(r.w - r.r)
	}
	return len(r.buf) - int(r.r-r.w)
}

func (r *Ring[T]) Empty() bool { return !r.full && r.r == r.w }

// PushReject appends v. Returns false without mutating the ring if it is
// already full — used by the LSR queue, where overflow is a hard error.
func (r *Ring[T]) PushReject(v T) bool {
	if r.full {
		return false
	}
	r.buf[r.w] = v
	r.w = r.advance(r.w)
	if r.w == r.r {
		r.full = true
	}
	return true
}

// PushEvict appends v, overwriting (and returning) the oldest element if
// the ring was already full — used by the diagnostic event/error buffers.
func (r *Ring[T]) PushEvict(v T) (evicted T, didEvict bool) {
	if r.full {
		evicted = r.buf[r.r]
		didEvict = true
		r.r = r.advance(r.r)
	}
	r.buf[r.w] = v
	r.w = r.advance(r.w)
	if r.w == r.r {
		r.full = true
	}
	return
}

// Pop removes and returns the oldest element.
func (r *Ring[T]) Pop() (v T, ok bool) {
	if r.Empty() {
		return v, false
	}
	v = r.buf[r.r]
	var zero T
	r.buf[r.r] = zero
	r.r = r.advance(r.r)
	r.full = false
	return v, true
}

// PushFrontReject prepends v, as if it had been pushed before every element
// already queued — used by Pipe's put-to-front mode (spec §4.7). Returns
// false without mutating the ring if it is already full.
func (r *Ring[T]) PushFrontReject(v T) bool {
	if r.full {
		return false
	}
	r.r = r.retreat(r.r)
	r.buf[r.r] = v
	if r.w == r.r {
		r.full = true
	}
	return true
}

// Clear discards every queued element and resets the ring to empty.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.r, r.w, r.full = 0, 0, false
}

func (r *Ring[T]) retreat(i uint) uint {
	if i == 0 {
		return uint(len(r.buf) - 1)
	}
	return i - 1
}

// Each calls fn for every queued element, oldest first.
func (r *Ring[T]) Each(fn func(v T)) {
	n := r.Len()
	i := r.r
	for k := 0; k < n; k++ {
		fn(r.buf[i])
		i = r.advance(i)
	}
}

func (r *Ring[T]) advance(i uint) uint {
	i++
	if int(i) == len(r.buf) {
		return 0
	}
	return i
}

// Index is a convenience constraint alias kept for callers that want a
// ring of ordered numeric IDs without pulling in a second generic bound;
// mirrors the constraints.Ordered/Integer split catrate uses.
type Index = constraints.Integer
