package gring

import (
	"iter"
)

// Fixed capacity FIFO ring. Once full every Push evicts
// the oldest element.
type Ring[T any] struct {
	l   int
	s   []T
	pos int
}

func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{
		l:   0,
		s:   make([]T, max(capacity, 1)),
		pos: 0,
	}
}

func (r *Ring[T]) Size() int { return r.l }
func (r *Ring[T]) Cap() int  { return len(r.s) }
func (r *Ring[T]) Full() bool {
	return r.l == len(r.s)
}

// Appends e. Returns the evicted element (if any) so the
// caller can release it.
func (r *Ring[T]) Push(e T) (evicted T, ok bool) {
	if r.Full() {
		evicted, ok = r.s[r.pos], true
	}
	r.s[r.pos] = e
	r.pos++
	if r.pos >= len(r.s) {
		r.pos = 0
	}
	if r.l < len(r.s) {
		r.l++
	}
	return
}

// Oldest element still in the ring
func (r *Ring[T]) Oldest() (T, bool) {
	var zero T
	if r.l == 0 {
		return zero, false
	}
	return r.s[r.index(r.l-1)], true
}

func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.l == 0 {
		return zero, false
	}
	return r.s[r.index(0)], true
}

// Removes every element, calling release on each
func (r *Ring[T]) Drain(release func(T)) {
	var zero T
	for e := range r.All() {
		if release != nil {
			release(e)
		}
	}
	for i := range r.s {
		r.s[i] = zero
	}
	r.l, r.pos = 0, 0
}

// Newest to oldest
func (r *Ring[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := range r.l {
			if !yield(r.s[r.index(i)]) {
				return
			}
		}
	}
}

// i steps back from the newest element
func (r *Ring[T]) index(i int) int {
	real_pos := r.pos - 1 - i
	if real_pos < 0 {
		real_pos += len(r.s)
	}
	return real_pos
}
