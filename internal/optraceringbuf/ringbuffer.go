// Package optraceringbuf provides a fixed-capacity ring buffer used for the
// tracker's completed-operation history.
package optraceringbuf

import "sync"

// RingBuffer holds the most recent capacity values. Add evicts the oldest
// value once full. Walk visits values newest-first.
type RingBuffer[T any] struct {
	mtx sync.Mutex
	buf []T  // fully allocated at construction
	cur int  // index for next write, walk backwards to read
	len int  // count of actual values
}

// NewRingBuffer returns a ring buffer of the given capacity.
func NewRingBuffer[T any](cap int) *RingBuffer[T] {
	return &RingBuffer[T]{
		buf: make([]T, cap),
	}
}

// Add stores the value, reporting the evicted value (if any).
func (rb *RingBuffer[T]) Add(v T) (evicted T, ok bool) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	if cap(rb.buf) <= 0 {
		return evicted, false
	}

	if rb.len == len(rb.buf) {
		evicted, ok = rb.buf[rb.cur], true
	}

	rb.buf[rb.cur] = v

	if rb.len < len(rb.buf) {
		rb.len += 1
	}

	rb.cur += 1
	if rb.cur >= len(rb.buf) {
		rb.cur -= len(rb.buf)
	}

	return evicted, ok
}

// Walk visits stored values newest-first, stopping early if f returns an
// error.
func (rb *RingBuffer[T]) Walk(f func(T) error) error {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	for i := 0; i < rb.len; i++ {
		cur := rb.cur - 1 - i
		if cur < 0 {
			cur += len(rb.buf)
		}
		if err := f(rb.buf[cur]); err != nil {
			return err
		}
	}

	return nil
}

// Len returns the count of stored values.
func (rb *RingBuffer[T]) Len() int {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	return rb.len
}
