// Package audit keeps append-only, size-bounded records of security
// decisions for monitoring: blocked path transitions and signing decisions.
// Buffers are in-memory rings; an optional Elasticsearch mirror and SNS/SES
// alerting fan out fire-and-forget.
package audit

import "sync"

// Ring is a fixed-capacity append-only buffer. When full, the oldest entry
// is evicted.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	start int
	size  int
}

// NewRing creates a ring holding at most capacity entries.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append adds an entry, evicting the oldest when full.
func (r *Ring[T]) Append(entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.size) % len(r.buf)
	r.buf[idx] = entry
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.start = (r.start + 1) % len(r.buf)
	}
}

// Snapshot returns the entries oldest-first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Len reports the number of held entries.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
