// internal/tone/queue.go
// Package tone turns timed elements into click-free sidetone audio.
//
// The producer side (Scheduler) runs with the keying pipeline; the consumer
// side (Renderer) runs in the audio callback. They share only a bounded
// single-producer/single-consumer Queue of tone-change instants and an
// atomic cancellation epoch, so the audio path never locks or allocates.
package tone

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrInvalidQueueSize indicates queue size must be a positive power of two
var ErrInvalidQueueSize = errors.New("queue size must be a positive power of two")

// Change is one tone on/off instant on the pipeline clock.
type Change struct {
	At    time.Time
	On    bool
	Epoch uint32
}

// Queue is a bounded lock-free SPSC ring. Exactly one goroutine may Push
// and exactly one may Peek/Pop.
type Queue struct {
	buf  []Change
	mask uint64

	head atomic.Uint64 // next slot to read, owned by the consumer
	tail atomic.Uint64 // next slot to write, owned by the producer
}

// NewQueue creates a queue holding size changes.
func NewQueue(size int) (*Queue, error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, ErrInvalidQueueSize
	}
	return &Queue{
		buf:  make([]Change, size),
		mask: uint64(size - 1),
	}, nil
}

// Push appends c, returning false without blocking when the ring is full.
func (q *Queue) Push(c Change) bool {
	t := q.tail.Load()
	if t-q.head.Load() == uint64(len(q.buf)) {
		return false
	}
	q.buf[t&q.mask] = c
	q.tail.Store(t + 1)
	return true
}

// Peek returns the oldest change without removing it.
func (q *Queue) Peek() (Change, bool) {
	h := q.head.Load()
	if h == q.tail.Load() {
		return Change{}, false
	}
	return q.buf[h&q.mask], true
}

// Pop removes and returns the oldest change.
func (q *Queue) Pop() (Change, bool) {
	h := q.head.Load()
	if h == q.tail.Load() {
		return Change{}, false
	}
	c := q.buf[h&q.mask]
	q.head.Store(h + 1)
	return c, true
}

// Len returns the number of queued changes.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap returns the ring capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}
