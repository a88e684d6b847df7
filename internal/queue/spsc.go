// Package queue provides the bounded single-producer/single-consumer target
// queue hosting in-flight events for one consumer.
package queue

import (
	"sync/atomic"

	"github.com/telaminai/mongoose/errs"
)

// Target is a bounded SPSC ring of event references. Exactly one producer
// goroutine may call Offer and exactly one consumer goroutine may call Poll;
// any other use is undefined. Based on Lamport's ring buffer with cached
// index optimization: the producer caches the consumer's dequeue index and
// vice versa, reducing cross-core cache line traffic.
type Target struct {
	name string

	_          [7]uint64
	head       atomic.Uint64
	_          [7]uint64
	cachedTail uint64
	_          [7]uint64
	tail       atomic.Uint64
	_          [7]uint64
	cachedHead uint64
	_          [7]uint64

	buffer []any
	mask   uint64
}

// NewTarget constructs a queue named name whose capacity is capacity rounded
// up to the next power of two.
func NewTarget(name string, capacity int) (*Target, error) {
	if capacity < 2 {
		return nil, errs.New("queue", errs.CodeInvalidCapacity,
			errs.WithMessage("target queue capacity must be >= 2"),
			errs.WithField("queue", name))
	}
	n := roundToPow2(uint64(capacity))
	return &Target{
		name:   name,
		buffer: make([]any, n),
		mask:   n - 1,
	}, nil
}

// Offer appends item to the ring. Returns false when the queue is full.
// Producer side only.
func (q *Target) Offer(item any) bool {
	tail := q.tail.Load()
	if tail-q.cachedHead > q.mask {
		q.cachedHead = q.head.Load()
		if tail-q.cachedHead > q.mask {
			return false
		}
	}
	q.buffer[tail&q.mask] = item
	q.tail.Store(tail + 1)
	return true
}

// Poll removes and returns the oldest item, or (nil, false) when the queue
// is empty. Consumer side only.
func (q *Target) Poll() (any, bool) {
	head := q.head.Load()
	if head >= q.cachedTail {
		q.cachedTail = q.tail.Load()
		if head >= q.cachedTail {
			return nil, false
		}
	}
	item := q.buffer[head&q.mask]
	q.buffer[head&q.mask] = nil
	q.head.Store(head + 1)
	return item, true
}

// Depth reports the number of in-flight items. Safe to call from any
// goroutine; the value is a point-in-time estimate under concurrent use.
func (q *Target) Depth() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Capacity returns the ring's fixed capacity.
func (q *Target) Capacity() int { return int(q.mask + 1) }

// Name returns the queue's registered name.
func (q *Target) Name() string { return q.name }

func roundToPow2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}
