package pool

import "context"

// partition is one shard of a Pool's capacity: a bounded channel-backed
// free list. Objects are constructed lazily, up to the partition's share
// of capacity, then recycled through the channel for the life of the pool.
type partition struct {
	index    int
	capacity int
	free     chan Trackable
	created  atomicCounter
	factory  func() Trackable
	reset    func(Trackable)
	typeName string
	owner    *Pool
}

func newPartition(owner *Pool, index, capacity int, typeName string, factory func() Trackable, reset func(Trackable)) *partition {
	return &partition{
		index:    index,
		capacity: capacity,
		free:     make(chan Trackable, capacity),
		factory:  factory,
		reset:    reset,
		typeName: typeName,
		owner:    owner,
	}
}

// tryAcquire attempts a non-blocking pop from the free list; failing that,
// it lazily constructs a fresh instance if the partition has not yet
// reached its capacity share.
func (pt *partition) tryAcquire() (Trackable, bool) {
	select {
	case obj := <-pt.free:
		TrackerOf(obj).reactivate()
		pt.owner.debug.clear(obj)
		pt.owner.debug.recordAcquire(obj)
		return obj, true
	default:
	}
	if !pt.created.incrementBelow(int64(pt.capacity)) {
		return nil, false
	}
	obj := pt.factory()
	if obj == nil {
		pt.created.add(-1)
		panic("pool: factory returned nil instance for type " + pt.typeName)
	}
	tr := newTracker(pt.owner, pt.typeName, pt.index, obj)
	if pa, ok := obj.(PoolAware); ok {
		pa.SetTracker(tr)
	}
	obj.Reset()
	pt.owner.debug.recordAcquire(obj)
	return obj, true
}

// blockingAcquire waits for an instance to become available, honouring
// ctx cancellation. It never returns nil without an error.
func (pt *partition) blockingAcquire(ctx context.Context) (Trackable, error) {
	select {
	case obj := <-pt.free:
		TrackerOf(obj).reactivate()
		pt.owner.debug.clear(obj)
		pt.owner.debug.recordAcquire(obj)
		return obj, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release runs the optional reset hook (exceptions swallowed) and places
// the instance back on the free list, spilling over to a sibling partition
// on the rare race where this partition's channel is momentarily full.
func (pt *partition) release(obj Trackable) {
	if pt.reset != nil {
		func() {
			defer func() { _ = recover() }()
			pt.reset(obj)
		}()
	}
	obj.Reset()
	pt.owner.debug.poison(obj)
	pt.owner.debug.recordRelease(obj)
	select {
	case pt.free <- obj:
	default:
		pt.owner.spillover(pt.index, obj)
	}
}

func (pt *partition) available() int64 {
	return int64(len(pt.free))
}
