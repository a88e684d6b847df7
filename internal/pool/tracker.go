package pool

import (
	"sync/atomic"

	"github.com/telaminai/mongoose/errs"
)

// Tracker is the per-instance pooling state: the owning pool, a live
// reference count, and the one-shot returned flag. refCount never goes
// negative.
type Tracker struct {
	pool     *Pool
	typeName string
	home     int
	instance Trackable

	refCount atomic.Int64
	returned atomic.Bool
}

func newTracker(owner *Pool, typeName string, home int, instance Trackable) *Tracker {
	t := &Tracker{pool: owner, typeName: typeName, home: home, instance: instance}
	t.refCount.Store(1)
	return t
}

// reactivate re-arms the tracker for a fresh acquisition cycle: refCount
// resets to 1 (the owner's reference) and returned clears.
func (t *Tracker) reactivate() {
	t.refCount.Store(1)
	t.returned.Store(false)
}

// AcquireReference registers a new holder of the instance. Fails with
// INVALID_STATE if the instance has already been returned to the pool.
func (t *Tracker) AcquireReference() error {
	if t.returned.Load() {
		return errs.New("pool", errs.CodeInvalidState, errs.WithMessage("acquireReference after returnToPool"), errs.WithField("type", t.typeName))
	}
	t.refCount.Add(1)
	return nil
}

// ReleaseReference drops one holder's reference. Once returned, further
// calls are a tolerated no-op; otherwise underflow below zero surfaces as
// INVALID_STATE and the decrement is reverted.
func (t *Tracker) ReleaseReference() error {
	if t.returned.Load() {
		return nil
	}
	if next := t.refCount.Add(-1); next < 0 {
		t.refCount.Add(1)
		return errs.New("pool", errs.CodeInvalidState, errs.WithMessage("releaseReference underflow"), errs.WithField("type", t.typeName))
	}
	return nil
}

// ReturnToPool returns the instance to its owning pool iff refCount has
// reached zero and the one-shot returned flag can be set. Otherwise it is
// a no-op: another holder will return the instance when it reaches zero.
func (t *Tracker) ReturnToPool() {
	if t.refCount.Load() != 0 {
		return
	}
	if t.returned.CompareAndSwap(false, true) {
		t.pool.release(t)
	}
}

// RefCount reports the current live-reference count.
func (t *Tracker) RefCount() int64 { return t.refCount.Load() }

// Returned reports whether the instance has been returned to its pool.
func (t *Tracker) Returned() bool { return t.returned.Load() }
