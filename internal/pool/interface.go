// Package pool implements a partitioned, channel-backed free list with
// per-instance reference counting via Tracker, eliminating allocation on
// the hot dispatch path.
package pool

// Trackable is implemented by objects managed by a Pool. Reset clears an
// instance's state before it re-enters circulation.
type Trackable interface {
	Reset()
}

// PoolAware is implemented by Trackable objects that carry their own
// Tracker, letting any code holding just the payload value resolve its
// pool-reference-counting state (glossary: "pool-aware").
type PoolAware interface {
	Trackable
	SetTracker(*Tracker)
	GetTracker() *Tracker
}

// Tracked is an embeddable helper implementing the tracker half of
// PoolAware; embedders still implement Reset() themselves.
type Tracked struct {
	tracker *Tracker
}

// SetTracker installs the instance's Tracker. Called once by the owning
// Pool on first construction.
func (t *Tracked) SetTracker(tr *Tracker) { t.tracker = tr }

// GetTracker returns the instance's Tracker, or nil if it was never bound
// to a pool.
func (t *Tracked) GetTracker() *Tracker { return t.tracker }

// TrackerOf resolves v's Tracker if it is pool-aware, or nil otherwise.
func TrackerOf(v any) *Tracker {
	pa, ok := v.(PoolAware)
	if !ok || pa == nil {
		return nil
	}
	return pa.GetTracker()
}
