package processor

import "time"

// Clock supplies a processor's wall-clock reading. During replay dispatch
// the invocation strategy installs the record's timestamp for the duration
// of the handler call; outside that window WallClock falls through to the
// real clock. Only touched from the owning agent's thread.
type Clock struct {
	override time.Time
	now      func() time.Time
}

// NewClock constructs a clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockAt constructs a clock backed by fn, for deterministic tests.
func NewClockAt(fn func() time.Time) *Clock {
	if fn == nil {
		fn = time.Now
	}
	return &Clock{now: fn}
}

// WallClock returns the installed replay time if one is active, otherwise
// the real time.
func (c *Clock) WallClock() time.Time {
	if !c.override.IsZero() {
		return c.override
	}
	return c.now()
}

// Install sets the replay override and returns the previous override so the
// caller can restore it after dispatch.
func (c *Clock) Install(at time.Time) time.Time {
	prev := c.override
	c.override = at
	return prev
}

// Restore reinstates a previously captured override (zero clears it).
func (c *Clock) Restore(prev time.Time) {
	c.override = prev
}
