package processor

// Base carries the bookkeeping every hosted processor needs: name, clock,
// the agent-installed feed, and the lifecycle position. Embedders override
// OnEvent and whichever lifecycle hooks they care about.
type Base struct {
	name  string
	clock *Clock
	feed  Feed
	state State
}

// NewBase constructs the embeddable bookkeeping for a named processor.
func NewBase(name string) Base {
	return Base{name: name, clock: NewClock()}
}

// Name returns the processor's registered name.
func (b *Base) Name() string { return b.name }

// ProcessorClock exposes the replay-aware clock.
func (b *Base) ProcessorClock() *Clock { return b.clock }

// SetEventFeed installs the agent-bound subscription surface.
func (b *Base) SetEventFeed(feed Feed) { b.feed = feed }

// EventFeed returns the installed subscription surface, or nil before
// registration.
func (b *Base) EventFeed() Feed { return b.feed }

// LifecycleState reports the current lifecycle position.
func (b *Base) LifecycleState() State { return b.state }

// Transition advances the lifecycle, rejecting illegal edges.
func (b *Base) Transition(next State) error {
	s, err := b.state.Advance(next)
	if err != nil {
		return err
	}
	b.state = s
	return nil
}

// Init is a no-op default lifecycle hook; processors begin in INIT.
func (b *Base) Init() error { return nil }

// Start marks the processor STARTED.
func (b *Base) Start() error { return b.Transition(StateStarted) }

// StartComplete marks the processor START_COMPLETE.
func (b *Base) StartComplete() error { return b.Transition(StateStartComplete) }

// Stop marks the processor STOPPED.
func (b *Base) Stop() error { return b.Transition(StateStopped) }

// TearDown marks the processor TORN_DOWN.
func (b *Base) TearDown() error { return b.Transition(StateTornDown) }
