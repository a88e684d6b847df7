// Package processor defines the contracts between the dispatch fabric and
// the business-logic handlers it hosts: the processor interface, its
// lifecycle state machine, the replay-aware clock, and the agent-owned
// "current processor" slot used for re-entrant subscription resolution.
package processor

import (
	"github.com/telaminai/mongoose/errs"
	"github.com/telaminai/mongoose/internal/events"
)

// Processor is the opaque handle the fabric dispatches into. Every
// processor belongs to exactly one agent; all invocations happen on that
// agent's thread.
type Processor interface {
	Name() string
	OnEvent(event any) error
}

// Lifecycle is implemented by processors that want the agent-driven
// transitions INIT -> STARTED -> START_COMPLETE -> STOPPED -> TORN_DOWN.
// All methods run on the owning agent's thread.
type Lifecycle interface {
	Init() error
	Start() error
	StartComplete() error
	Stop() error
	TearDown() error
}

// Feed is the subscription surface the owning agent exposes to each of its
// processors. Calls are only valid from the agent's own thread (including
// re-entrantly from inside an event handler).
type Feed interface {
	Subscribe(key events.SubscriptionKey) error
	UnSubscribe(key events.SubscriptionKey) error
}

// FeedAware is implemented by processors that subscribe to event sources;
// the agent installs the bound feed before Start.
type FeedAware interface {
	SetEventFeed(feed Feed)
}

// ClockHolder is implemented by processors whose notion of time must honour
// replay timestamps installed by the invocation strategy.
type ClockHolder interface {
	ProcessorClock() *Clock
}

// Dependency declares one required service: the name it is registered
// under in the container and the assignment callback invoked with
// (instance, name) at registration time. This is the explicit capability
// table replacing annotated-setter discovery.
type Dependency struct {
	ServiceName string
	Assign      func(instance any, name string)
}

// ServiceConsumer is implemented by processors and services that need
// container-level services injected before Start.
type ServiceConsumer interface {
	Dependencies() []Dependency
}

// State is the processor lifecycle state machine position.
type State int

const (
	StateInit State = iota
	StateStarted
	StateStartComplete
	StateStopped
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStarted:
		return "STARTED"
	case StateStartComplete:
		return "START_COMPLETE"
	case StateStopped:
		return "STOPPED"
	case StateTornDown:
		return "TORN_DOWN"
	default:
		return "UNKNOWN"
	}
}

// Advance validates the transition from s to next. Only the forward edges
// of the lifecycle are legal.
func (s State) Advance(next State) (State, error) {
	if next == s+1 {
		return next, nil
	}
	return s, errs.New("processor", errs.CodeLifecycle,
		errs.WithMessage("invalid lifecycle transition"),
		errs.WithField("from", s.String()),
		errs.WithField("to", next.String()))
}

// ActiveSlot is the agent-owned mutable "current processor" slot. The
// invocation strategy sets it immediately before dispatch and clears it
// after; since the agent is single-threaded this is a plain field, not
// thread-local storage.
type ActiveSlot struct {
	current Processor
}

// Set installs p as the current processor for the duration of a dispatch or
// lifecycle transition.
func (s *ActiveSlot) Set(p Processor) { s.current = p }

// Clear resets the slot.
func (s *ActiveSlot) Clear() { s.current = nil }

// Current returns the processor a re-entrant call should resolve to, or nil
// outside any dispatch scope.
func (s *ActiveSlot) Current() Processor { return s.current }
