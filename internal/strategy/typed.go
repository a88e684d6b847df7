package strategy

import (
	"errors"
	"time"

	"github.com/telaminai/mongoose/internal/processor"
)

// ErrFallthrough may be returned by a typed dispatch function to indicate
// the payload did not match the typed entry point; the strategy then falls
// back to the processor's generic OnEvent.
var ErrFallthrough = errors.New("strategy: typed dispatch fell through")

// Typed dispatches only to processors implementing a given capability.
// isValid gates registration (non-matching processors are tracked for
// listener counting but never invoked); dispatch calls the capability's
// typed method.
type Typed struct {
	roster
	slot     *processor.ActiveSlot
	isValid  func(processor.Processor) bool
	dispatch func(event any, p processor.Processor) error
}

// NewTyped constructs a typed-interface strategy. isValid reports whether a
// processor implements the target capability; dispatch invokes the typed
// method and may return ErrFallthrough for payloads it does not recognise.
func NewTyped(slot *processor.ActiveSlot, isValid func(processor.Processor) bool, dispatch func(event any, p processor.Processor) error) *Typed {
	return &Typed{slot: slot, isValid: isValid, dispatch: dispatch}
}

// TypedFactory builds a Factory closing over the capability check and typed
// dispatch function, for registration with the flow manager under a typed
// callback tag.
func TypedFactory(isValid func(processor.Processor) bool, dispatch func(event any, p processor.Processor) error) Factory {
	return func(slot *processor.ActiveSlot) Invocation {
		return NewTyped(slot, isValid, dispatch)
	}
}

// IsValidTarget reports whether p is eligible for typed dispatch.
func (s *Typed) IsValidTarget(p processor.Processor) bool {
	return s.isValid == nil || s.isValid(p)
}

// ProcessEvent dispatches event to every eligible registered processor,
// falling back to OnEvent when the typed entry declines the payload.
func (s *Typed) ProcessEvent(event any) error {
	return s.processEach(event, nil)
}

// ProcessEventAt dispatches like ProcessEvent, installing at on each
// clock-holding processor for the duration of its invocation.
func (s *Typed) ProcessEventAt(event any, at time.Time) error {
	return s.processEach(event, &at)
}

func (s *Typed) processEach(event any, at *time.Time) error {
	for _, p := range s.procs {
		if !s.IsValidTarget(p) {
			continue
		}
		target := p
		if err := invoke(s.slot, target, func() error {
			if at != nil {
				if holder, ok := target.(processor.ClockHolder); ok {
					prev := holder.ProcessorClock().Install(*at)
					defer holder.ProcessorClock().Restore(prev)
				}
			}
			err := s.dispatchOne(event, target)
			if errors.Is(err, ErrFallthrough) {
				return target.OnEvent(event)
			}
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Typed) dispatchOne(event any, p processor.Processor) error {
	if s.dispatch == nil {
		return ErrFallthrough
	}
	return s.dispatch(event, p)
}

// RegisterProcessor adds p; double registration is a no-op.
func (s *Typed) RegisterProcessor(p processor.Processor) { s.register(p) }

// DeregisterProcessor removes p if present.
func (s *Typed) DeregisterProcessor(p processor.Processor) { s.deregister(p) }

// Count reports the number of registered processors.
func (s *Typed) Count() int { return s.count() }
