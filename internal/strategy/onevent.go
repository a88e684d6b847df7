package strategy

import (
	"time"

	"github.com/telaminai/mongoose/internal/processor"
)

// OnEvent is the generic strategy: every registered processor receives the
// payload through its uniform OnEvent entry. When a timestamp accompanies
// the event (replay), it is installed on the processor's clock for the
// duration of the call and restored after.
type OnEvent struct {
	roster
	slot *processor.ActiveSlot
}

// NewOnEvent constructs the generic on-event strategy bound to the owning
// agent's current-processor slot.
func NewOnEvent(slot *processor.ActiveSlot) *OnEvent {
	return &OnEvent{slot: slot}
}

// OnEventFactory is the Factory for the generic strategy; it is also the
// flow manager's fallback when a callback type has no registered factory.
func OnEventFactory(slot *processor.ActiveSlot) Invocation {
	return NewOnEvent(slot)
}

// ProcessEvent dispatches event to every registered processor in
// registration order. The first failure stops the loop and propagates to
// the reader to drive its retry policy.
func (s *OnEvent) ProcessEvent(event any) error {
	for _, p := range s.procs {
		target := p
		if err := invoke(s.slot, target, func() error {
			return target.OnEvent(event)
		}); err != nil {
			return err
		}
	}
	return nil
}

// ProcessEventAt dispatches like ProcessEvent but installs at on each
// clock-holding processor across its invocation.
func (s *OnEvent) ProcessEventAt(event any, at time.Time) error {
	for _, p := range s.procs {
		target := p
		if err := invoke(s.slot, target, func() error {
			holder, ok := target.(processor.ClockHolder)
			if !ok {
				return target.OnEvent(event)
			}
			prev := holder.ProcessorClock().Install(at)
			defer holder.ProcessorClock().Restore(prev)
			return target.OnEvent(event)
		}); err != nil {
			return err
		}
	}
	return nil
}

// RegisterProcessor adds p; a second registration of the same processor is
// a no-op.
func (s *OnEvent) RegisterProcessor(p processor.Processor) { s.register(p) }

// DeregisterProcessor removes p if present.
func (s *OnEvent) DeregisterProcessor(p processor.Processor) { s.deregister(p) }

// Count reports the number of registered processors.
func (s *OnEvent) Count() int { return s.count() }
