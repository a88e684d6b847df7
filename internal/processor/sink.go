package processor

import (
	"github.com/telaminai/mongoose/internal/events"
)

// Sink hosts an accept-function as a processor: it subscribes to its
// configured sources on start and forwards each payload, optionally
// mapped, to the accept callback. Envelopes are shed so the sink sees the
// underlying value.
type Sink struct {
	Base
	accept func(value any)
	mapper func(value any) any
	keys   []events.SubscriptionKey
}

// NewSink constructs a sink named name delivering into accept. mapper may
// be nil for identity; keys lists the subscriptions taken out on start.
func NewSink(name string, accept func(value any), mapper func(value any) any, keys ...events.SubscriptionKey) *Sink {
	return &Sink{
		Base:   NewBase(name),
		accept: accept,
		mapper: mapper,
		keys:   keys,
	}
}

// Start subscribes the sink to its configured sources.
func (s *Sink) Start() error {
	if err := s.Base.Start(); err != nil {
		return err
	}
	feed := s.EventFeed()
	if feed == nil {
		return nil
	}
	for _, key := range s.keys {
		if err := feed.Subscribe(key); err != nil {
			return err
		}
	}
	return nil
}

// OnEvent maps and forwards the event's payload.
func (s *Sink) OnEvent(event any) error {
	if s.accept == nil {
		return nil
	}
	value := events.WrappedPayload(event)
	if s.mapper != nil {
		value = s.mapper(value)
	}
	s.accept(value)
	return nil
}
