// Package events defines the tagged event variants carried on target
// queues (raw values, named-feed envelopes, broadcast markers, and replay
// records) and the CallbackType/SubscriptionKey identity types used by the
// event flow manager.
package events

import "time"

// CallbackKind distinguishes the two dispatch-contract shapes a
// SubscriptionKey can carry.
type CallbackKind int

const (
	// CallbackKindGeneric is the singleton generic "on-event" tag.
	CallbackKindGeneric CallbackKind = iota
	// CallbackKindTyped is a class/interface reference tag.
	CallbackKindTyped
)

// CallbackType tags a dispatch contract. Equality is structural: two
// CallbackType values are equal iff Kind and TypeName match.
type CallbackType struct {
	Kind     CallbackKind
	TypeName string
}

// GenericCallbackType is the singleton generic "on-event" tag.
var GenericCallbackType = CallbackType{Kind: CallbackKindGeneric}

// TypedCallbackType builds a typed-interface callback tag identified by name
// (conventionally the Go interface type name the processor must implement).
func TypedCallbackType(typeName string) CallbackType {
	return CallbackType{Kind: CallbackKindTyped, TypeName: typeName}
}

// SubscriptionKey is the pair (SourceName, CallbackType), the primary key
// for per-queue invocation mapping.
type SubscriptionKey struct {
	SourceName   string
	CallbackType CallbackType
}

// WrapStrategy controls how the publisher packages values before enqueue.
type WrapStrategy int

const (
	SubscriptionNoWrap WrapStrategy = iota
	SubscriptionNamedEvent
	BroadcastNoWrap
	BroadcastNamedEvent
)

// SlowConsumerStrategy controls publisher behaviour when a target queue is
// full.
type SlowConsumerStrategy int

const (
	SlowConsumerBackoff SlowConsumerStrategy = iota
	SlowConsumerDisconnect
	SlowConsumerExitProcess
)

// NamedFeedEvent is the immutable envelope used for *_NAMED_EVENT wrap
// strategies: {sourceName, sequence, eventTimeMicros, payload}.
type NamedFeedEvent struct {
	SourceName      string
	Sequence        uint64
	EventTimeMicros int64
	Payload         any
}

// BroadcastEvent marks a payload for broadcast wrap strategies with no
// per-source envelope metadata.
type BroadcastEvent struct {
	Payload any
}

// ReplayRecord carries a payload alongside the wall-clock time that should
// be installed on the processor's clock for the duration of dispatch.
type ReplayRecord struct {
	Payload       any
	WallClockTime time.Time
}

// Unwrap resolves the effective dispatch payload and, for ReplayRecord,
// the associated timestamp: ReplayRecord -> (payload, time, true);
// BroadcastEvent and NamedFeedEvent -> (payload, zero, false), since only
// ReplayRecord carries an explicit timestamp; anything else is returned
// as-is.
func Unwrap(item any) (payload any, at time.Time, hasTime bool) {
	switch v := item.(type) {
	case ReplayRecord:
		return v.Payload, v.WallClockTime, true
	case *ReplayRecord:
		return v.Payload, v.WallClockTime, true
	case BroadcastEvent:
		return v.Payload, time.Time{}, false
	case *BroadcastEvent:
		return v.Payload, time.Time{}, false
	case NamedFeedEvent:
		return v.Payload, time.Time{}, false
	case *NamedFeedEvent:
		return v.Payload, time.Time{}, false
	default:
		return item, time.Time{}, false
	}
}

// WrappedPayload returns the payload an item wraps for tracker-resolution
// purposes: the wrapped payload for NamedFeedEvent, the replayed payload
// for ReplayRecord, and the item unchanged when it is not a recognised
// wrapper.
func WrappedPayload(item any) any {
	payload, _, _ := Unwrap(item)
	return payload
}
