package agent

import (
	"strconv"

	"github.com/telaminai/mongoose/internal/events"
	"github.com/telaminai/mongoose/internal/observability"
	"github.com/telaminai/mongoose/internal/pool"
	"github.com/telaminai/mongoose/internal/processor"
	"github.com/telaminai/mongoose/internal/queue"
	"github.com/telaminai/mongoose/internal/retry"
	"github.com/telaminai/mongoose/internal/strategy"
)

// readBatchLimit bounds events processed per duty cycle so one busy queue
// cannot starve the agent's other sub-agents.
const readBatchLimit = 64

// Reader is the queue-to-processor sub-agent: it drains its target queue
// cooperatively, dispatches through its invocation strategy, applies the
// retry policy on failure, and releases pool references exactly once per
// event regardless of outcome. All methods run on the owning agent thread.
type Reader struct {
	key           events.SubscriptionKey
	queue         *queue.Target
	strat         strategy.Invocation
	roleName      string
	policy        retry.Policy
	onUnsubscribe func()
	unsubFired    bool
}

// NewReader constructs a reader for key over q. onUnsubscribe fires exactly
// once when the strategy's listener count drops to zero.
func NewReader(key events.SubscriptionKey, q *queue.Target, strat strategy.Invocation, roleName string, policy retry.Policy, onUnsubscribe func()) *Reader {
	return &Reader{
		key:           key,
		queue:         q,
		strat:         strat,
		roleName:      roleName,
		policy:        policy,
		onUnsubscribe: onUnsubscribe,
	}
}

// RoleName returns the reader's diagnostic role name.
func (r *Reader) RoleName() string { return r.roleName }

// Key returns the subscription key the reader serves.
func (r *Reader) Key() events.SubscriptionKey { return r.key }

// Queue exposes the reader's target queue for admin snapshots.
func (r *Reader) Queue() *queue.Target { return r.queue }

// Strategy exposes the reader's invocation strategy.
func (r *Reader) Strategy() strategy.Invocation { return r.strat }

// ListenerCount reports the number of processors registered on the
// strategy.
func (r *Reader) ListenerCount() int { return r.strat.Count() }

// RegisterProcessor registers p with the invocation strategy.
func (r *Reader) RegisterProcessor(p processor.Processor) {
	r.strat.RegisterProcessor(p)
}

// DeregisterProcessor removes p from the invocation strategy and fires
// onUnsubscribe once when the listener count transitions to zero.
func (r *Reader) DeregisterProcessor(p processor.Processor) {
	r.strat.DeregisterProcessor(p)
	if r.strat.Count() == 0 && !r.unsubFired {
		r.unsubFired = true
		if r.onUnsubscribe != nil {
			r.onUnsubscribe()
		}
	}
}

// DoWork polls up to the batch limit of events, dispatching each through
// the strategy with retry handling. Returns the number of events consumed
// (delivered or dropped), which doubles as the agent's work count.
func (r *Reader) DoWork() int {
	processed := 0
	for processed < readBatchLimit {
		item, ok := r.queue.Poll()
		if !ok {
			return processed
		}
		tracker := pool.TrackerOf(events.WrappedPayload(item))
		if tracker != nil {
			// Drop the queued reference the publisher added for this
			// consumer before dispatch.
			_ = tracker.ReleaseReference()
		}

		r.dispatchWithRetry(item)

		if tracker != nil {
			tracker.ReturnToPool()
		}
		processed++
	}
	return processed
}

// dispatchWithRetry invokes the strategy for item, retrying per the policy
// and reporting each failure; the event is dropped once retries exhaust.
func (r *Reader) dispatchWithRetry(item any) {
	attempts := 0
	for {
		attempts++
		err := r.dispatch(item)
		if err == nil {
			return
		}
		observability.Errors().Report(observability.ErrorEvent{
			Source:   r.roleName,
			Message:  "processor invocation failed on attempt " + strconv.Itoa(attempts),
			Err:      err,
			Severity: observability.SeverityWarning,
		})
		observability.Telemetry().IncCounter("reader_dispatch_failures", 1, map[string]string{"reader": r.roleName})
		if !r.policy.ShouldRetry(err, attempts) {
			observability.Errors().Report(observability.ErrorEvent{
				Source:   r.roleName,
				Message:  "event dropped after " + strconv.Itoa(attempts) + " attempts",
				Err:      err,
				Severity: observability.SeverityError,
			})
			observability.Telemetry().IncCounter("reader_dropped_events", 1, map[string]string{"reader": r.roleName})
			return
		}
		r.policy.Backoff(attempts)
	}
}

// dispatch unwraps one queue item onto the strategy: replay records carry
// their wall-clock time, broadcast markers shed their envelope, and
// everything else (including named feed events) is dispatched whole.
func (r *Reader) dispatch(item any) error {
	switch v := item.(type) {
	case events.ReplayRecord:
		return r.strat.ProcessEventAt(v.Payload, v.WallClockTime)
	case *events.ReplayRecord:
		return r.strat.ProcessEventAt(v.Payload, v.WallClockTime)
	case events.BroadcastEvent:
		return r.strat.ProcessEvent(v.Payload)
	case *events.BroadcastEvent:
		return r.strat.ProcessEvent(v.Payload)
	default:
		return r.strat.ProcessEvent(item)
	}
}
