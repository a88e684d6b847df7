// Package publisher implements the per-source fan-out write path: mapping,
// wrapping, pre-start caching, pooled-object reference accounting, and
// slow-consumer handling for every value published by an event source.
package publisher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/telaminai/mongoose/errs"
	"github.com/telaminai/mongoose/internal/events"
	"github.com/telaminai/mongoose/internal/observability"
	"github.com/telaminai/mongoose/internal/pool"
	"github.com/telaminai/mongoose/internal/queue"
)

// Mapper transforms a published value before wrapping and fan-out. The
// returned value may itself be pool-aware.
type Mapper func(any) any

// backoffOfferAttempts bounds how many paced retries the BACKOFF
// slow-consumer strategy makes before giving up on a full target queue.
const backoffOfferAttempts = 64

type target struct {
	queue *queue.Target
	name  string
}

type cachedEvent struct {
	payload  any
	sequence uint64
	wallTime time.Time
}

// Publisher is the one-per-source fan-out writer. Publish and Cache must be
// called from a single producer goroutine; AddTargetQueue and
// RemoveTargetQueue are safe from any goroutine. Configuration setters must
// not be called concurrently with Publish.
type Publisher struct {
	sourceName string

	mu      sync.RWMutex
	targets []target

	wrap         events.WrapStrategy
	mapper       Mapper
	slowConsumer events.SlowConsumerStrategy
	cacheEnabled bool
	cache        []cachedEvent

	sequence       uint64
	publishEnabled atomic.Bool

	// pacer spaces out BACKOFF re-offers on a full target queue so the
	// producer does not burn a core spinning against a stalled consumer.
	pacer *rate.Limiter
	now   func() time.Time
}

// New constructs a publisher for the named source. Publishing is disabled
// until EnablePublish, which the flow manager calls at start-complete.
func New(sourceName string) *Publisher {
	return &Publisher{
		sourceName:   sourceName,
		wrap:         events.SubscriptionNoWrap,
		slowConsumer: events.SlowConsumerBackoff,
		pacer:        rate.NewLimiter(rate.Every(50*time.Microsecond), 1),
		now:          time.Now,
	}
}

// SourceName returns the name the publisher was registered under.
func (p *Publisher) SourceName() string { return p.sourceName }

// AddTargetQueue attaches q as a fan-out target under name. Fails with
// DUPLICATE_NAME when a target of that name is already attached.
func (p *Publisher) AddTargetQueue(q *queue.Target, name string) error {
	if q == nil {
		return errs.New("publisher", errs.CodeNullArgument,
			errs.WithMessage("target queue required"),
			errs.WithField("source", p.sourceName))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.targets {
		if t.name == name {
			return errs.New("publisher", errs.CodeDuplicateName,
				errs.WithMessage("target queue already attached"),
				errs.WithField("source", p.sourceName),
				errs.WithField("target", name))
		}
	}
	p.targets = append(p.targets, target{queue: q, name: name})
	return nil
}

// RemoveTargetQueue detaches the named target. Removing an unknown name is
// a no-op.
func (p *Publisher) RemoveTargetQueue(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(name)
}

func (p *Publisher) removeLocked(name string) {
	for i, t := range p.targets {
		if t.name == name {
			p.targets = append(p.targets[:i], p.targets[i+1:]...)
			return
		}
	}
}

// SetEventWrapStrategy selects how values are packaged before enqueue.
func (p *Publisher) SetEventWrapStrategy(w events.WrapStrategy) { p.wrap = w }

// SetDataMapper installs the value transform applied before wrapping.
func (p *Publisher) SetDataMapper(m Mapper) { p.mapper = m }

// SetSlowConsumerStrategy selects the full-queue policy.
func (p *Publisher) SetSlowConsumerStrategy(s events.SlowConsumerStrategy) { p.slowConsumer = s }

// SetCacheEventLog enables or disables the pre-start event cache. The
// cache only captures values seen before EnablePublish; once live, every
// publish goes straight to the attached targets and holds no cache
// reference.
func (p *Publisher) SetCacheEventLog(enabled bool) { p.cacheEnabled = enabled }

// EnablePublish flips the publisher live. Called once at start-complete.
func (p *Publisher) EnablePublish() { p.publishEnabled.Store(true) }

// Publish delivers raw to every currently-attached target queue. Before
// EnablePublish, values are recorded into the cache when caching is on and
// otherwise dropped with correct pool accounting.
func (p *Publisher) Publish(raw any) {
	mapped := p.applyMapper(raw)
	tracker := pool.TrackerOf(mapped)

	if !p.publishEnabled.Load() {
		if p.cacheEnabled {
			p.sequence++
			p.recordCache(mapped, tracker, p.sequence)
		}
		p.dropOwnerReference(tracker)
		return
	}

	p.sequence++
	offered := p.wrapValue(mapped, p.sequence)

	p.mu.RLock()
	snapshot := make([]target, len(p.targets))
	copy(snapshot, p.targets)
	p.mu.RUnlock()

	for _, t := range snapshot {
		p.offerTo(t, offered, tracker)
	}

	p.dropOwnerReference(tracker)
}

// Cache records raw into the pre-start cache without dispatching to live
// targets. Requires caching to be enabled.
func (p *Publisher) Cache(raw any) error {
	if !p.cacheEnabled {
		return errs.New("publisher", errs.CodeLifecycle,
			errs.WithMessage("cache called with event-log caching disabled"),
			errs.WithField("source", p.sourceName))
	}
	mapped := p.applyMapper(raw)
	tracker := pool.TrackerOf(mapped)
	p.sequence++
	p.recordCache(mapped, tracker, p.sequence)
	p.dropOwnerReference(tracker)
	return nil
}

// DispatchCachedEventLog drains the cache into the currently-attached
// targets in insertion order, applying the wrap strategy on playback.
// Idempotent once the cache is empty.
func (p *Publisher) DispatchCachedEventLog() {
	if len(p.cache) == 0 {
		return
	}
	pending := p.cache
	p.cache = nil

	p.mu.RLock()
	snapshot := make([]target, len(p.targets))
	copy(snapshot, p.targets)
	p.mu.RUnlock()

	for _, entry := range pending {
		tracker := pool.TrackerOf(entry.payload)
		offered := p.wrapReplay(entry)
		for _, t := range snapshot {
			p.offerTo(t, offered, tracker)
		}
		// Release the cache holder's reference recorded at capture time.
		p.dropOwnerReference(tracker)
	}
}

// CacheSize reports the number of captured pre-start events.
func (p *Publisher) CacheSize() int { return len(p.cache) }

// TargetCount reports the number of attached target queues.
func (p *Publisher) TargetCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.targets)
}

// QueueInfo is one row of the admin queue snapshot.
type QueueInfo struct {
	Source   string `json:"source"`
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}

// QueueInformation snapshots the attached targets for admin inspection.
func (p *Publisher) QueueInformation() []QueueInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]QueueInfo, 0, len(p.targets))
	for _, t := range p.targets {
		out = append(out, QueueInfo{
			Source:   p.sourceName,
			Name:     t.name,
			Depth:    t.queue.Depth(),
			Capacity: t.queue.Capacity(),
		})
	}
	return out
}

func (p *Publisher) applyMapper(raw any) any {
	if p.mapper == nil {
		return raw
	}
	return p.mapper(raw)
}

// wrapValue packages mapped per the wrap strategy. The tracker followed for
// reference accounting is always that of the post-mapper payload, which is
// the object that actually reaches the consumer inside any envelope.
func (p *Publisher) wrapValue(mapped any, seq uint64) any {
	switch p.wrap {
	case events.SubscriptionNamedEvent, events.BroadcastNamedEvent:
		return events.NamedFeedEvent{
			SourceName:      p.sourceName,
			Sequence:        seq,
			EventTimeMicros: p.now().UnixMicro(),
			Payload:         mapped,
		}
	case events.BroadcastNoWrap:
		return events.BroadcastEvent{Payload: mapped}
	default:
		return mapped
	}
}

// wrapReplay packages a cached entry for playback: NAMED_EVENT strategies
// reuse the named envelope with the capture-time sequence; NOWRAP
// strategies replay through a ReplayRecord carrying the capture wall-clock
// time so consumers observe original event time.
func (p *Publisher) wrapReplay(entry cachedEvent) any {
	switch p.wrap {
	case events.SubscriptionNamedEvent, events.BroadcastNamedEvent:
		return events.NamedFeedEvent{
			SourceName:      p.sourceName,
			Sequence:        entry.sequence,
			EventTimeMicros: entry.wallTime.UnixMicro(),
			Payload:         entry.payload,
		}
	default:
		return events.ReplayRecord{Payload: entry.payload, WallClockTime: entry.wallTime}
	}
}

func (p *Publisher) recordCache(mapped any, tracker *pool.Tracker, seq uint64) {
	if tracker != nil {
		if err := tracker.AcquireReference(); err != nil {
			observability.Errors().Report(observability.ErrorEvent{
				Source:   p.sourceName,
				Message:  "cache reference acquisition failed",
				Err:      err,
				Severity: observability.SeverityWarning,
			})
			return
		}
	}
	p.cache = append(p.cache, cachedEvent{payload: mapped, sequence: seq, wallTime: p.now()})
}

// offerTo enqueues offered on t, incrementing the payload tracker for the
// consumer-held reference first and rolling it back when the offer is
// abandoned.
func (p *Publisher) offerTo(t target, offered any, tracker *pool.Tracker) {
	if tracker != nil {
		if err := tracker.AcquireReference(); err != nil {
			observability.Errors().Report(observability.ErrorEvent{
				Source:   p.sourceName,
				Message:  "queued reference acquisition failed",
				Err:      err,
				Severity: observability.SeverityWarning,
			})
			return
		}
	}
	if t.queue.Offer(offered) {
		return
	}
	if !p.handleSlowConsumer(t, offered) {
		if tracker != nil {
			_ = tracker.ReleaseReference()
		}
	}
}

// handleSlowConsumer applies the configured full-queue policy; it reports
// whether the item was ultimately delivered.
func (p *Publisher) handleSlowConsumer(t target, offered any) bool {
	switch p.slowConsumer {
	case events.SlowConsumerBackoff:
		for i := 0; i < backoffOfferAttempts; i++ {
			_ = p.pacer.Wait(context.Background())
			if t.queue.Offer(offered) {
				return true
			}
		}
		observability.Errors().Report(observability.ErrorEvent{
			Source: p.sourceName,
			Message: "target queue full after backoff; event not delivered to " +
				t.name,
			Err: errs.New("publisher", errs.CodeQueueFull,
				errs.WithField("source", p.sourceName),
				errs.WithField("target", t.name)),
			Severity: observability.SeverityWarning,
		})
		return false
	case events.SlowConsumerDisconnect:
		p.mu.Lock()
		p.removeLocked(t.name)
		p.mu.Unlock()
		return false
	case events.SlowConsumerExitProcess:
		observability.FatalHandler(p.sourceName, errs.New("publisher", errs.CodeQueueFull,
			errs.WithMessage("target queue full with EXIT_PROCESS strategy"),
			errs.WithField("source", p.sourceName),
			errs.WithField("target", t.name)))
		return false
	default:
		return false
	}
}

// dropOwnerReference releases the producer-side reference once and attempts
// the final pool return, which only succeeds when no live holders remain.
func (p *Publisher) dropOwnerReference(tracker *pool.Tracker) {
	if tracker == nil {
		return
	}
	if err := tracker.ReleaseReference(); err != nil {
		observability.Errors().Report(observability.ErrorEvent{
			Source:   p.sourceName,
			Message:  "owner reference release failed",
			Err:      err,
			Severity: observability.SeverityWarning,
		})
	}
	tracker.ReturnToPool()
}
