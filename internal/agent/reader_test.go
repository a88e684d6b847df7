package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telaminai/mongoose/internal/events"
	"github.com/telaminai/mongoose/internal/observability"
	"github.com/telaminai/mongoose/internal/pool"
	"github.com/telaminai/mongoose/internal/processor"
	"github.com/telaminai/mongoose/internal/queue"
	"github.com/telaminai/mongoose/internal/retry"
	"github.com/telaminai/mongoose/internal/strategy"
)

type countingProcessor struct {
	processor.Base
	seen      []any
	times     []time.Time
	failures  int
	callCount int
}

func (p *countingProcessor) OnEvent(event any) error {
	p.callCount++
	if p.failures > 0 {
		p.failures--
		return errors.New("transient failure")
	}
	p.seen = append(p.seen, event)
	p.times = append(p.times, p.ProcessorClock().WallClock())
	return nil
}

func newTestReader(t *testing.T, capacity int, policy retry.Policy, p processor.Processor, onUnsub func()) (*Reader, *queue.Target) {
	t.Helper()
	q, err := queue.NewTarget("test-queue", capacity)
	require.NoError(t, err)
	var slot processor.ActiveSlot
	strat := strategy.NewOnEvent(&slot)
	key := events.SubscriptionKey{SourceName: "src", CallbackType: events.GenericCallbackType}
	r := NewReader(key, q, strat, "src/onEvent#1", policy, onUnsub)
	if p != nil {
		r.RegisterProcessor(p)
	}
	return r, q
}

func TestReaderDispatchesInOrder(t *testing.T) {
	p := &countingProcessor{Base: processor.NewBase("p")}
	r, q := newTestReader(t, 8, retry.NoRetry(), p, nil)

	q.Offer("a")
	q.Offer("b")
	q.Offer("c")

	require.Equal(t, 3, r.DoWork())
	require.Equal(t, []any{"a", "b", "c"}, p.seen)
	require.Equal(t, 0, r.DoWork())
}

func TestReaderHonoursBatchLimit(t *testing.T) {
	p := &countingProcessor{Base: processor.NewBase("p")}
	r, q := newTestReader(t, 256, retry.NoRetry(), p, nil)

	for i := 0; i < readBatchLimit+10; i++ {
		require.True(t, q.Offer(i))
	}

	require.Equal(t, readBatchLimit, r.DoWork())
	require.Equal(t, 10, r.DoWork())
}

func TestReaderUnwrapsBroadcastEnvelope(t *testing.T) {
	p := &countingProcessor{Base: processor.NewBase("p")}
	r, q := newTestReader(t, 8, retry.NoRetry(), p, nil)

	q.Offer(events.BroadcastEvent{Payload: "x"})
	r.DoWork()
	require.Equal(t, []any{"x"}, p.seen)
}

func TestReaderDispatchesNamedEventWhole(t *testing.T) {
	p := &countingProcessor{Base: processor.NewBase("p")}
	r, q := newTestReader(t, 8, retry.NoRetry(), p, nil)

	named := events.NamedFeedEvent{SourceName: "src", Sequence: 7, Payload: "x"}
	q.Offer(named)
	r.DoWork()
	require.Equal(t, []any{named}, p.seen)
}

func TestReaderInstallsReplayTime(t *testing.T) {
	p := &countingProcessor{Base: processor.NewBase("p")}
	r, q := newTestReader(t, 8, retry.NoRetry(), p, nil)

	at := time.Unix(1234, 0)
	q.Offer(events.ReplayRecord{Payload: "x", WallClockTime: at})
	r.DoWork()
	require.Equal(t, []any{"x"}, p.seen)
	require.Equal(t, []time.Time{at}, p.times)
}

func TestReaderRetriesThenSucceeds(t *testing.T) {
	sink := observability.NewInMemoryErrorSink(64)
	observability.SetErrorSink(sink)
	t.Cleanup(func() { observability.SetErrorSink(nil) })

	p := &countingProcessor{Base: processor.NewBase("p"), failures: 2}
	policy := retry.NewPolicy(5, 0, 0, 1)
	r, q := newTestReader(t, 8, policy, p, nil)

	q.Offer("x")
	require.Equal(t, 1, r.DoWork())
	require.Equal(t, 3, p.callCount, "two failures then one success")
	require.Equal(t, []any{"x"}, p.seen)

	warnings := 0
	for _, e := range sink.History() {
		if e.Severity == observability.SeverityWarning {
			warnings++
		}
	}
	require.Equal(t, 2, warnings)
}

func TestReaderDropsAfterMaxAttempts(t *testing.T) {
	sink := observability.NewInMemoryErrorSink(64)
	observability.SetErrorSink(sink)
	t.Cleanup(func() { observability.SetErrorSink(nil) })

	p := &countingProcessor{Base: processor.NewBase("p"), failures: 1000}
	policy := retry.NewPolicy(3, 0, 0, 1)
	r, q := newTestReader(t, 8, policy, p, nil)

	q.Offer("x")
	require.Equal(t, 1, r.DoWork(), "dropped events still count as processed")
	require.Equal(t, 3, p.callCount)
	require.Empty(t, p.seen)

	errorsSeen := 0
	for _, e := range sink.History() {
		if e.Severity == observability.SeverityError {
			errorsSeen++
		}
	}
	require.Equal(t, 1, errorsSeen)
}

func TestReaderReleasesPoolReferencesOnDrop(t *testing.T) {
	pl, err := pool.NewPool("values", "trackedValue", func() pool.Trackable { return new(trackedValue) }, nil, 1)
	require.NoError(t, err)
	obj, err := pl.Acquire(context.Background())
	require.NoError(t, err)
	tr := pool.TrackerOf(obj)
	// Simulate the publisher's queued reference and owner drop.
	require.NoError(t, tr.AcquireReference())
	require.NoError(t, tr.ReleaseReference())

	p := &countingProcessor{Base: processor.NewBase("p"), failures: 1000}
	r, q := newTestReader(t, 8, retry.NoRetry(), p, nil)
	q.Offer(obj)

	r.DoWork()
	require.True(t, tr.Returned())
	require.Equal(t, int64(1), pl.AvailableCount())
}

type trackedValue struct {
	pool.Tracked
	Value string
}

func (v *trackedValue) Reset() { v.Value = "" }

func TestReaderFiresOnUnsubscribeExactlyOnce(t *testing.T) {
	fired := 0
	p := &countingProcessor{Base: processor.NewBase("p")}
	r, _ := newTestReader(t, 8, retry.NoRetry(), p, func() { fired++ })

	require.Equal(t, 1, r.ListenerCount())
	r.DeregisterProcessor(p)
	require.Equal(t, 0, r.ListenerCount())
	require.Equal(t, 1, fired)

	r.DeregisterProcessor(p)
	require.Equal(t, 1, fired)
}
