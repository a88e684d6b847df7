package flow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telaminai/mongoose/internal/events"
	"github.com/telaminai/mongoose/internal/flow"
	"github.com/telaminai/mongoose/internal/pool"
	"github.com/telaminai/mongoose/internal/processor"
	"github.com/telaminai/mongoose/internal/retry"
)

type message struct {
	pool.Tracked
	Value string
}

func (m *message) Reset() { m.Value = "" }

func TestPooledFanoutAcrossTwoAgents(t *testing.T) {
	pl, err := pool.NewPool("messages", "message", func() pool.Trackable { return new(message) }, nil, 1)
	require.NoError(t, err)

	m := flow.NewManager()
	src := &stubSource{}
	_, err = m.RegisterEventSource("wire", src)
	require.NoError(t, err)

	p1 := newRecordingProcessor("p1", genericKey("wire"))
	p2 := newRecordingProcessor("p2", genericKey("wire"))
	c1 := startAgentWith(t, m, "a1", p1)
	c2 := startAgentWith(t, m, "a2", p2)
	require.NoError(t, m.Start())

	obj, err := pl.Acquire(context.Background())
	require.NoError(t, err)
	msg := obj.(*message)
	msg.Value = "hi"
	tracker := pool.TrackerOf(msg)

	src.pub.Publish(msg)
	c1.DoWork()
	require.Len(t, p1.seen, 1)
	// Both agents receive the same pooled instance; the last consumer's
	// return resets it, so its value is checked while a reference is live.
	require.Equal(t, "hi", p1.seen[0].(*message).Value)

	c2.DoWork()
	require.Len(t, p2.seen, 1)
	require.Same(t, msg, p2.seen[0])

	require.True(t, tracker.Returned())
	require.Equal(t, int64(1), pl.AvailableCount())
}

type flakyProcessor struct {
	processor.Base
	keys      []events.SubscriptionKey
	failures  int
	attempts  int
	delivered []any
}

func newFlakyProcessor(name string, failures int, keys ...events.SubscriptionKey) *flakyProcessor {
	return &flakyProcessor{Base: processor.NewBase(name), failures: failures, keys: keys}
}

func (p *flakyProcessor) Start() error {
	if err := p.Base.Start(); err != nil {
		return err
	}
	for _, key := range p.keys {
		if err := p.EventFeed().Subscribe(key); err != nil {
			return err
		}
	}
	return nil
}

func (p *flakyProcessor) OnEvent(event any) error {
	p.attempts++
	if p.failures > 0 {
		p.failures--
		return errors.New("transient dispatch failure")
	}
	p.delivered = append(p.delivered, event)
	return nil
}

func TestRetryThenSuccessRestoresPool(t *testing.T) {
	pl, err := pool.NewPool("messages", "message", func() pool.Trackable { return new(message) }, nil, 1)
	require.NoError(t, err)

	m := flow.NewManager()
	m.SetRetryPolicy(retry.NewPolicy(5, 0, 0, 1))
	src := &stubSource{}
	_, err = m.RegisterEventSource("wire", src)
	require.NoError(t, err)

	p := newFlakyProcessor("flaky", 2, genericKey("wire"))
	c := startAgentWith(t, m, "a1", p)
	require.NoError(t, m.Start())

	obj, err := pl.Acquire(context.Background())
	require.NoError(t, err)
	src.pub.Publish(obj)
	c.DoWork()

	require.Equal(t, 3, p.attempts, "two failures then one success")
	require.Len(t, p.delivered, 1)
	require.True(t, pool.TrackerOf(obj).Returned())
	require.Equal(t, int64(1), pl.AvailableCount())
}

func TestRetryExhaustionDropsEventAndReturnsPoolReference(t *testing.T) {
	pl, err := pool.NewPool("messages", "message", func() pool.Trackable { return new(message) }, nil, 1)
	require.NoError(t, err)

	m := flow.NewManager()
	m.SetRetryPolicy(retry.NewPolicy(3, 0, 0, 1))
	src := &stubSource{}
	_, err = m.RegisterEventSource("wire", src)
	require.NoError(t, err)

	p := newFlakyProcessor("hopeless", 1000, genericKey("wire"))
	c := startAgentWith(t, m, "a1", p)
	require.NoError(t, m.Start())

	obj, err := pl.Acquire(context.Background())
	require.NoError(t, err)
	src.pub.Publish(obj)
	c.DoWork()

	require.Equal(t, 3, p.attempts)
	require.Empty(t, p.delivered)
	require.True(t, pool.TrackerOf(obj).Returned())
	require.Equal(t, int64(1), pl.AvailableCount())
}

func TestNamedEventEnvelopeReachesProcessorIntact(t *testing.T) {
	m := flow.NewManager()
	src := &stubSource{}
	pub, err := m.RegisterEventSource("ticks", src)
	require.NoError(t, err)
	pub.SetEventWrapStrategy(events.SubscriptionNamedEvent)

	p := newRecordingProcessor("p1", genericKey("ticks"))
	c := startAgentWith(t, m, "a1", p)
	require.NoError(t, m.Start())

	src.pub.Publish("v1")
	src.pub.Publish("v2")
	c.DoWork()

	require.Len(t, p.seen, 2)
	first := p.seen[0].(events.NamedFeedEvent)
	second := p.seen[1].(events.NamedFeedEvent)
	require.Equal(t, "ticks", first.SourceName)
	require.Equal(t, "v1", first.Payload)
	require.Equal(t, first.Sequence+1, second.Sequence)
}
