package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telaminai/mongoose/internal/events"
	"github.com/telaminai/mongoose/internal/processor"
	"github.com/telaminai/mongoose/internal/queue"
	"github.com/telaminai/mongoose/internal/retry"
	"github.com/telaminai/mongoose/internal/strategy"
)

// fakeFlow hands out locally-built readers and counts subscription
// traffic, standing in for the flow manager.
type fakeFlow struct {
	queues       map[events.SubscriptionKey]*queue.Target
	readers      map[events.SubscriptionKey]*Reader
	subscribes   int
	unsubscribes int
}

func newFakeFlow() *fakeFlow {
	return &fakeFlow{
		queues:  make(map[events.SubscriptionKey]*queue.Target),
		readers: make(map[events.SubscriptionKey]*Reader),
	}
}

func (f *fakeFlow) GetMappingAgent(key events.SubscriptionKey, owner *Composite) (*Reader, error) {
	if r, ok := f.readers[key]; ok {
		return r, nil
	}
	q, err := queue.NewTarget(key.SourceName, 16)
	if err != nil {
		return nil, err
	}
	f.queues[key] = q
	strat := strategy.NewOnEvent(owner.ActiveSlot())
	r := NewReader(key, q, strat, key.SourceName, retry.NoRetry(), func() {
		delete(f.readers, key)
	})
	f.readers[key] = r
	return r, nil
}

func (f *fakeFlow) Subscribe(events.SubscriptionKey)   { f.subscribes++ }
func (f *fakeFlow) UnSubscribe(events.SubscriptionKey) { f.unsubscribes++ }

type lifecycleProcessor struct {
	processor.Base
	seen        []any
	transitions []string
	subscribeOn []events.SubscriptionKey
}

func newLifecycleProcessor(name string, keys ...events.SubscriptionKey) *lifecycleProcessor {
	return &lifecycleProcessor{Base: processor.NewBase(name), subscribeOn: keys}
}

func (p *lifecycleProcessor) OnEvent(event any) error {
	p.seen = append(p.seen, event)
	return nil
}

func (p *lifecycleProcessor) Start() error {
	p.transitions = append(p.transitions, "start")
	if err := p.Base.Start(); err != nil {
		return err
	}
	for _, key := range p.subscribeOn {
		if err := p.EventFeed().Subscribe(key); err != nil {
			return err
		}
	}
	return nil
}

func (p *lifecycleProcessor) StartComplete() error {
	p.transitions = append(p.transitions, "start-complete")
	return p.Base.StartComplete()
}

func (p *lifecycleProcessor) Stop() error {
	p.transitions = append(p.transitions, "stop")
	return p.Base.Stop()
}

func (p *lifecycleProcessor) TearDown() error {
	p.transitions = append(p.transitions, "tear-down")
	return p.Base.TearDown()
}

func key(source string) events.SubscriptionKey {
	return events.SubscriptionKey{SourceName: source, CallbackType: events.GenericCallbackType}
}

func TestCompositeStartsProcessorsOnDutyCycle(t *testing.T) {
	flow := newFakeFlow()
	c := NewComposite("workers", flow, nil, -1)
	c.OnStart()
	require.Equal(t, StatusActive, c.Status())

	p := newLifecycleProcessor("p1")
	require.NoError(t, c.AddProcessor(func() processor.Processor { return p }))
	require.Empty(t, c.RegisteredProcessors())

	c.DoWork()
	require.Equal(t, []string{"start", "start-complete"}, p.transitions)
	require.Equal(t, []string{"p1"}, c.RegisteredProcessors())
	require.Equal(t, processor.StateStartComplete, p.LifecycleState())
}

func TestCompositeSubscriptionDeliversEvents(t *testing.T) {
	flow := newFakeFlow()
	c := NewComposite("workers", flow, nil, -1)
	c.OnStart()

	p := newLifecycleProcessor("p1", key("prices"))
	require.NoError(t, c.AddProcessor(func() processor.Processor { return p }))
	c.DoWork()
	require.Equal(t, 1, flow.subscribes)

	flow.queues[key("prices")].Offer("a")
	flow.queues[key("prices")].Offer("b")
	c.DoWork()
	require.Equal(t, []any{"a", "b"}, p.seen)
}

func TestCompositeStopsProcessorCooperatively(t *testing.T) {
	flow := newFakeFlow()
	c := NewComposite("workers", flow, nil, -1)
	c.OnStart()

	p := newLifecycleProcessor("p1", key("prices"))
	require.NoError(t, c.AddProcessor(func() processor.Processor { return p }))
	c.DoWork()

	require.NoError(t, c.StopProcessor("p1"))
	c.DoWork()

	require.Empty(t, c.RegisteredProcessors())
	require.Contains(t, p.transitions, "stop")
	require.Contains(t, p.transitions, "tear-down")
	require.Equal(t, 1, flow.unsubscribes)
	require.Empty(t, flow.readers, "reader detached once listener count hit zero")
}

func TestCompositeSharedReaderAcrossProcessors(t *testing.T) {
	flow := newFakeFlow()
	c := NewComposite("workers", flow, nil, -1)
	c.OnStart()

	p1 := newLifecycleProcessor("p1", key("prices"))
	p2 := newLifecycleProcessor("p2", key("prices"))
	require.NoError(t, c.AddProcessor(func() processor.Processor { return p1 }))
	require.NoError(t, c.AddProcessor(func() processor.Processor { return p2 }))
	c.DoWork()
	require.Len(t, flow.readers, 1, "one reader per subscription key")

	flow.queues[key("prices")].Offer("x")
	c.DoWork()
	require.Equal(t, []any{"x"}, p1.seen)
	require.Equal(t, []any{"x"}, p2.seen)

	require.NoError(t, c.UnSubscribe(p1, key("prices")))
	require.Len(t, flow.readers, 1, "reader retained while p2 listens")
	require.NoError(t, c.UnSubscribe(p2, key("prices")))
	require.Empty(t, flow.readers)
}

func TestCompositeServiceInjection(t *testing.T) {
	flow := newFakeFlow()
	c := NewComposite("workers", flow, nil, -1)
	c.RegisterService("cache", "cache-instance")
	c.OnStart()

	p := &dependentProcessor{Base: processor.NewBase("dep")}
	require.NoError(t, c.AddProcessor(func() processor.Processor { return p }))
	c.DoWork()

	require.Equal(t, "cache-instance", p.cache)
	require.NotNil(t, p.scheduler, "shared scheduler injected under its well-known name")
}

type dependentProcessor struct {
	processor.Base
	cache     any
	scheduler Scheduler
}

func (p *dependentProcessor) OnEvent(any) error { return nil }

func (p *dependentProcessor) Dependencies() []processor.Dependency {
	return []processor.Dependency{
		{ServiceName: "cache", Assign: func(instance any, _ string) { p.cache = instance }},
		{ServiceName: "scheduler", Assign: func(instance any, _ string) { p.scheduler = instance.(Scheduler) }},
	}
}

func TestCompositeShutdownStopsEverything(t *testing.T) {
	flow := newFakeFlow()
	c := NewComposite("workers", flow, nil, -1)
	c.OnStart()

	p := newLifecycleProcessor("p1", key("prices"))
	require.NoError(t, c.AddProcessor(func() processor.Processor { return p }))
	c.DoWork()

	c.Shutdown()
	require.Equal(t, StatusClosed, c.Status())
	require.Equal(t, processor.StateTornDown, p.LifecycleState())

	require.Error(t, c.AddProcessor(func() processor.Processor { return p }))
}
