package agent

import (
	"sync/atomic"

	"github.com/telaminai/mongoose/errs"
	"github.com/telaminai/mongoose/internal/events"
	"github.com/telaminai/mongoose/internal/observability"
	"github.com/telaminai/mongoose/internal/processor"
)

// Status is the composite agent's lifecycle position.
type Status int32

const (
	StatusCreated Status = iota
	StatusStarting
	StatusActive
	StatusStopping
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusStarting:
		return "STARTING"
	case StatusActive:
		return "ACTIVE"
	case StatusStopping:
		return "STOPPING"
	case StatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// FlowControl is the slice of the event flow manager the composite agent
// depends on for subscription plumbing.
type FlowControl interface {
	GetMappingAgent(key events.SubscriptionKey, owner *Composite) (*Reader, error)
	Subscribe(key events.SubscriptionKey)
	UnSubscribe(key events.SubscriptionKey)
}

// Supplier materialises a processor handle on the agent thread.
type Supplier func() processor.Processor

// pendingQueueCapacity bounds the to-start/to-stop handoff queues.
const pendingQueueCapacity = 64

// Composite runs a cooperative duty cycle on one OS thread, hosting the
// processors registered to it and the queue-reader sub-agents feeding them.
// All fields except the handoff channels and status are owned by the agent
// thread.
type Composite struct {
	roleName string
	flow     FlowControl
	status   atomic.Int32

	toStart chan Supplier
	toStop  chan string

	pendingReaders []*Reader
	subAgents      []*Reader

	registered map[string]processor.Processor
	readers    map[events.SubscriptionKey]*Reader

	slot      processor.ActiveSlot
	scheduler Scheduler
	services  map[string]any
	coreID    int
}

// NewComposite constructs an agent named roleName bound to the given flow
// manager. coreID below zero means no pinning hint.
func NewComposite(roleName string, flow FlowControl, scheduler Scheduler, coreID int) *Composite {
	if scheduler == nil {
		scheduler = NewTimerScheduler()
	}
	return &Composite{
		roleName:   roleName,
		flow:       flow,
		toStart:    make(chan Supplier, pendingQueueCapacity),
		toStop:     make(chan string, pendingQueueCapacity),
		registered: make(map[string]processor.Processor),
		readers:    make(map[events.SubscriptionKey]*Reader),
		scheduler:  scheduler,
		services:   make(map[string]any),
		coreID:     coreID,
	}
}

// RoleName returns the agent's group name.
func (c *Composite) RoleName() string { return c.roleName }

// Status reports the agent's lifecycle position.
func (c *Composite) Status() Status { return Status(c.status.Load()) }

// ActiveSlot exposes the agent-owned current-processor slot for invocation
// strategies constructed against this agent.
func (c *Composite) ActiveSlot() *processor.ActiveSlot { return &c.slot }

// RegisterService makes a container-level service available for injection
// into processors registered after this call.
func (c *Composite) RegisterService(name string, instance any) {
	c.services[name] = instance
}

// AddProcessor enqueues a processor supplier for materialisation on the
// next duty cycle. Fails when the handoff queue is full or the agent is
// shutting down.
func (c *Composite) AddProcessor(supplier Supplier) error {
	if supplier == nil {
		return errs.New("agent", errs.CodeNullArgument,
			errs.WithMessage("processor supplier required"),
			errs.WithField("agent", c.roleName))
	}
	if s := c.Status(); s == StatusStopping || s == StatusClosed {
		return errs.New("agent", errs.CodeLifecycle,
			errs.WithMessage("agent is shutting down"),
			errs.WithField("agent", c.roleName))
	}
	select {
	case c.toStart <- supplier:
		return nil
	default:
		return errs.New("agent", errs.CodeInvalidCapacity,
			errs.WithMessage("pending processor queue full"),
			errs.WithField("agent", c.roleName))
	}
}

// StopProcessor enqueues name for cooperative removal on the next duty
// cycle.
func (c *Composite) StopProcessor(name string) error {
	select {
	case c.toStop <- name:
		return nil
	default:
		return errs.New("agent", errs.CodeInvalidCapacity,
			errs.WithMessage("pending stop queue full"),
			errs.WithField("agent", c.roleName))
	}
}

// RegisteredProcessors snapshots the names of processors currently hosted.
// Agent-thread only.
func (c *Composite) RegisteredProcessors() []string {
	out := make([]string, 0, len(c.registered))
	for name := range c.registered {
		out = append(out, name)
	}
	return out
}

// OnStart transitions the agent CREATED -> STARTING -> ACTIVE. Core
// pinning, when hinted, is best-effort: the run loop locks its OS thread
// and the hint is surfaced for operators to apply via taskset or cgroups.
func (c *Composite) OnStart() {
	c.status.CompareAndSwap(int32(StatusCreated), int32(StatusStarting))
	if c.coreID >= 0 {
		observability.Log().Info("agent core affinity hint",
			observability.Field{Key: "agent", Value: c.roleName},
			observability.Field{Key: "core", Value: c.coreID})
	}
	c.status.CompareAndSwap(int32(StatusStarting), int32(StatusActive))
}

// DoWork executes one duty cycle: drain pending stops, materialise pending
// starts, insert at most one pending reader, then run every child
// sub-agent once. Returns the summed work count.
func (c *Composite) DoWork() int {
	c.drainStops()
	c.drainStarts()
	c.insertPendingReader()

	work := 0
	for _, r := range c.subAgents {
		work += r.DoWork()
	}
	return work
}

func (c *Composite) drainStops() {
	for {
		select {
		case name := <-c.toStop:
			p, ok := c.registered[name]
			if !ok {
				continue
			}
			delete(c.registered, name)
			c.RemoveAllSubscriptions(p)
			c.runLifecycleStop(p)
		default:
			return
		}
	}
}

func (c *Composite) drainStarts() {
	for {
		select {
		case supplier := <-c.toStart:
			c.startProcessor(supplier)
		default:
			return
		}
	}
}

// startProcessor materialises the handle, injects declared services,
// attaches this agent as the processor's event feed, and walks the start
// half of the lifecycle. The current-processor slot is held across the
// whole sequence so re-entrant subscribe calls resolve correctly.
func (c *Composite) startProcessor(supplier Supplier) {
	p := supplier()
	if p == nil {
		return
	}
	c.slot.Set(p)
	defer c.slot.Clear()

	if consumer, ok := p.(processor.ServiceConsumer); ok {
		c.injectServices(p, consumer)
	}
	if aware, ok := p.(processor.FeedAware); ok {
		aware.SetEventFeed(&boundFeed{agent: c, proc: p})
	}
	c.registered[p.Name()] = p

	if lc, ok := p.(processor.Lifecycle); ok {
		if err := lc.Init(); err != nil {
			c.reportLifecycleError(p, "init", err)
		}
		if err := lc.Start(); err != nil {
			c.reportLifecycleError(p, "start", err)
		}
		if err := lc.StartComplete(); err != nil {
			c.reportLifecycleError(p, "start-complete", err)
		}
	}
}

func (c *Composite) injectServices(p processor.Processor, consumer processor.ServiceConsumer) {
	for _, dep := range consumer.Dependencies() {
		if dep.Assign == nil {
			continue
		}
		if dep.ServiceName == "scheduler" {
			dep.Assign(c.scheduler, "scheduler")
			continue
		}
		instance, ok := c.services[dep.ServiceName]
		if !ok {
			observability.Errors().Report(observability.ErrorEvent{
				Source:   c.roleName,
				Message:  "unresolved service dependency " + dep.ServiceName + " for processor " + p.Name(),
				Severity: observability.SeverityWarning,
			})
			continue
		}
		dep.Assign(instance, dep.ServiceName)
	}
}

func (c *Composite) runLifecycleStop(p processor.Processor) {
	lc, ok := p.(processor.Lifecycle)
	if !ok {
		return
	}
	c.slot.Set(p)
	defer c.slot.Clear()
	if err := lc.Stop(); err != nil {
		c.reportLifecycleError(p, "stop", err)
	}
	if err := lc.TearDown(); err != nil {
		c.reportLifecycleError(p, "tear-down", err)
	}
}

func (c *Composite) reportLifecycleError(p processor.Processor, phase string, err error) {
	observability.Errors().Report(observability.ErrorEvent{
		Source:   c.roleName,
		Message:  "processor " + p.Name() + " " + phase + " failed",
		Err:      err,
		Severity: observability.SeverityError,
	})
}

// insertPendingReader inserts the first pending reader when the agent is
// ACTIVE. Insertion is attempted one reader per cycle to keep the duty
// cycle bounded.
func (c *Composite) insertPendingReader() {
	if c.Status() != StatusActive || len(c.pendingReaders) == 0 {
		return
	}
	r := c.pendingReaders[0]
	c.pendingReaders = c.pendingReaders[1:]
	c.subAgents = append(c.subAgents, r)
}

// Subscribe registers p for the subscription key, lazily acquiring a
// reader from the flow manager on first use. Agent-thread only (typically
// called re-entrantly from a processor's start or event handler).
func (c *Composite) Subscribe(p processor.Processor, key events.SubscriptionKey) error {
	r, ok := c.readers[key]
	if !ok {
		acquired, err := c.flow.GetMappingAgent(key, c)
		if err != nil {
			return err
		}
		r = acquired
		c.readers[key] = r
		c.pendingReaders = append(c.pendingReaders, r)
	}
	r.RegisterProcessor(p)
	c.flow.Subscribe(key)
	return nil
}

// UnSubscribe removes p from the key's reader; when the listener count
// reaches zero the reader is dropped from this agent and the flow manager
// is notified.
func (c *Composite) UnSubscribe(p processor.Processor, key events.SubscriptionKey) error {
	r, ok := c.readers[key]
	if !ok {
		return nil
	}
	r.DeregisterProcessor(p)
	if r.ListenerCount() == 0 {
		delete(c.readers, key)
		c.removeSubAgent(r)
	}
	c.flow.UnSubscribe(key)
	return nil
}

// RemoveAllSubscriptions deregisters p from every reader this agent owns.
func (c *Composite) RemoveAllSubscriptions(p processor.Processor) {
	for key, r := range c.readers {
		r.DeregisterProcessor(p)
		if r.ListenerCount() == 0 {
			delete(c.readers, key)
			c.removeSubAgent(r)
			c.flow.UnSubscribe(key)
		}
	}
}

func (c *Composite) removeSubAgent(target *Reader) {
	for i, r := range c.subAgents {
		if r == target {
			c.subAgents = append(c.subAgents[:i], c.subAgents[i+1:]...)
			return
		}
	}
	for i, r := range c.pendingReaders {
		if r == target {
			c.pendingReaders = append(c.pendingReaders[:i], c.pendingReaders[i+1:]...)
			return
		}
	}
}

// Shutdown transitions the agent to STOPPING, stops every hosted
// processor, drains remaining readers once, and closes.
func (c *Composite) Shutdown() {
	c.status.Store(int32(StatusStopping))
	for name, p := range c.registered {
		delete(c.registered, name)
		c.RemoveAllSubscriptions(p)
		c.runLifecycleStop(p)
	}
	for _, r := range c.subAgents {
		r.DoWork()
	}
	c.subAgents = nil
	c.pendingReaders = nil
	c.status.Store(int32(StatusClosed))
}

// boundFeed adapts the (agent, processor) pair to the processor-facing
// subscription surface.
type boundFeed struct {
	agent *Composite
	proc  processor.Processor
}

func (f *boundFeed) Subscribe(key events.SubscriptionKey) error {
	return f.agent.Subscribe(f.proc, key)
}

func (f *boundFeed) UnSubscribe(key events.SubscriptionKey) error {
	return f.agent.UnSubscribe(f.proc, key)
}
