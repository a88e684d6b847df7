// Package server wires the dispatch fabric into an embeddable runtime: it
// owns the flow manager, the agent groups and their OS threads, the
// container-level service table, and the admin surface.
package server

import (
	"bytes"
	"context"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/telaminai/mongoose/errs"
	"github.com/telaminai/mongoose/internal/agent"
	"github.com/telaminai/mongoose/internal/flow"
	"github.com/telaminai/mongoose/internal/observability"
	"github.com/telaminai/mongoose/internal/processor"
)

// Stopper is optionally implemented by registered services wanting an
// orderly stop on StopService or server shutdown.
type Stopper interface {
	Stop() error
}

type agentEntry struct {
	composite  *agent.Composite
	idle       agent.IdleStrategy
	processors map[string]struct{}
	running    bool
}

// Server is the embedder's entrypoint: register sources, sinks, services,
// and processors against named agent groups, then Start.
type Server struct {
	flowMgr   *flow.Manager
	scheduler *agent.TimerScheduler

	mu       sync.Mutex
	agents   map[string]*agentEntry
	services map[string]any
	coreIDs  map[string]int

	lifecycle conc.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
}

// New constructs a server around a fresh flow manager.
func New() *Server {
	return NewWithFlow(flow.NewManager())
}

// NewWithFlow constructs a server around an existing flow manager, letting
// tests and embedders pre-configure capacities and factories.
func NewWithFlow(flowMgr *flow.Manager) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		flowMgr:   flowMgr,
		scheduler: agent.NewTimerScheduler(),
		agents:    make(map[string]*agentEntry),
		services:  make(map[string]any),
		coreIDs:   make(map[string]int),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Flow exposes the underlying flow manager.
func (s *Server) Flow() *flow.Manager { return s.flowMgr }

// SetCoreID records a best-effort core-pinning hint for the named agent
// group; it must be set before the group's first use.
func (s *Server) SetCoreID(group string, coreID int) {
	s.mu.Lock()
	s.coreIDs[group] = coreID
	s.mu.Unlock()
}

// Agent returns the composite for group, creating it (and, when the server
// is already started, its thread) on first use.
func (s *Server) Agent(group string, idle agent.IdleStrategy) *agent.Composite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentLocked(group, idle)
}

func (s *Server) agentLocked(group string, idle agent.IdleStrategy) *agent.Composite {
	entry, ok := s.agents[group]
	if ok {
		return entry.composite
	}
	coreID, hinted := s.coreIDs[group]
	if !hinted {
		coreID = -1
	}
	composite := agent.NewComposite(group, s.flowMgr, s.scheduler, coreID)
	for name, instance := range s.services {
		composite.RegisterService(name, instance)
	}
	entry = &agentEntry{
		composite:  composite,
		idle:       idle,
		processors: make(map[string]struct{}),
	}
	s.agents[group] = entry
	if s.started {
		s.launchLocked(entry)
	}
	return composite
}

func (s *Server) launchLocked(entry *agentEntry) {
	if entry.running {
		return
	}
	entry.running = true
	composite := entry.composite
	idle := entry.idle
	s.lifecycle.Go(func() {
		agent.Run(s.ctx, composite, idle)
	})
}

// RegisterService adds a container-level service available for injection
// into processors registered after this call.
func (s *Server) RegisterService(name string, instance any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[name] = instance
	for _, entry := range s.agents {
		entry.composite.RegisterService(name, instance)
	}
}

// RegisterEventSource registers a source with the flow manager.
func (s *Server) RegisterEventSource(name string, src flow.Source) error {
	_, err := s.flowMgr.RegisterEventSource(name, src)
	return err
}

// AddProcessor schedules a processor supplier onto the named agent group,
// creating the group with the given idle strategy on first use. name must
// match the materialised processor's Name for admin stop routing.
func (s *Server) AddProcessor(group, name string, idle agent.IdleStrategy, supplier agent.Supplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentLocked(group, idle)
	entry := s.agents[group]
	if _, dup := entry.processors[name]; dup {
		return errs.New("server", errs.CodeDuplicateName,
			errs.WithMessage("processor already registered on agent group"),
			errs.WithField("agent", group),
			errs.WithField("processor", name))
	}
	if err := entry.composite.AddProcessor(supplier); err != nil {
		return err
	}
	entry.processors[name] = struct{}{}
	return nil
}

// AddSink hosts a sink processor on the named agent group.
func (s *Server) AddSink(group string, idle agent.IdleStrategy, sink *processor.Sink) error {
	return s.AddProcessor(group, sink.Name(), idle, func() processor.Processor { return sink })
}

// StopProcessor enqueues a cooperative stop of the named processor on the
// named agent group.
func (s *Server) StopProcessor(group, name string) error {
	s.mu.Lock()
	entry, ok := s.agents[group]
	if ok {
		delete(entry.processors, name)
	}
	s.mu.Unlock()
	if !ok {
		return errs.New("server", errs.CodeNoSource,
			errs.WithMessage("unknown agent group"),
			errs.WithField("agent", group))
	}
	return entry.composite.StopProcessor(name)
}

// StopService stops the named registered service if it exposes a Stop.
func (s *Server) StopService(name string) error {
	s.mu.Lock()
	instance, ok := s.services[name]
	if ok {
		delete(s.services, name)
	}
	s.mu.Unlock()
	if !ok {
		return errs.New("server", errs.CodeNoSource,
			errs.WithMessage("unknown service"),
			errs.WithField("service", name))
	}
	if stopper, isStopper := instance.(Stopper); isStopper {
		return stopper.Stop()
	}
	return nil
}

// RegisteredServices lists the container-level service names.
func (s *Server) RegisteredServices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.services))
	for name := range s.services {
		out = append(out, name)
	}
	return out
}

// RegisteredProcessors lists processor names per agent group.
func (s *Server) RegisteredProcessors() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.agents))
	for group, entry := range s.agents {
		names := make([]string, 0, len(entry.processors))
		for name := range entry.processors {
			names = append(names, name)
		}
		out[group] = names
	}
	return out
}

// AppendQueueInformation writes the admin queue snapshot to buffer.
func (s *Server) AppendQueueInformation(buffer *bytes.Buffer) error {
	return s.flowMgr.AppendQueueInformation(buffer)
}

// Start initialises all registered sources (flow Init), launches one OS
// thread per agent group, and then runs flow Start, which starts the
// sources, enables their publishers and replays cached event logs. A
// second call returns a lifecycle error.
func (s *Server) Start() error {
	if err := s.flowMgr.Init(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errs.New("server", errs.CodeLifecycle,
			errs.WithMessage("server already started"))
	}
	s.started = true
	for _, entry := range s.agents {
		s.launchLocked(entry)
	}
	s.mu.Unlock()

	return s.flowMgr.Start()
}

// Stop cancels every agent thread, waits for their shutdown, and closes
// the shared scheduler.
func (s *Server) Stop() {
	s.cancel()
	s.lifecycle.Wait()
	s.scheduler.Close()

	s.mu.Lock()
	services := make([]any, 0, len(s.services))
	for _, instance := range s.services {
		services = append(services, instance)
	}
	s.mu.Unlock()
	for _, instance := range services {
		if stopper, ok := instance.(Stopper); ok {
			if err := stopper.Stop(); err != nil {
				observability.Errors().Report(observability.ErrorEvent{
					Source:   "server",
					Message:  "service stop failed",
					Err:      err,
					Severity: observability.SeverityWarning,
				})
			}
		}
	}
}
