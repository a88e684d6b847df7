// Package flow implements the event flow manager: the registry of sources,
// queues, subscriptions, and invocation-strategy factories brokering the
// path from publishers to queue readers.
package flow

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/telaminai/mongoose/errs"
	"github.com/telaminai/mongoose/internal/agent"
	"github.com/telaminai/mongoose/internal/events"
	"github.com/telaminai/mongoose/internal/observability"
	"github.com/telaminai/mongoose/internal/pool"
	"github.com/telaminai/mongoose/internal/publisher"
	"github.com/telaminai/mongoose/internal/queue"
	"github.com/telaminai/mongoose/internal/retry"
	"github.com/telaminai/mongoose/internal/strategy"
)

// DefaultQueueCapacity is the bound applied to new target queues.
const DefaultQueueCapacity = 256

// Source is the contract an event source fulfils: it receives its
// publisher at registration and emits through it thereafter.
type Source interface {
	SetPublisher(pub *publisher.Publisher)
}

// SourceLifecycle is optionally implemented by sources wanting the
// manager's init/start fan-out.
type SourceLifecycle interface {
	Init() error
	Start() error
}

type sourceEntry struct {
	pub *publisher.Publisher
	src Source
}

// readerKey identifies one reader: the subscription key plus the agent
// that owns its consumer side. Each subscribing agent gets its own queue
// and reader so fan-out consumers never share an SPSC ring.
type readerKey struct {
	key   events.SubscriptionKey
	owner *agent.Composite
}

// Manager owns the source, factory, and reader tables. Writes go under the
// lock; the hot subscription path reads are brief lookups.
type Manager struct {
	mu        sync.RWMutex
	sources   map[string]*sourceEntry
	factories map[events.CallbackType]strategy.Factory
	readers   map[readerKey]*agent.Reader
	subCounts map[events.SubscriptionKey]int

	queueCapacity int
	retryPolicy   retry.Policy
	readerSeq     int
	started       bool
}

// NewManager constructs an empty flow manager with default queue capacity
// and retry policy.
func NewManager() *Manager {
	return &Manager{
		sources:       make(map[string]*sourceEntry),
		factories:     make(map[events.CallbackType]strategy.Factory),
		readers:       make(map[readerKey]*agent.Reader),
		subCounts:     make(map[events.SubscriptionKey]int),
		queueCapacity: DefaultQueueCapacity,
		retryPolicy:   retry.DefaultPolicy(),
	}
}

// SetQueueCapacity overrides the capacity applied to target queues built
// for future subscriptions.
func (m *Manager) SetQueueCapacity(capacity int) error {
	if capacity < 2 {
		return errs.New("flow", errs.CodeInvalidCapacity,
			errs.WithMessage("queue capacity must be >= 2"))
	}
	m.mu.Lock()
	m.queueCapacity = capacity
	m.mu.Unlock()
	return nil
}

// SetRetryPolicy overrides the policy handed to readers built for future
// subscriptions.
func (m *Manager) SetRetryPolicy(p retry.Policy) {
	m.mu.Lock()
	m.retryPolicy = p
	m.mu.Unlock()
}

// RegisterEventSource creates a fresh publisher for name, hands it to the
// source, and returns it. Fails with DUPLICATE_NAME when name is taken.
func (m *Manager) RegisterEventSource(name string, src Source) (*publisher.Publisher, error) {
	if strings.TrimSpace(name) == "" || src == nil {
		return nil, errs.New("flow", errs.CodeNullArgument,
			errs.WithMessage("source name and instance required"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sources[name]; exists {
		return nil, errs.New("flow", errs.CodeDuplicateName,
			errs.WithMessage("event source already registered"),
			errs.WithField("source", name))
	}
	pub := publisher.New(name)
	m.sources[name] = &sourceEntry{pub: pub, src: src}
	src.SetPublisher(pub)
	return pub, nil
}

// RegisterEventMapperFactory inserts or overwrites the invocation-strategy
// factory for callbackType. Already-constructed readers are unaffected.
func (m *Manager) RegisterEventMapperFactory(factory strategy.Factory, callbackType events.CallbackType) error {
	if factory == nil {
		return errs.New("flow", errs.CodeNullArgument,
			errs.WithMessage("strategy factory required"))
	}
	m.mu.Lock()
	m.factories[callbackType] = factory
	m.mu.Unlock()
	return nil
}

// Subscribe bumps the subscription count for key. Counts feed metrics and
// admin listing; readers are created by GetMappingAgent, not here.
func (m *Manager) Subscribe(key events.SubscriptionKey) {
	m.mu.Lock()
	m.subCounts[key]++
	m.mu.Unlock()
}

// UnSubscribe decrements the subscription count for key.
func (m *Manager) UnSubscribe(key events.SubscriptionKey) {
	m.mu.Lock()
	if m.subCounts[key] > 0 {
		m.subCounts[key]--
	}
	if m.subCounts[key] == 0 {
		delete(m.subCounts, key)
	}
	m.mu.Unlock()
}

// SubscriptionCount reports the live subscription count for key.
func (m *Manager) SubscriptionCount(key events.SubscriptionKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subCounts[key]
}

// GetMappingAgent returns the reader serving (key, owner), building one on
// first use: a fresh bounded SPSC queue registered with the source's
// publisher, an invocation strategy from the matching factory (falling
// back to the generic on-event factory), and a reader wired to detach
// itself when its listener count reaches zero. Idempotent per (key,
// owner); fails with NO_SOURCE for unknown sources.
func (m *Manager) GetMappingAgent(key events.SubscriptionKey, owner *agent.Composite) (*agent.Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rk := readerKey{key: key, owner: owner}
	if r, ok := m.readers[rk]; ok {
		return r, nil
	}
	entry, ok := m.sources[key.SourceName]
	if !ok {
		return nil, errs.New("flow", errs.CodeNoSource,
			errs.WithMessage("subscription references unknown source"),
			errs.WithField("source", key.SourceName))
	}

	m.readerSeq++
	queueName := fmt.Sprintf("%s/%s#%d", key.SourceName, callbackLabel(key.CallbackType), m.readerSeq)
	q, err := queue.NewTarget(queueName, m.queueCapacity)
	if err != nil {
		return nil, err
	}
	if err := entry.pub.AddTargetQueue(q, queueName); err != nil {
		return nil, err
	}

	factory, ok := m.factories[key.CallbackType]
	if !ok {
		factory = strategy.OnEventFactory
	}
	strat := factory(owner.ActiveSlot())

	r := agent.NewReader(key, q, strat, queueName, m.retryPolicy, func() {
		m.detachReader(rk, queueName)
	})
	m.readers[rk] = r
	return r, nil
}

// detachReader drops the reader table entry and the publisher target once
// the last listener deregisters.
func (m *Manager) detachReader(rk readerKey, queueName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.readers, rk)
	if entry, ok := m.sources[rk.key.SourceName]; ok {
		entry.pub.RemoveTargetQueue(queueName)
	}
}

// ReaderCount reports the number of live readers; used by admin listing and
// tests of the listener-count/reader-presence invariant.
func (m *Manager) ReaderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readers)
}

// Publisher returns the publisher registered for the named source.
func (m *Manager) Publisher(sourceName string) (*publisher.Publisher, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sources[sourceName]
	if !ok {
		return nil, false
	}
	return entry.pub, true
}

// SourceNames lists registered sources for admin inspection.
func (m *Manager) SourceNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sources))
	for name := range m.sources {
		out = append(out, name)
	}
	return out
}

// QueueSnapshot collects the per-source queue information rows.
func (m *Manager) QueueSnapshot() []publisher.QueueInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]publisher.QueueInfo, 0, len(m.sources))
	for _, entry := range m.sources {
		out = append(out, entry.pub.QueueInformation()...)
	}
	return out
}

// AppendQueueInformation writes the admin queue snapshot to buffer as JSON:
// one row per (source, queue) with depth and capacity.
func (m *Manager) AppendQueueInformation(buffer *bytes.Buffer) error {
	if err := pool.EncodeJSONTo(buffer, m.QueueSnapshot()); err != nil {
		return fmt.Errorf("encode queue information: %w", err)
	}
	return nil
}

// Init fans out to every registered source implementing the lifecycle
// contract. Called before regular services' init.
func (m *Manager) Init() error {
	var failures []error
	for name, entry := range m.sourceEntries() {
		lc, ok := entry.src.(SourceLifecycle)
		if !ok {
			continue
		}
		if err := lc.Init(); err != nil {
			failures = append(failures, fmt.Errorf("source %s: %w", name, err))
		}
	}
	return observability.AggregateErrors("flow init", failures)
}

// Start fans out to sources, then flips every publisher live and replays
// any pre-start cached event logs. Called before regular services' start.
func (m *Manager) Start() error {
	var failures []error
	entries := m.sourceEntries()
	for name, entry := range entries {
		lc, ok := entry.src.(SourceLifecycle)
		if !ok {
			continue
		}
		if err := lc.Start(); err != nil {
			failures = append(failures, fmt.Errorf("source %s: %w", name, err))
		}
	}
	for _, entry := range entries {
		entry.pub.EnablePublish()
		entry.pub.DispatchCachedEventLog()
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return observability.AggregateErrors("flow start", failures)
}

// Started reports whether Start has completed and publishers are live.
func (m *Manager) Started() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

func (m *Manager) sourceEntries() map[string]*sourceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*sourceEntry, len(m.sources))
	for name, entry := range m.sources {
		out[name] = entry
	}
	return out
}

func callbackLabel(ct events.CallbackType) string {
	if ct.Kind == events.CallbackKindTyped {
		return ct.TypeName
	}
	return "onEvent"
}
