package observability

import "sync"

// Metrics provides counters, gauges, and histogram recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string)       {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}

// FabricSnapshot captures dispatch-fabric runtime counters: queue depths,
// pool availability and reader retry counts, for admin export.
type FabricSnapshot struct {
	QueueDepth      map[string]int   `json:"queue_depth"`
	QueueCapacity   map[string]int   `json:"queue_capacity"`
	PoolAvailable   map[string]int64 `json:"pool_available"`
	ReaderRetries   map[string]int64 `json:"reader_retries"`
	ReaderDropped   map[string]int64 `json:"reader_dropped"`
}

// RuntimeMetrics accumulates fabric metrics in-memory for periodic export.
type RuntimeMetrics struct {
	mu       sync.Mutex
	snapshot FabricSnapshot
}

// NewRuntimeMetrics constructs a metrics accumulator with empty maps.
func NewRuntimeMetrics() *RuntimeMetrics {
	m := new(RuntimeMetrics)
	m.snapshot = FabricSnapshot{
		QueueDepth:    make(map[string]int),
		QueueCapacity: make(map[string]int),
		PoolAvailable: make(map[string]int64),
		ReaderRetries: make(map[string]int64),
		ReaderDropped: make(map[string]int64),
	}
	return m
}

// RecordQueueDepth tracks the latest depth/capacity for a named queue.
func (m *RuntimeMetrics) RecordQueueDepth(queue string, depth, capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.QueueDepth[queue] = depth
	m.snapshot.QueueCapacity[queue] = capacity
}

// RecordPoolAvailable tracks the latest availableCount for a named pool.
func (m *RuntimeMetrics) RecordPoolAvailable(pool string, available int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.PoolAvailable[pool] = available
}

// IncrementReaderRetries increments the retry counter for a reader.
func (m *RuntimeMetrics) IncrementReaderRetries(reader string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.ReaderRetries[reader]++
}

// IncrementReaderDropped increments the dropped-event counter for a reader.
func (m *RuntimeMetrics) IncrementReaderDropped(reader string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.ReaderDropped[reader]++
}

// Snapshot copies the current fabric metrics state for reporting.
func (m *RuntimeMetrics) Snapshot() FabricSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := FabricSnapshot{
		QueueDepth:    make(map[string]int, len(m.snapshot.QueueDepth)),
		QueueCapacity: make(map[string]int, len(m.snapshot.QueueCapacity)),
		PoolAvailable: make(map[string]int64, len(m.snapshot.PoolAvailable)),
		ReaderRetries: make(map[string]int64, len(m.snapshot.ReaderRetries)),
		ReaderDropped: make(map[string]int64, len(m.snapshot.ReaderDropped)),
	}
	for k, v := range m.snapshot.QueueDepth {
		out.QueueDepth[k] = v
	}
	for k, v := range m.snapshot.QueueCapacity {
		out.QueueCapacity[k] = v
	}
	for k, v := range m.snapshot.PoolAvailable {
		out.PoolAvailable[k] = v
	}
	for k, v := range m.snapshot.ReaderRetries {
		out.ReaderRetries[k] = v
	}
	for k, v := range m.snapshot.ReaderDropped {
		out.ReaderDropped[k] = v
	}
	return out
}
