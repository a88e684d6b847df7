package observability

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements Metrics on top of client_golang, registering
// vectors lazily on first use of each metric name so callers don't have to
// pre-declare every counter/gauge/histogram up front.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu          sync.Mutex
	counters    map[string]*prometheus.CounterVec
	gauges      map[string]*prometheus.GaugeVec
	histograms  map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics constructs a PrometheusMetrics bound to the given
// registry. A nil registry uses prometheus.NewRegistry().
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &PrometheusMetrics{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying prometheus registry for HTTP exposition.
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusMetrics) IncCounter(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: metricName(name), Help: name}, keys)
		p.registry.MustRegister(vec)
		p.counters[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Add(value)
}

func (p *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: metricName(name), Help: name}, keys)
		p.registry.MustRegister(vec)
		p.histograms[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Observe(value)
}

func (p *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: metricName(name), Help: name}, keys)
		p.registry.MustRegister(vec)
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

func metricName(name string) string {
	replaced := strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
	return "mongoose_" + replaced
}

func splitLabels(labels map[string]string) (keys, values []string) {
	if len(labels) == 0 {
		return nil, nil
	}
	keys = make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values = make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, labels[k])
	}
	return keys, values
}
