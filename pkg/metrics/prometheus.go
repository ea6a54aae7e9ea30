package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Prometheus is a Collector backed by a private registry. Vectors are
// registered on first use with the label names of that call.
type Prometheus struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _ Collector = (*Prometheus)(nil)

func NewPrometheus() *Prometheus {
	return &Prometheus{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.reg
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

func (p *Prometheus) IncCounter(name string, labels map[string]string, delta float64) {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: helpFor(name)}, labelNames(labels))
		if !p.register(name, vec) {
			p.mu.Unlock()
			return
		}
		p.counters[name] = vec
	}
	p.mu.Unlock()

	c, err := vec.GetMetricWith(labels)
	if err != nil {
		slog.Warn("dropping counter sample", "metric", name, "error", err)
		return
	}
	c.Add(delta)
}

func (p *Prometheus) SetGauge(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: helpFor(name)}, labelNames(labels))
		if !p.register(name, vec) {
			p.mu.Unlock()
			return
		}
		p.gauges[name] = vec
	}
	p.mu.Unlock()

	g, err := vec.GetMetricWith(labels)
	if err != nil {
		slog.Warn("dropping gauge sample", "metric", name, "error", err)
		return
	}
	g.Set(value)
}

func (p *Prometheus) ObserveHistogram(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels))
		if !p.register(name, vec) {
			p.mu.Unlock()
			return
		}
		p.histograms[name] = vec
	}
	p.mu.Unlock()

	h, err := vec.GetMetricWith(labels)
	if err != nil {
		slog.Warn("dropping histogram sample", "metric", name, "error", err)
		return
	}
	h.Observe(value)
}

// register must be called with p.mu held.
func (p *Prometheus) register(name string, c prometheus.Collector) bool {
	if err := p.reg.Register(c); err != nil {
		slog.Warn("failed to register metric", "metric", name, "error", err)
		return false
	}
	return true
}

// WriteText writes every gathered family in the Prometheus text format.
func (p *Prometheus) WriteText(w io.Writer) error {
	families, err := p.reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
