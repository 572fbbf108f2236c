// Package metrics exposes the playback pool, pressure monitor and session
// queue as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/reelpool/internal/playback"
)

const namespace = "reelpool"

// Metrics owns a registry and the pool event metrics. It implements
// playback.Observer.
type Metrics struct {
	registry *prometheus.Registry

	evictions           *prometheus.CounterVec
	constructions       *prometheus.CounterVec
	constructionSeconds *prometheus.HistogramVec
	capacity            prometheus.Gauge
	resident            prometheus.Gauge
}

var _ playback.Observer = (*Metrics)(nil)

// New creates the metrics and registers them, with the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "evictions_total",
			Help:      "Handles released from the pool, by reason.",
		}, []string{"reason"}),
		constructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "constructions_total",
			Help:      "Finished construction attempts, by outcome.",
		}, []string{"outcome"}),
		constructionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "construction_duration_seconds",
			Help:      "Time from admission to ready or failure.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"outcome"}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "capacity",
			Help:      "Current maximum number of resident handles.",
		}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "resident_handles",
			Help:      "Resident handles at the last capacity change.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.evictions,
		m.constructions,
		m.constructionSeconds,
		m.capacity,
		m.resident,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Register adds a collector to the registry.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HandleEvicted implements playback.Observer.
func (m *Metrics) HandleEvicted(_ string, reason playback.EvictReason) {
	m.evictions.WithLabelValues(string(reason)).Inc()
}

// ConstructionFinished implements playback.Observer.
func (m *Metrics) ConstructionFinished(_ string, outcome playback.Outcome, elapsed time.Duration) {
	m.constructions.WithLabelValues(string(outcome)).Inc()
	if elapsed > 0 {
		m.constructionSeconds.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	}
}

// CapacityChanged implements playback.Observer.
func (m *Metrics) CapacityChanged(capacity, resident int) {
	m.capacity.Set(float64(capacity))
	m.resident.Set(float64(resident))
}
