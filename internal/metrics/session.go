package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmylchreest/reelpool/internal/pressure"
	"github.com/jmylchreest/reelpool/internal/session"
)

// StatusSource supplies session snapshots. session.Coordinator implements it.
type StatusSource interface {
	Status() session.Status
	Level() pressure.Level
}

var (
	descPressureLevel = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pressure", "level"),
		"Memory pressure level: 0 normal, 1 elevated, 2 critical, 3 emergency.",
		nil, nil,
	)
	descRecentSignals = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pressure", "recent_signals"),
		"Memory signals inside the burst window.",
		nil, nil,
	)
	descEscalations = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pressure", "escalations_total"),
		"Pressure level escalations.",
		nil, nil,
	)
	descRecoveries = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pressure", "recoveries_total"),
		"Returns to normal after a quiet period.",
		nil, nil,
	)
	descResident = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "resident"),
		"Resident handles.",
		nil, nil,
	)
	descInFlight = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "in_flight"),
		"Constructions in progress, running or queued.",
		nil, nil,
	)
	descGateActive = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "gate", "active"),
		"Constructions holding a concurrency slot.",
		nil, nil,
	)
	descGateQueued = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "gate", "queued"),
		"Constructions waiting for a concurrency slot.",
		nil, nil,
	)
	descPreload = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "preload", "requests_total"),
		"Preload requests by result.",
		[]string{"result"}, nil,
	)
	descEvents = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "session", "events_total"),
		"Session events by disposition.",
		[]string{"disposition"}, nil,
	)
	descBackground = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "session", "background"),
		"1 while the app is backgrounded.",
		nil, nil,
	)
)

type sessionCollector struct {
	src StatusSource
}

var _ prometheus.Collector = (*sessionCollector)(nil)

// NewSessionCollector reads pool, pressure and queue state from src at
// scrape time.
func NewSessionCollector(src StatusSource) prometheus.Collector {
	return &sessionCollector{src: src}
}

// Describe implements prometheus.Collector.
func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descPressureLevel
	ch <- descRecentSignals
	ch <- descEscalations
	ch <- descRecoveries
	ch <- descResident
	ch <- descInFlight
	ch <- descGateActive
	ch <- descGateQueued
	ch <- descPreload
	ch <- descEvents
	ch <- descBackground
}

// Collect implements prometheus.Collector.
func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()

	gauge := func(desc *prometheus.Desc, v int, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v), labels...)
	}
	counter := func(desc *prometheus.Desc, v int, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(descPressureLevel, int(c.src.Level()))
	gauge(descRecentSignals, st.Pressure.RecentSignals)
	counter(descEscalations, st.Pressure.Escalations)
	counter(descRecoveries, st.Pressure.Recoveries)

	gauge(descResident, len(st.Pool.Resident))
	gauge(descInFlight, len(st.Pool.InFlight))
	gauge(descGateActive, st.Pool.Gate.Active)
	gauge(descGateQueued, len(st.Pool.Gate.Queued))

	counter(descPreload, st.Preload.Submitted, "submitted")
	counter(descPreload, st.Preload.Deferred, "deferred")
	counter(descPreload, st.Preload.Ready, "ready")
	counter(descPreload, st.Preload.Skipped, "skipped")
	counter(descPreload, st.Preload.Failed, "failed")

	counter(descEvents, st.Events.Posted, "posted")
	counter(descEvents, st.Events.Handled, "handled")
	counter(descEvents, st.Events.Dropped, "dropped")

	background := 0
	if st.Background {
		background = 1
	}
	gauge(descBackground, background)
}
