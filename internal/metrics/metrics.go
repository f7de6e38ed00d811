package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the label of lorasim_runs_total
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
)

// Metrics holds the simulator collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	published        *prometheus.CounterVec
	publishErrors    prometheus.Counter
	productionErrors prometheus.Counter
	runs             *prometheus.CounterVec
	running          prometheus.Gauge
	publishDuration  prometheus.Histogram
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lorasim_downlinks_published_total",
			Help: "Total downlink messages published, by device.",
		}, []string{"device"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lorasim_publish_errors_total",
			Help: "Total publish failures.",
		}),
		productionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lorasim_production_errors_total",
			Help: "Total sensor production failures.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lorasim_runs_total",
			Help: "Finished simulation runs, by outcome.",
		}, []string{"outcome"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lorasim_engine_running",
			Help: "1 while the simulation engine is running.",
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lorasim_publish_duration_seconds",
			Help:    "Histogram of publish call durations.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.published,
		m.publishErrors,
		m.productionErrors,
		m.runs,
		m.running,
		m.publishDuration,
	)

	return m
}

// Handler exposes the collectors of g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Published counts a downlink delivered for device
func (m *Metrics) Published(device string, duration time.Duration) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(device).Inc()
	m.publishDuration.Observe(duration.Seconds())
}

// PublishFailed counts a publish the sink rejected
func (m *Metrics) PublishFailed(duration time.Duration) {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
	m.publishDuration.Observe(duration.Seconds())
}

// ProductionFailed counts a run ended by a failing sensor
func (m *Metrics) ProductionFailed() {
	if m == nil {
		return
	}
	m.productionErrors.Inc()
}

// RunStarted marks the engine as running
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.running.Set(1)
}

// RunFinished records the outcome of a run and clears the running gauge
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.running.Set(0)
	m.runs.WithLabelValues(outcome).Inc()
}
