package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Outcome label values for processed status updates.
const (
	OutcomeHandled   = "handled"
	OutcomeAbsorbed  = "absorbed" // unresolvable or stale, dropped on purpose
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// Metrics holds the engine and consumer instruments.
type Metrics struct {
	StatusUpdatesProcessed *prometheus.CounterVec
	StatusUpdateDuration   prometheus.Histogram
	StepsDispatched        prometheus.Counter
	PipelineFailures       prometheus.Counter
	ActiveSessions         prometheus.Gauge
	ConsumerRestarts       prometheus.Counter
}

// Registry owns a private Prometheus registry with the engine metrics and
// Go runtime collectors registered.
type Registry struct {
	registry *prometheus.Registry
	Metrics  *Metrics
}

// NewRegistry creates a registry with all core instruments registered.
func NewRegistry() *Registry {
	m := &Metrics{
		StatusUpdatesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsplane_statusupdates_processed_total",
			Help: "Status update messages processed, by outcome",
		}, []string{"outcome"}),
		StatusUpdateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opsplane_statusupdate_duration_seconds",
			Help:    "Time spent handling one status update message",
			Buckets: prometheus.DefBuckets,
		}),
		StepsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsplane_steps_dispatched_total",
			Help: "Pipeline steps dispatched to the work queue",
		}),
		PipelineFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsplane_pipeline_failures_total",
			Help: "Operations that reached a failure terminal status",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opsplane_active_sessions",
			Help: "Sessions currently held by this process",
		}),
		ConsumerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsplane_consumer_restarts_total",
			Help: "Consumer loops restarted by the supervisor",
		}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m.StatusUpdatesProcessed,
		m.StatusUpdateDuration,
		m.StepsDispatched,
		m.PipelineFailures,
		m.ActiveSessions,
		m.ConsumerRestarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{registry: reg, Metrics: m}
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Registerer returns the registry as a prometheus.Registerer for packages
// that register their own instruments (e.g. the template cache).
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}
