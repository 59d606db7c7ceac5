package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the processing module.
type Metrics struct {
	// Stage entries by stage
	StageTransitions *prometheus.CounterVec

	// Gateway and store call latency by dependency and result
	DependencyLatency *prometheus.HistogramVec

	// Persisted outcomes by decision and status
	Outcomes *prometheus.CounterVec

	// Commands refused by a guard, by command and error code
	GuardRejections *prometheus.CounterVec

	// Attempts currently waiting on a gateway or store call
	InFlight prometheus.Gauge
}

// New registers the processing metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the processing metrics on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_processing_stage_transitions_total",
			Help: "Total attempt stage entries by stage",
		}, []string{"stage"}),

		DependencyLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkpoint_processing_dependency_duration_seconds",
			Help:    "Duration of gateway and store calls by dependency and result",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
		}, []string{"dependency", "result"}), // dependency: "extraction", "assessment", "save"

		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_processing_outcomes_total",
			Help: "Total persisted transactions by decision and status",
		}, []string{"decision", "status"}),

		GuardRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_processing_guard_rejections_total",
			Help: "Total officer commands refused by a guard",
		}, []string{"command", "code"}),

		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_processing_inflight_calls",
			Help: "Attempts currently waiting on a gateway or store call",
		}),
	}
}

func (m *Metrics) IncStage(stage string) {
	if m != nil {
		m.StageTransitions.WithLabelValues(stage).Inc()
	}
}

// ObserveDependency records one call. result is "ok", "error" or "timeout".
func (m *Metrics) ObserveDependency(dependency, result string, d time.Duration) {
	if m != nil {
		m.DependencyLatency.WithLabelValues(dependency, result).Observe(d.Seconds())
	}
}

func (m *Metrics) IncOutcome(decision, status string) {
	if m != nil {
		m.Outcomes.WithLabelValues(decision, status).Inc()
	}
}

func (m *Metrics) IncGuardRejection(command, code string) {
	if m != nil {
		m.GuardRejections.WithLabelValues(command, code).Inc()
	}
}

func (m *Metrics) CallStarted() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) CallFinished() {
	if m != nil {
		m.InFlight.Dec()
	}
}
