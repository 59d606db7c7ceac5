package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewWith(prometheus.NewRegistry())

	m.IncStage("review")
	m.IncStage("review")
	m.IncOutcome("Approved", "Completed")
	m.IncGuardRejection("complete_transaction", "validation_failed")
	m.ObserveDependency("assessment", "ok", 120*time.Millisecond)
	m.CallStarted()
	m.CallStarted()
	m.CallFinished()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageTransitions.WithLabelValues("review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("Approved", "Completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardRejections.WithLabelValues("complete_transaction", "validation_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DependencyLatency))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncStage("review")
		m.IncOutcome("Approved", "Completed")
		m.IncGuardRejection("x", "y")
		m.ObserveDependency("save", "error", time.Second)
		m.CallStarted()
		m.CallFinished()
	})
}
