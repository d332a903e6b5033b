package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the onboarding module.
type Metrics struct {
	// Run outcomes by status and phase
	RunOutcome *prometheus.CounterVec

	// Phase-two retries scheduled
	RetriesScheduled prometheus.Counter

	// Group adds by target system and outcome
	GroupAdds *prometheus.CounterVec

	// Remote script execution latency
	ScriptLatency prometheus.Histogram
}

// New creates a Metrics instance with all onboarding metrics registered.
func New() *Metrics {
	return &Metrics{
		RunOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarder_runs_total",
			Help: "Total onboarding run outcomes by status and phase",
		}, []string{"status", "phase"}), // phase: "one", "two"

		RetriesScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarder_retries_scheduled_total",
			Help: "Total phase-two retries scheduled while waiting for sync",
		}),

		GroupAdds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarder_group_adds_total",
			Help: "Group membership copies by target system and outcome",
		}, []string{"system", "outcome"}), // system: "directory", "identity", "collab"

		ScriptLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "onboarder_script_duration_seconds",
			Help:    "Duration of remote provisioning script executions",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 90},
		}),
	}
}

// IncrementRun records a run outcome.
func (m *Metrics) IncrementRun(status, phase string) {
	if m != nil {
		m.RunOutcome.WithLabelValues(status, phase).Inc()
	}
}

// IncrementRetry records a scheduled phase-two retry.
func (m *Metrics) IncrementRetry() {
	if m != nil {
		m.RetriesScheduled.Inc()
	}
}

// CountGroupAdds records a batch of group-copy outcomes for one system.
func (m *Metrics) CountGroupAdds(system string, added, failed, skipped int) {
	if m != nil {
		m.GroupAdds.WithLabelValues(system, "added").Add(float64(added))
		m.GroupAdds.WithLabelValues(system, "failed").Add(float64(failed))
		m.GroupAdds.WithLabelValues(system, "skipped").Add(float64(skipped))
	}
}

// ObserveScriptLatency records one remote execution duration.
func (m *Metrics) ObserveScriptLatency(d time.Duration) {
	if m != nil {
		m.ScriptLatency.Observe(d.Seconds())
	}
}
