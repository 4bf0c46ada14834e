// Package metrics provides Prometheus metrics for the execution engine,
// device adapter, session controller and validation harness.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// stepsTotal counts finished steps.
	// Labels:
	//   - action: plan action (e.g., "click_element", "type_text")
	//   - status: final step status ("completed", "failed")
	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiqa_steps_total",
			Help: "Total number of executed plan steps",
		},
		[]string{"action", "status"},
	)

	// stepDuration records step wall time.
	// Buckets: 0.1s .. 30s
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiqa_step_duration_seconds",
			Help:    "Duration of plan steps in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"action"},
	)

	// replansTotal counts replanning attempts.
	// Labels:
	//   - kind: failure kind that triggered the replan
	//   - outcome: "continued" or "exhausted"
	replansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiqa_replans_total",
			Help: "Total number of replanning attempts",
		},
		[]string{"kind", "outcome"},
	)

	// deviceActionsTotal counts device actions after retries.
	deviceActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiqa_device_actions_total",
			Help: "Total number of device actions",
		},
		[]string{"type", "status"},
	)

	// deviceActionRetries counts retries spent inside the adapter.
	deviceActionRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiqa_device_action_retries_total",
			Help: "Total number of device action retries",
		},
		[]string{"type"},
	)

	// deviceActionDuration records action time including backoff.
	deviceActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiqa_device_action_duration_seconds",
			Help:    "Duration of device actions including retries, in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"type"},
	)

	// runsTotal counts runs by terminal status.
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiqa_runs_total",
			Help: "Total number of finished execution runs",
		},
		[]string{"status"},
	)

	// activeSessions tracks live sessions in the controller.
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aiqa_active_sessions",
			Help: "Number of sessions held by the controller",
		},
	)

	// validationSuccessRate is the success rate of the latest validation run.
	validationSuccessRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aiqa_validation_success_rate_percent",
			Help: "Success rate of the most recent validation run per suite",
		},
		[]string{"suite"},
	)
)

func init() {
	prometheus.MustRegister(stepsTotal)
	prometheus.MustRegister(stepDuration)
	prometheus.MustRegister(replansTotal)
	prometheus.MustRegister(deviceActionsTotal)
	prometheus.MustRegister(deviceActionRetries)
	prometheus.MustRegister(deviceActionDuration)
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(activeSessions)
	prometheus.MustRegister(validationSuccessRate)
}

// RecordStep records a finished step.
func RecordStep(action, status string, durationSeconds float64) {
	stepsTotal.WithLabelValues(action, status).Inc()
	stepDuration.WithLabelValues(action).Observe(durationSeconds)
}

// RecordReplan records a replanning attempt.
func RecordReplan(kind string, continued bool) {
	outcome := "exhausted"
	if continued {
		outcome = "continued"
	}
	replansTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordDeviceAction records one adapter call.
func RecordDeviceAction(actionType string, success bool, retries int, durationSeconds float64) {
	status := "success"
	if !success {
		status = "failed"
	}
	deviceActionsTotal.WithLabelValues(actionType, status).Inc()
	if retries > 0 {
		deviceActionRetries.WithLabelValues(actionType).Add(float64(retries))
	}
	deviceActionDuration.WithLabelValues(actionType).Observe(durationSeconds)
}

// RecordRun records a run reaching a terminal status.
func RecordRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// SetActiveSessions sets the live session gauge.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordValidation records a validation run's success rate.
func RecordValidation(suite string, successRate float64) {
	validationSuccessRate.WithLabelValues(suite).Set(successRate)
}
