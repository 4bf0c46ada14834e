package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStep(t *testing.T) {
	stepsTotal.Reset()

	RecordStep("click_element", "completed", 0.4)
	RecordStep("click_element", "completed", 0.6)
	RecordStep("click_element", "failed", 1.2)

	if got := testutil.ToFloat64(stepsTotal.WithLabelValues("click_element", "completed")); got != 2 {
		t.Errorf("completed steps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(stepsTotal.WithLabelValues("click_element", "failed")); got != 1 {
		t.Errorf("failed steps = %v, want 1", got)
	}
}

func TestRecordReplan(t *testing.T) {
	replansTotal.Reset()

	RecordReplan("element_not_found", true)
	RecordReplan("element_not_found", false)

	if got := testutil.ToFloat64(replansTotal.WithLabelValues("element_not_found", "continued")); got != 1 {
		t.Errorf("continued = %v, want 1", got)
	}
	if got := testutil.ToFloat64(replansTotal.WithLabelValues("element_not_found", "exhausted")); got != 1 {
		t.Errorf("exhausted = %v, want 1", got)
	}
}

func TestRecordDeviceAction(t *testing.T) {
	deviceActionsTotal.Reset()
	deviceActionRetries.Reset()

	RecordDeviceAction("tap", true, 2, 1.5)
	RecordDeviceAction("tap", false, 3, 3.5)

	if got := testutil.ToFloat64(deviceActionsTotal.WithLabelValues("tap", "success")); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(deviceActionRetries.WithLabelValues("tap")); got != 5 {
		t.Errorf("retries = %v, want 5", got)
	}
}

func TestGauges(t *testing.T) {
	SetActiveSessions(3)
	if got := testutil.ToFloat64(activeSessions); got != 3 {
		t.Errorf("active sessions = %v, want 3", got)
	}

	RecordValidation("smoke", 75)
	if got := testutil.ToFloat64(validationSuccessRate.WithLabelValues("smoke")); got != 75 {
		t.Errorf("success rate = %v, want 75", got)
	}

	runsTotal.Reset()
	RecordRun("completed")
	if got := testutil.ToFloat64(runsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("runs = %v, want 1", got)
	}
}
