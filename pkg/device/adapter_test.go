package device

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/driver/mock"
)

const testBackoff = time.Millisecond

func failFirst(n int, err *core.ExecutionError) func(int, core.DeviceAction) error {
	return func(call int, _ core.DeviceAction) error {
		if call <= n {
			return err.WithMessage("Element not found: login")
		}
		return nil
	}
}

func TestAdapter_NotConnected(t *testing.T) {
	a := NewAdapter(mock.New(mock.Config{}), Options{BaseBackoff: testBackoff})

	_, err := a.Execute(context.Background(), core.DeviceAction{Type: core.ActionTap, Selector: "x"})
	if !errors.Is(err, core.ErrNotConnected) {
		t.Errorf("Execute() error = %v, want ErrNotConnected", err)
	}
}

func TestAdapter_InvalidAction(t *testing.T) {
	a := NewAdapter(mock.NewConnected(mock.Config{}), Options{BaseBackoff: testBackoff})

	_, err := a.Execute(context.Background(), core.DeviceAction{Type: "pinch"})
	if !errors.Is(err, core.ErrInvalidAction) {
		t.Errorf("Execute() error = %v, want ErrInvalidAction", err)
	}
}

func TestAdapter_SuccessFirstAttempt(t *testing.T) {
	drv := mock.NewConnected(mock.Config{})
	a := NewAdapter(drv, Options{BaseBackoff: testBackoff, ValidateUI: true, CaptureScreenshots: true})

	res, err := a.Execute(context.Background(), core.DeviceAction{Type: core.ActionTap, Selector: "btn"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false, error %q", res.ErrorMessage)
	}
	if res.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", res.RetryCount)
	}
	if len(res.Screenshot) == 0 {
		t.Error("expected follow-up screenshot")
	}
	if got := len(drv.Calls()); got != 1 {
		t.Errorf("driver calls = %d, want 1", got)
	}
}

func TestAdapter_RetriesThenSucceeds(t *testing.T) {
	drv := mock.NewConnected(mock.Config{FailWith: failFirst(2, core.ErrElementNotFound)})
	a := NewAdapter(drv, Options{BaseBackoff: 5 * time.Millisecond})

	res, err := a.Execute(context.Background(), core.DeviceAction{Type: core.ActionTap, Selector: "btn"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, error %q", res.ErrorMessage)
	}
	if res.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", res.RetryCount)
	}
	// backoff 1*5ms + 2*5ms
	if res.Duration < 15*time.Millisecond {
		t.Errorf("Duration = %v, want >= 15ms including backoff", res.Duration)
	}
}

func TestAdapter_ExhaustsBudget(t *testing.T) {
	drv := mock.NewConnected(mock.Config{FailWith: failFirst(100, core.ErrElementNotFound)})
	a := NewAdapter(drv, Options{BaseBackoff: testBackoff})

	res, err := a.Execute(context.Background(), core.DeviceAction{Type: core.ActionTap, Selector: "btn"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if res.RetryCount != core.DefaultRetries {
		t.Errorf("RetryCount = %d, want %d", res.RetryCount, core.DefaultRetries)
	}
	if !strings.HasPrefix(res.ErrorMessage, "Action failed after 3 attempts. Last error: Element not found") {
		t.Errorf("ErrorMessage = %q", res.ErrorMessage)
	}
	if res.Kind != core.KindElementNotFound {
		t.Errorf("Kind = %q, want %q", res.Kind, core.KindElementNotFound)
	}
	if got := len(drv.Calls()); got != 3 {
		t.Errorf("driver calls = %d, want 3", got)
	}
}

func TestAdapter_CustomRetryBudget(t *testing.T) {
	drv := mock.NewConnected(mock.Config{FailWith: failFirst(100, core.ErrNetworkTimeout)})
	a := NewAdapter(drv, Options{BaseBackoff: testBackoff})

	res, _ := a.Execute(context.Background(), core.DeviceAction{Type: core.ActionSwipe, Retries: 2})
	if res.RetryCount != 2 || len(drv.Calls()) != 2 {
		t.Errorf("RetryCount = %d, calls = %d, want 2, 2", res.RetryCount, len(drv.Calls()))
	}
	if res.Kind != core.KindNetworkTimeout {
		t.Errorf("Kind = %q, want %q", res.Kind, core.KindNetworkTimeout)
	}
}

func TestAdapter_DefaultRetriesOption(t *testing.T) {
	drv := mock.NewConnected(mock.Config{FailWith: failFirst(100, core.ErrNetworkTimeout)})
	a := NewAdapter(drv, Options{BaseBackoff: testBackoff, Retries: 1})

	a.Execute(context.Background(), core.DeviceAction{Type: core.ActionSwipe})
	if got := len(drv.Calls()); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}

	drv = mock.NewConnected(mock.Config{FailWith: failFirst(100, core.ErrNetworkTimeout)})
	a = NewAdapter(drv, Options{BaseBackoff: testBackoff, Retries: 1})
	a.Execute(context.Background(), core.DeviceAction{Type: core.ActionSwipe, Retries: 2})
	if got := len(drv.Calls()); got != 2 {
		t.Errorf("calls with explicit budget = %d, want 2", got)
	}
}

func TestAdapter_UIValidationFailureIsNotFatal(t *testing.T) {
	empty := ""
	drv := mock.NewConnected(mock.Config{PageSource: &empty})
	a := NewAdapter(drv, Options{BaseBackoff: testBackoff, ValidateUI: true})

	res, err := a.Execute(context.Background(), core.DeviceAction{Type: core.ActionTap, Selector: "btn"})
	if err != nil || !res.Success {
		t.Errorf("Execute() = %+v, %v; want success despite failed UI validation", res, err)
	}
}

func TestAdapter_AdvisoryTimeout(t *testing.T) {
	drv := mock.NewConnected(mock.Config{StepDelay: 50 * time.Millisecond})
	a := NewAdapter(drv, Options{BaseBackoff: testBackoff})

	res, err := a.Execute(context.Background(), core.DeviceAction{Type: core.ActionTap, Selector: "btn", Timeout: 5 * time.Millisecond, Retries: 1})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Success {
		t.Fatal("Success = true, want timeout failure")
	}
	if !strings.Contains(res.ErrorMessage, "timed out") {
		t.Errorf("ErrorMessage = %q, want timeout", res.ErrorMessage)
	}
}

func TestAdapter_CancelDuringBackoff(t *testing.T) {
	drv := mock.NewConnected(mock.Config{FailWith: failFirst(100, core.ErrElementNotFound)})
	a := NewAdapter(drv, Options{BaseBackoff: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := a.Execute(ctx, core.DeviceAction{Type: core.ActionTap, Selector: "btn"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if got := len(drv.Calls()); got != 1 {
		t.Errorf("driver calls = %d, want 1 (backoff interrupted)", got)
	}
}

func TestConnect_Backoff(t *testing.T) {
	drv := mock.New(mock.Config{ConnectFailures: 2})

	id, err := Connect(context.Background(), drv, core.DefaultCapabilities(), ConnectOptions{Attempts: 3, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if id == "" || drv.ConnectCalls() != 3 {
		t.Errorf("id = %q, ConnectCalls = %d, want non-empty, 3", id, drv.ConnectCalls())
	}
}

func TestConnect_GivesUp(t *testing.T) {
	drv := mock.New(mock.Config{ConnectFailures: 5})

	_, err := Connect(context.Background(), drv, core.DefaultCapabilities(), ConnectOptions{Attempts: 3, Backoff: time.Millisecond})
	if !errors.Is(err, core.ErrNotConnected) {
		t.Errorf("Connect() error = %v, want ErrNotConnected", err)
	}
	if drv.ConnectCalls() != 3 {
		t.Errorf("ConnectCalls = %d, want 3", drv.ConnectCalls())
	}
}
