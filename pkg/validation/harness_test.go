package validation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/executor"
	"github.com/devicelab-dev/aiqa-agent/pkg/plan"
	"github.com/devicelab-dev/aiqa-agent/pkg/report"
	"github.com/devicelab-dev/aiqa-agent/pkg/session"
)

// fakeRunner completes every command except those containing failOn, and
// blocks on commands containing hangOn until ctx ends.
type fakeRunner struct {
	failOn string
	hangOn string

	mu       sync.Mutex
	commands []string
}

func (f *fakeRunner) Run(ctx context.Context, userID, command, suite string) (*session.RunResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	res := &session.RunResult{
		Snapshot: session.Snapshot{ID: "s-" + command, Status: core.RunCompleted, Command: command, Suite: suite},
		Steps: []executor.StepRecord{
			{ID: 1, Status: core.StatusCompleted, ActionDuration: 20 * time.Millisecond, CaptureDuration: 10 * time.Millisecond},
		},
	}
	if f.hangOn != "" && strings.Contains(command, f.hangOn) {
		<-ctx.Done()
		res.Snapshot.Status = core.RunAborted
		return res, ctx.Err()
	}
	if f.failOn != "" && strings.Contains(command, f.failOn) {
		res.Snapshot.Status = core.RunFailed
		res.Snapshot.LastFailure = "Element not found: Search button missing"
		res.History = make([]executor.HistoryEntry, 3)
	}
	return res, nil
}

func testConfig() Config {
	return Config{
		Suite:            "unit",
		CommandTimeout:   time.Second,
		SuccessThreshold: 80,
		ReplanTime:       2 * time.Second,
	}
}

func TestHarness_ThreeOfFourPass(t *testing.T) {
	cases := DefaultCatalog().Cases
	h := New(&fakeRunner{failOn: "checkout"}, testConfig(), nil)

	r, err := h.Run(context.Background(), cases)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r.Summary.TotalTests != 4 || r.Summary.Passed != 3 || r.Summary.Failed != 1 {
		t.Errorf("Summary = %+v, want 4 tests 3 passed 1 failed", r.Summary)
	}
	if r.Summary.SuccessRate != 75 {
		t.Errorf("SuccessRate = %v, want 75", r.Summary.SuccessRate)
	}
	if r.MVPTargets.Meets80PercentTarget {
		t.Error("Meets80PercentTarget = true, want false")
	}
	if r.Performance.AvgReplanningTime != 2000 {
		t.Errorf("AvgReplanningTime = %v, want 2000", r.Performance.AvgReplanningTime)
	}

	failed := r.Executions[3]
	if failed.TestCase.ID != "integration-002" || failed.Status != report.StatusFailed {
		t.Fatalf("executions[3] = %s %s, want integration-002 failed", failed.TestCase.ID, failed.Status)
	}
	// browse, add, modify, proceed: the fourth command fails and ends the case
	if len(failed.Steps) != 4 {
		t.Fatalf("failed case ran %d steps, want 4", len(failed.Steps))
	}
	last := failed.Steps[3]
	if last.Status != report.StatusFailed || !strings.Contains(last.Error, "Execution failed during validation") {
		t.Errorf("last step = %+v, want failed with run error", last)
	}
	if failed.Performance.ReplanningCount != 3 {
		t.Errorf("ReplanningCount = %d, want 3", failed.Performance.ReplanningCount)
	}
	if len(failed.Errors) != 1 {
		t.Errorf("Errors = %v, want one", failed.Errors)
	}
}

func TestHarness_StepDetails(t *testing.T) {
	tc := DefaultCatalog().Cases[0]
	h := New(&fakeRunner{}, testConfig(), nil)

	e := h.RunCase(context.Background(), tc)
	if e.Status != report.StatusPassed {
		t.Fatalf("Status = %s, errors %v", e.Status, e.Errors)
	}
	if len(e.Steps) != len(tc.Commands) {
		t.Fatalf("len(Steps) = %d, want %d", len(e.Steps), len(tc.Commands))
	}
	for i, s := range e.Steps {
		if s.StepNumber != i+1 || s.Description != tc.Commands[i] || s.Status != report.StatusPassed {
			t.Errorf("steps[%d] = %+v", i, s)
		}
		if !s.Screenshot || s.PlanSteps != 1 {
			t.Errorf("steps[%d] = %+v, want screenshot and one plan step", i, s)
		}
	}
	if e.Steps[1].Action != "search" {
		t.Errorf("Action = %q, want search", e.Steps[1].Action)
	}
	if got := len(e.Performance.AppiumActionTimes); got != 4 {
		t.Errorf("len(AppiumActionTimes) = %d, want 4", got)
	}
	if got := len(e.Performance.ScreenshotCaptureTimes); got != 4 {
		t.Errorf("len(ScreenshotCaptureTimes) = %d, want 4", got)
	}
	if e.Performance.SuccessRate != 100 {
		t.Errorf("SuccessRate = %v, want 100", e.Performance.SuccessRate)
	}
}

func TestHarness_CommandTimeout(t *testing.T) {
	cases := []report.TestCase{
		{ID: "hang", Name: "Hang", Commands: []string{"launch app", "wait forever", "never runs"}},
		{ID: "ok", Name: "OK", Commands: []string{"launch app"}},
	}
	cfg := testConfig()
	cfg.CommandTimeout = 50 * time.Millisecond
	runner := &fakeRunner{hangOn: "forever"}
	h := New(runner, cfg, nil)

	r, err := h.Run(context.Background(), cases)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	hang := r.Executions[0]
	if hang.Status != report.StatusFailed {
		t.Fatalf("hang status = %s, want failed", hang.Status)
	}
	if len(hang.Steps) != 2 || !strings.Contains(hang.Steps[1].Error, "exceeded") {
		t.Errorf("hang steps = %+v, want timeout on the second step", hang.Steps)
	}
	if r.Executions[1].Status != report.StatusPassed {
		t.Errorf("timeout must not abort the batch, second case = %s", r.Executions[1].Status)
	}
	for _, c := range runner.commands {
		if c == "never runs" {
			t.Error("commands after a timeout must not run")
		}
	}
}

func TestHarness_CanceledSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := New(&fakeRunner{}, testConfig(), nil)
	r, err := h.Run(ctx, DefaultCatalog().Cases)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if r.Summary.Skipped != 4 || r.Summary.Passed != 0 {
		t.Errorf("Summary = %+v, want all skipped", r.Summary)
	}
	if r.Summary.SuccessRate != 0 {
		t.Errorf("SuccessRate = %v, want 0", r.Summary.SuccessRate)
	}
}

func TestHarness_Assertions(t *testing.T) {
	tc := report.TestCase{
		ID:         "asserted",
		Commands:   []string{"launch app", "take screenshot"},
		Assertions: []string{`execution.steps.length === 2`, `execution.steps.some(s => s.replans > 0)`},
	}
	h := New(&fakeRunner{}, testConfig(), nil)

	e := h.RunCase(context.Background(), tc)
	if e.Status != report.StatusFailed {
		t.Fatalf("Status = %s, want failed on the second assertion", e.Status)
	}
	if len(e.Errors) != 1 || !strings.Contains(e.Errors[0], "assertion failed") {
		t.Errorf("Errors = %v, want one assertion failure", e.Errors)
	}

	tc.Assertions = tc.Assertions[:1]
	if e := h.RunCase(context.Background(), tc); e.Status != report.StatusPassed {
		t.Errorf("Status = %s, want passed, errors %v", e.Status, e.Errors)
	}
}

func TestHarness_StoresReport(t *testing.T) {
	store, err := report.OpenStore(filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	h := New(&fakeRunner{}, testConfig(), store)
	r, err := h.Run(context.Background(), DefaultCatalog().Category("smoke"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, err := store.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Summary.Passed != 2 || !got.MVPTargets.Meets80PercentTarget {
		t.Errorf("stored summary = %+v / %+v", got.Summary, got.MVPTargets)
	}
}

// switchRunner routes commands through a real controller and makes the
// simulated device fail every step of commands containing failOn.
type switchRunner struct {
	controller *session.Controller
	failing    *atomic.Bool
	failOn     string
}

func (s *switchRunner) Run(ctx context.Context, userID, command, suite string) (*session.RunResult, error) {
	s.failing.Store(strings.Contains(command, s.failOn))
	return s.controller.Run(ctx, userID, command, suite)
}

func TestHarness_WithController(t *testing.T) {
	failing := &atomic.Bool{}
	injector := executor.InjectorFunc(func(step int) *executor.Failure {
		if failing.Load() {
			return &executor.Failure{Reason: "Element not found: Search button missing", Kind: core.KindElementNotFound}
		}
		return nil
	})
	factory := func(obs executor.Observer) *executor.Engine {
		return executor.NewEngine(executor.Config{
			SettleDelay:       time.Millisecond,
			RerunDelay:        time.Millisecond,
			MaxReplanAttempts: 3,
			Simulation:        executor.Simulation{Enabled: true, Injector: injector},
		}, nil, obs)
	}
	controller := session.NewController(plan.NewGenerator(), factory, nil)
	runner := &switchRunner{controller: controller, failing: failing, failOn: "purchase"}

	h := New(runner, Config{Suite: "integration", CommandTimeout: 5 * time.Second, SuccessThreshold: 80}, nil)
	r, err := h.Run(context.Background(), DefaultCatalog().Cases)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r.Summary.Passed != 3 || r.Summary.Failed != 1 || r.Summary.SuccessRate != 75 {
		t.Errorf("Summary = %+v, want 3 passed 1 failed at 75%%", r.Summary)
	}
	if r.MVPTargets.Meets80PercentTarget {
		t.Error("Meets80PercentTarget = true, want false")
	}
	failed := r.Executions[3]
	if failed.Performance.ReplanningCount != 3 {
		t.Errorf("ReplanningCount = %d, want 3", failed.Performance.ReplanningCount)
	}
	if !strings.Contains(failed.Steps[len(failed.Steps)-1].Error, "Element not found") {
		t.Errorf("last step error = %q, want the run's last failure", failed.Steps[len(failed.Steps)-1].Error)
	}
}

func TestCatalog_Default(t *testing.T) {
	c := DefaultCatalog()
	if len(c.Cases) != 4 {
		t.Fatalf("len(Cases) = %d, want 4", len(c.Cases))
	}
	first := c.Cases[0]
	if first.ID != "smoke-001" || len(first.Commands) != 4 || first.Commands[1] != `search for "test query"` {
		t.Errorf("Cases[0] = %+v", first)
	}
	if got := len(c.Category("smoke")); got != 2 {
		t.Errorf("smoke cases = %d, want 2", got)
	}
	if got := len(c.Category("Integration")); got != 2 {
		t.Errorf("integration cases = %d, want 2", got)
	}
}

func TestCatalog_Select(t *testing.T) {
	c := DefaultCatalog()

	got, err := c.Select("integration-001", "smoke-002")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "smoke-002" || got[1].ID != "integration-001" {
		t.Errorf("Select() = %v, want catalog order", got)
	}

	all, _ := c.Select()
	if len(all) != 4 {
		t.Errorf("Select() with no ids = %d cases, want 4", len(all))
	}

	if _, err := c.Select("missing"); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Select(missing) error = %v, want ErrInvalidConfig", err)
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no id", "- name: x\n  commands: [a]\n"},
		{"duplicate", "- id: a\n  commands: [x]\n- id: a\n  commands: [y]\n"},
		{"no commands", "- id: a\n"},
		{"blank command", "- id: a\n  commands: ['  ']\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadCatalog_EmptyPath(t *testing.T) {
	c, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	if len(c.Cases) != 4 {
		t.Errorf("len(Cases) = %d, want 4", len(c.Cases))
	}
}
