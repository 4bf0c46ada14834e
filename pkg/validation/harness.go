// Package validation drives batches of test cases through the execution
// engine and aggregates them into a report.
package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/config"
	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/jsengine"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
	"github.com/devicelab-dev/aiqa-agent/pkg/metrics"
	"github.com/devicelab-dev/aiqa-agent/pkg/report"
	"github.com/devicelab-dev/aiqa-agent/pkg/session"
)

// Runner executes one command to completion.
type Runner interface {
	Run(ctx context.Context, userID, command, suite string) (*session.RunResult, error)
}

var _ Runner = (*session.Controller)(nil)

// Config controls a validation run.
type Config struct {
	Suite            string
	UserID           string
	CommandTimeout   time.Duration // wall-clock guard per command
	CommandPause     time.Duration // pause between commands of a case
	PlanDelay        time.Duration // wait after planning before execution
	SuccessThreshold float64       // percent
	ReplanTime       time.Duration // counted per replanned execution in the report
	AssertionTimeout time.Duration
}

// DefaultConfig returns the stock validation settings.
func DefaultConfig() Config {
	return Config{
		Suite:            report.DefaultSuite,
		UserID:           "validation",
		CommandTimeout:   30 * time.Second,
		CommandPause:     time.Second,
		SuccessThreshold: report.DefaultSuccessTarget,
		ReplanTime:       2 * time.Second,
		AssertionTimeout: time.Second,
	}
}

// ConfigFrom maps workspace config onto harness settings.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.CommandTimeout = cfg.Validation.CommandTimeout
	c.CommandPause = cfg.Validation.CommandPause
	c.PlanDelay = cfg.Validation.PlanDelay
	c.SuccessThreshold = cfg.Validation.SuccessThreshold
	c.ReplanTime = cfg.Execution.SettleDelay
	return c
}

// Harness runs test cases one at a time.
type Harness struct {
	runner Runner
	cfg    Config
	store  *report.Store
}

// New creates a harness. store may be nil.
func New(runner Runner, cfg Config, store *report.Store) *Harness {
	def := DefaultConfig()
	if cfg.Suite == "" {
		cfg.Suite = def.Suite
	}
	if cfg.UserID == "" {
		cfg.UserID = def.UserID
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.AssertionTimeout <= 0 {
		cfg.AssertionTimeout = def.AssertionTimeout
	}
	return &Harness{runner: runner, cfg: cfg, store: store}
}

// Run executes cases in order and returns the finalized report. A command
// that fails or exceeds its guard fails only its own test case. When ctx
// ends, the remaining cases are recorded as skipped and ctx's error is
// returned with the report.
func (h *Harness) Run(ctx context.Context, cases []report.TestCase) (*report.Report, error) {
	r := report.New(h.cfg.Suite)
	r.Summary.TotalTests = len(cases)
	start := time.Now()

	logger.Info("Validation suite %q started: %d test cases", h.cfg.Suite, len(cases))

	var runErr error
	for _, tc := range cases {
		if runErr == nil {
			runErr = ctx.Err()
		}
		if runErr != nil {
			r.Add(skipped(tc, runErr))
			continue
		}
		logger.Info("Running test case: %s", tc.Name)
		r.Add(h.RunCase(ctx, tc))
	}

	r.Finalize(h.cfg.SuccessThreshold, time.Since(start), h.cfg.ReplanTime)
	metrics.RecordValidation(h.cfg.Suite, r.Summary.SuccessRate)
	logger.Info("Validation suite completed. Success rate: %.1f%% (%d/%d)",
		r.Summary.SuccessRate, r.Summary.Passed, r.Summary.TotalTests)

	if h.store != nil {
		if err := h.store.Append(context.WithoutCancel(ctx), r); err != nil {
			return r, err
		}
	}
	return r, runErr
}

// RunCase executes one test case.
func (h *Harness) RunCase(ctx context.Context, tc report.TestCase) report.Execution {
	e := report.NewExecution(tc)

	for i, command := range tc.Commands {
		e.Steps = append(e.Steps, report.Step{
			StepNumber:  i + 1,
			Description: command,
			Action:      report.ActionOf(command),
			Status:      report.StatusRunning,
		})
		step := &e.Steps[len(e.Steps)-1]

		stepStart := time.Now()
		err := h.runCommand(ctx, command, e, step)
		step.Duration = time.Since(stepStart).Milliseconds()
		if err != nil {
			logger.Error("Test case %s failed: %v", tc.ID, err)
			e.Fail(err.Error())
			e.End()
			return *e
		}
		step.Status = report.StatusPassed

		if i < len(tc.Commands)-1 {
			if err := sleep(ctx, h.cfg.CommandPause); err != nil {
				e.Fail(err.Error())
				e.End()
				return *e
			}
		}
	}

	e.End()
	if err := h.checkAssertions(ctx, e); err != nil {
		logger.Error("Test case %s failed: %v", tc.ID, err)
		e.Status = report.StatusFailed
		e.Errors = append(e.Errors, err.Error())
	}
	return *e
}

func (h *Harness) runCommand(ctx context.Context, command string, e *report.Execution, step *report.Step) error {
	logger.Info("Executing validation command: %s", command)

	if err := sleep(ctx, h.cfg.PlanDelay); err != nil {
		return err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, h.cfg.CommandTimeout)
	defer cancel()

	result, err := h.runner.Run(cmdCtx, h.cfg.UserID, command, h.cfg.Suite)
	if result != nil {
		record(result, e, step)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return core.ErrValidationTimeout.WithMessage(
				fmt.Sprintf("command %q exceeded %s", command, h.cfg.CommandTimeout)).WithCause(err)
		}
		return err
	}

	if result.Snapshot.Status == core.RunFailed {
		msg := "Execution failed during validation"
		if result.Snapshot.LastFailure != "" {
			msg += ": " + result.Snapshot.LastFailure
		}
		return core.ErrRunFailed.WithMessage(msg)
	}
	return nil
}

// record copies the device timings and replanning count of a run.
func record(result *session.RunResult, e *report.Execution, step *report.Step) {
	step.SessionID = result.Snapshot.ID
	step.PlanSteps = len(result.Steps)
	step.Replans = len(result.History)
	e.Performance.ReplanningCount += len(result.History)

	for _, s := range result.Steps {
		if s.ActionDuration > 0 {
			e.Performance.AppiumActionTimes = append(e.Performance.AppiumActionTimes, s.ActionDuration.Milliseconds())
		}
		if s.CaptureDuration > 0 {
			e.Performance.ScreenshotCaptureTimes = append(e.Performance.ScreenshotCaptureTimes, s.CaptureDuration.Milliseconds())
			step.Screenshot = true
		}
	}
}

func (h *Harness) checkAssertions(ctx context.Context, e *report.Execution) error {
	if len(e.TestCase.Assertions) == 0 || e.Status != report.StatusPassed {
		return nil
	}

	js := jsengine.New()
	if err := js.SetJSON("execution", e); err != nil {
		return err
	}
	if err := js.SetJSON("testCase", e.TestCase); err != nil {
		return err
	}

	for _, expr := range e.TestCase.Assertions {
		actx, cancel := context.WithTimeout(ctx, h.cfg.AssertionTimeout)
		ok, err := js.Assert(actx, expr)
		cancel()
		if err != nil {
			return fmt.Errorf("assertion %q: %w", expr, err)
		}
		if !ok {
			return fmt.Errorf("assertion failed: %s", expr)
		}
	}
	return nil
}

func skipped(tc report.TestCase, cause error) report.Execution {
	e := report.NewExecution(tc)
	e.Status = report.StatusSkipped
	e.Errors = append(e.Errors, "skipped: "+cause.Error())
	e.End()
	return *e
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
