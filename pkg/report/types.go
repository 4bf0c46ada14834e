// Package report holds the validation report value and its encodings.
//
// A Report aggregates the executions of one validation suite run:
//   - summary: pass/fail counts, success rate, total duration
//   - executions: one entry per test case with per-command steps
//   - performance: suite-wide step, replanning and screenshot averages
//   - mvpTargets: the success-rate verdict against a fixed threshold
//
// Reports are exported as JSON or as a self-contained HTML document and
// persisted in a Store keyed by report id.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the report schema version.
const Version = "1.0.0"

// DefaultSuite names the built-in validation suite.
const DefaultSuite = "AI-QA Agent MVP Validation"

// DefaultSuccessTarget is the success rate a suite must reach, in percent.
const DefaultSuccessTarget = 80.0

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusSkipped
}

// TestCase is a named sequence of free-text commands.
type TestCase struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description" json:"description"`
	Commands        []string `yaml:"commands" json:"commands"`
	ExpectedResults []string `yaml:"expectedResults" json:"expectedResults"`
	Complexity      string   `yaml:"complexity" json:"complexity"` // simple, medium, complex
	Category        string   `yaml:"category" json:"category"`     // smoke, integration, regression
	Assertions      []string `yaml:"assertions,omitempty" json:"assertions,omitempty"`
}

// Step is one command of an execution.
type Step struct {
	StepNumber  int    `json:"stepNumber"`
	Description string `json:"description"`
	Action      string `json:"action"`
	Status      Status `json:"status"`
	Duration    int64  `json:"duration"` // milliseconds
	Screenshot  bool   `json:"screenshot"`
	Error       string `json:"error,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	PlanSteps   int    `json:"planSteps,omitempty"`
	Replans     int    `json:"replans,omitempty"`
}

// ActionOf returns the action verb of a command: its first word.
func ActionOf(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ExecutionPerformance holds the timings of one execution, in milliseconds.
type ExecutionPerformance struct {
	TotalDuration          int64   `json:"totalDuration"`
	StepAverageDuration    float64 `json:"stepAverageDuration"`
	SuccessRate            float64 `json:"successRate"`
	ScreenshotCaptureTimes []int64 `json:"screenshotCaptureTimes"`
	ReplanningCount        int     `json:"replanningCount"`
	AppiumActionTimes      []int64 `json:"appiumActionTimes"`
}

// Execution is one test case run.
type Execution struct {
	ID          string               `json:"id"`
	TestCase    TestCase             `json:"testCase"`
	StartTime   time.Time            `json:"startTime"`
	EndTime     *time.Time           `json:"endTime,omitempty"`
	Status      Status               `json:"status"`
	Duration    int64                `json:"duration"` // milliseconds
	Steps       []Step               `json:"steps"`
	Errors      []string             `json:"errors"`
	Performance ExecutionPerformance `json:"performance"`
}

// NewExecution starts a running execution of tc.
func NewExecution(tc TestCase) *Execution {
	return &Execution{
		ID:        "exec_" + uuid.NewString(),
		TestCase:  tc,
		StartTime: time.Now(),
		Status:    StatusRunning,
		Steps:     []Step{},
		Errors:    []string{},
		Performance: ExecutionPerformance{
			ScreenshotCaptureTimes: []int64{},
			AppiumActionTimes:      []int64{},
		},
	}
}

// Fail marks the execution failed and attaches msg to its last step.
func (e *Execution) Fail(msg string) {
	e.Status = StatusFailed
	e.Errors = append(e.Errors, msg)
	if n := len(e.Steps); n > 0 {
		e.Steps[n-1].Status = StatusFailed
		e.Steps[n-1].Error = msg
	}
}

// End stamps the end time and computes the execution's performance.
func (e *Execution) End() {
	now := time.Now()
	e.EndTime = &now
	e.Duration = now.Sub(e.StartTime).Milliseconds()
	if e.Status == StatusRunning {
		e.Status = StatusPassed
	}

	e.Performance.TotalDuration = e.Duration
	if len(e.Steps) == 0 {
		e.Performance.StepAverageDuration = 0
		e.Performance.SuccessRate = 0
		return
	}
	var total int64
	passed := 0
	for _, s := range e.Steps {
		total += s.Duration
		if s.Status == StatusPassed {
			passed++
		}
	}
	e.Performance.StepAverageDuration = float64(total) / float64(len(e.Steps))
	e.Performance.SuccessRate = float64(passed) / float64(len(e.Steps)) * 100
}

// Summary contains aggregated counts.
type Summary struct {
	TotalTests    int     `json:"totalTests"`
	Passed        int     `json:"passed"`
	Failed        int     `json:"failed"`
	Skipped       int     `json:"skipped"`
	SuccessRate   float64 `json:"successRate"`
	TotalDuration int64   `json:"totalDuration"` // milliseconds
}

// Performance holds suite-wide averages, in milliseconds.
type Performance struct {
	AvgStepDuration      float64 `json:"avgStepDuration"`
	AvgReplanningTime    float64 `json:"avgReplanningTime"`
	ScreenshotCaptureAvg float64 `json:"screenshotCaptureAvg"`
}

// Targets is the success-rate verdict.
type Targets struct {
	SuccessRateTarget    float64 `json:"successRateTarget"`
	SuccessRateActual    float64 `json:"successRateActual"`
	Meets80PercentTarget bool    `json:"meets80PercentTarget"`
}

// Report is the result of one validation suite run.
type Report struct {
	Version     string      `json:"version"`
	ID          string      `json:"id"`
	GeneratedAt time.Time   `json:"generatedAt"`
	TestSuite   string      `json:"testSuite"`
	Summary     Summary     `json:"summary"`
	Executions  []Execution `json:"executions"`
	Performance Performance `json:"performance"`
	MVPTargets  Targets     `json:"mvpTargets"`
}

// New creates an empty report for suite.
func New(suite string) *Report {
	if suite == "" {
		suite = DefaultSuite
	}
	return &Report{
		Version:     Version,
		ID:          fmt.Sprintf("report_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8]),
		GeneratedAt: time.Now(),
		TestSuite:   suite,
		Executions:  []Execution{},
		MVPTargets:  Targets{SuccessRateTarget: DefaultSuccessTarget},
	}
}

// Add appends a finished execution and counts it.
func (r *Report) Add(e Execution) {
	r.Executions = append(r.Executions, e)
	switch e.Status {
	case StatusPassed:
		r.Summary.Passed++
	case StatusFailed:
		r.Summary.Failed++
	default:
		r.Summary.Skipped++
	}
}

// Finalize computes the success rate, the verdict against target and the
// performance averages. Every execution that needed replanning counts
// replanTime towards the replanning average.
func (r *Report) Finalize(target float64, total time.Duration, replanTime time.Duration) {
	if target <= 0 {
		target = DefaultSuccessTarget
	}
	if r.Summary.TotalTests < len(r.Executions) {
		r.Summary.TotalTests = len(r.Executions)
	}
	r.Summary.TotalDuration = total.Milliseconds()
	r.Summary.SuccessRate = SuccessRate(r.Summary.Passed, r.Summary.TotalTests)

	r.MVPTargets = Targets{
		SuccessRateTarget:    target,
		SuccessRateActual:    r.Summary.SuccessRate,
		Meets80PercentTarget: r.Summary.SuccessRate >= target,
	}

	var steps, shots []int64
	replanned := 0
	for _, e := range r.Executions {
		for _, s := range e.Steps {
			steps = append(steps, s.Duration)
		}
		shots = append(shots, e.Performance.ScreenshotCaptureTimes...)
		if e.Performance.ReplanningCount > 0 {
			replanned++
		}
	}
	r.Performance.AvgStepDuration = mean(steps)
	r.Performance.ScreenshotCaptureAvg = mean(shots)
	r.Performance.AvgReplanningTime = 0
	if replanned > 0 {
		r.Performance.AvgReplanningTime = float64(replanTime.Milliseconds())
	}
}

// SuccessRate returns passed/total as a percentage.
func SuccessRate(passed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

// Entry is the listing view of a stored report.
type Entry struct {
	ID          string    `json:"id"`
	TestSuite   string    `json:"testSuite"`
	GeneratedAt time.Time `json:"generatedAt"`
	TotalTests  int       `json:"totalTests"`
	Passed      int       `json:"passed"`
	SuccessRate float64   `json:"successRate"`
	Meets       bool      `json:"meetsTarget"`
}

func mean(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}
