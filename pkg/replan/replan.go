// Package replan turns a step failure into a continuation plan.
//
// The replanner is a pure function of its Context: it picks a repair
// strategy by failure kind, prepends recovery steps to the remaining plan
// and scores the result with a confidence that decays per attempt.
package replan

import (
	"fmt"
	"math"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/plan"
)

// DefaultMaxAttempts is the replanning budget per run.
const DefaultMaxAttempts = 3

// Confidence model: 0.85 on the first attempt, minus 0.15 per further attempt, floored.
const (
	baseConfidence  = 0.85
	confidenceDecay = 0.15
	confidenceFloor = 0.3
)

// extendedTimeoutSuffix marks steps retried after a network timeout.
const extendedTimeoutSuffix = " (with extended timeout)"

// Context is the snapshot taken when a step fails. It is never mutated
// after creation.
type Context struct {
	OriginalCommand string           `json:"originalCommand"`
	CurrentStep     int              `json:"currentStep"` // zero-based index of the failed step
	TotalSteps      int              `json:"totalSteps"`
	FailureReason   string           `json:"failureReason"`
	Kind            core.FailureKind `json:"kind"`
	AttemptNumber   int              `json:"attemptNumber"`
	MaxAttempts     int              `json:"maxAttempts"`
	PreviousPlan    []plan.Step      `json:"previousPlan"`
	UIContext       string           `json:"uiContext,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// Result is the replanner's answer.
type Result struct {
	Success        bool       `json:"success"`
	NewPlan        *plan.Plan `json:"newPlan,omitempty"`
	Confidence     float64    `json:"confidence"`
	Reason         string     `json:"reason"`
	ShouldContinue bool       `json:"shouldContinue"`
}

// Confidence returns the score for the n-th attempt (1-based).
func Confidence(attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	c := math.Max(confidenceFloor, baseConfidence-confidenceDecay*float64(attempt-1))
	return math.Round(c*100) / 100
}

// strategy is one row of the repair table.
type strategy struct {
	reason   string
	recovery []plan.Step
	// offset applied to the failed index when slicing the remaining steps
	offset int
	// suffix appended to each remaining step's description
	suffix string
}

var strategies = map[core.FailureKind]strategy{
	core.KindElementNotFound: {
		reason: "Added wait and scroll steps to handle missing element",
		recovery: []plan.Step{
			{Action: "wait_for_element", Description: "Wait for UI to stabilize"},
			{Action: "take_screenshot", Description: "Capture current state"},
			{Action: "scroll_down", Description: "Scroll to find element"},
		},
	},
	core.KindPermissionPopup: {
		reason: "Added popup handling steps",
		recovery: []plan.Step{
			{Action: "click_element", Description: "Accept permission popup"},
			{Action: "wait_for_element", Description: "Wait for popup to dismiss"},
		},
	},
	core.KindNetworkTimeout: {
		reason: "Added network recovery and extended timeouts",
		recovery: []plan.Step{
			{Action: "wait_for_element", Description: "Wait for network recovery"},
			{Action: "refresh_app", Description: "Refresh app if needed"},
		},
		suffix: extendedTimeoutSuffix,
	},
}

var fallback = strategy{
	reason: "Fallback recovery strategy - navigate back and retry",
	recovery: []plan.Step{
		{Action: "navigate_back", Description: "Go back to safe state"},
		{Action: "take_screenshot", Description: "Capture recovery state"},
	},
	offset: -1,
}

// ResolveKind returns the context's typed kind, classifying the free-text
// reason only when no kind was recorded.
func (c Context) ResolveKind() core.FailureKind {
	if c.Kind != "" && c.Kind != core.KindUnknown {
		return c.Kind
	}
	return core.ClassifyReason(c.FailureReason)
}

// Replan produces a continuation plan for the failure in c.
func Replan(c Context) Result {
	kind := c.ResolveKind()
	s, ok := strategies[kind]
	if !ok {
		s = fallback
	}

	from := c.CurrentStep + s.offset
	if from < 0 {
		from = 0
	}
	if from > len(c.PreviousPlan) {
		from = len(c.PreviousPlan)
	}

	steps := make([]plan.Step, 0, len(s.recovery)+len(c.PreviousPlan)-from)
	steps = append(steps, s.recovery...)
	for _, st := range c.PreviousPlan[from:] {
		if s.suffix != "" {
			st.Description += s.suffix
		}
		steps = append(steps, st)
	}

	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	confidence := Confidence(c.AttemptNumber)
	newPlan := &plan.Plan{
		Command:    c.OriginalCommand,
		Confidence: confidence,
		Steps:      steps,
		Metadata: plan.Metadata{
			ReplanReason:    s.reason,
			AttemptNumber:   c.AttemptNumber,
			OriginalFailure: c.FailureReason,
		},
	}
	newPlan.Describe(false)

	return Result{
		Success:        true,
		NewPlan:        newPlan,
		Confidence:     confidence,
		Reason:         s.reason,
		ShouldContinue: c.AttemptNumber < maxAttempts,
	}
}

// Summary renders a one-line log entry for the attempt.
func Summary(c Context, r Result) string {
	return fmt.Sprintf("Replanning (Attempt %d/%d): %s [confidence %.2f]", c.AttemptNumber, c.MaxAttempts, r.Reason, r.Confidence)
}
