// Package plan models the abstract action plans the engine executes.
package plan

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
)

// Step is one abstract action in a plan.
type Step struct {
	Action      string        `yaml:"action" json:"action"`
	Description string        `yaml:"description" json:"description"`
	Selector    string        `yaml:"selector,omitempty" json:"selector,omitempty"`
	Text        string        `yaml:"text,omitempty" json:"text,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

var quotedText = regexp.MustCompile(`"([^"]+)"`)

// IsTyping reports whether the step enters text.
func (s Step) IsTyping() bool {
	a := strings.ToLower(s.Action)
	return strings.Contains(a, "type") || strings.Contains(a, "input")
}

// TypedText returns the text a typing step enters: Text, else the first
// quoted string in the description.
func (s Step) TypedText() string {
	if s.Text != "" {
		return s.Text
	}
	if m := quotedText.FindStringSubmatch(s.Description); m != nil {
		return m[1]
	}
	return ""
}

// Complexity buckets a plan by step count.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Metadata describes a plan for reporting.
type Metadata struct {
	Complexity        Complexity    `json:"complexity"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	RequiresAuth      bool          `json:"requiresAuth"`

	// Set on plans produced by replanning
	ReplanReason    string `json:"replanReason,omitempty"`
	AttemptNumber   int    `json:"attemptNumber,omitempty"`
	OriginalFailure string `json:"originalFailure,omitempty"`
}

// Plan is an ordered list of steps with a confidence score.
type Plan struct {
	Command    string   `json:"command,omitempty"`
	Confidence float64  `json:"confidence"`
	Steps      []Step   `json:"steps"`
	Metadata   Metadata `json:"metadata"`
}

// stepDurationEstimate is the per-step budget used for EstimatedDuration.
const stepDurationEstimate = 2 * time.Second

// ComplexityFor buckets a step count.
func ComplexityFor(steps int) Complexity {
	switch {
	case steps <= 4:
		return ComplexitySimple
	case steps <= 6:
		return ComplexityMedium
	default:
		return ComplexityComplex
	}
}

// Describe fills metadata derived from the steps.
func (p *Plan) Describe(requiresAuth bool) {
	p.Metadata.Complexity = ComplexityFor(len(p.Steps))
	p.Metadata.EstimatedDuration = time.Duration(len(p.Steps)) * stepDurationEstimate
	p.Metadata.RequiresAuth = requiresAuth
}

// Validate checks the plan schema.
func (p *Plan) Validate() error {
	if p == nil {
		return core.ErrInvalidPlan.WithMessage("plan is nil")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return core.ErrInvalidPlan.WithMessage(fmt.Sprintf("confidence %.2f not in [0,1]", p.Confidence))
	}
	if len(p.Steps) == 0 {
		return core.ErrInvalidPlan.WithMessage("plan has no steps")
	}
	for i, s := range p.Steps {
		if s.Action == "" {
			return core.ErrInvalidPlan.WithMessage(fmt.Sprintf("step %d: missing action", i))
		}
		if s.Description == "" {
			return core.ErrInvalidPlan.WithMessage(fmt.Sprintf("step %d: missing description", i))
		}
		if s.IsTyping() && s.TypedText() == "" {
			return core.ErrInvalidPlan.WithMessage(fmt.Sprintf("step %d: %s has no text to type", i, s.Action))
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Steps = append([]Step(nil), p.Steps...)
	return &c
}
