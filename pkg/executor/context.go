package executor

import (
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/plan"
	"github.com/devicelab-dev/aiqa-agent/pkg/replan"
)

// StepRecord tracks one step of a run.
type StepRecord struct {
	ID          int             `json:"id"`
	Description string          `json:"description"`
	Action      string          `json:"action"`
	Selector    string          `json:"selector,omitempty"`
	Text        string          `json:"text,omitempty"`
	Timeout     time.Duration   `json:"timeout,omitempty"`
	Status      core.StepStatus `json:"status"`
	Timestamp   time.Time       `json:"timestamp,omitempty"`
	Duration    time.Duration   `json:"duration,omitempty"`
	Screenshot  bool            `json:"screenshot"`
	Recovery    bool            `json:"recovery,omitempty"`
	Error       string          `json:"error,omitempty"`

	// Interrupted marks a step resolved to completed by a pause while it was running
	Interrupted bool `json:"interrupted,omitempty"`

	// Device timings, zero in simulation
	ActionDuration  time.Duration `json:"actionDuration,omitempty"`
	CaptureDuration time.Duration `json:"captureDuration,omitempty"`
	Retries         int           `json:"retries,omitempty"`
}

// PlanStep returns the plan step the record was built from.
func (r StepRecord) PlanStep() plan.Step {
	return plan.Step{
		Action:      r.Action,
		Description: r.Description,
		Selector:    r.Selector,
		Text:        r.Text,
		Timeout:     r.Timeout,
	}
}

// HistoryEntry is one replanning attempt kept for audit.
type HistoryEntry struct {
	Context replan.Context `json:"context"`
	Result  replan.Result  `json:"result"`
}

// ExecutionContext is the state of one run, owned by a single Engine.
type ExecutionContext struct {
	ID             string
	Command        string
	Status         core.RunStatus
	Steps          []StepRecord
	CurrentStep    int // steps selected so far; the next step runs at this index
	ReplanAttempts int
	History        []HistoryEntry
	LastFailure    string
	StartedAt      time.Time
	EndedAt        time.Time

	nextID int
}

// newRecords builds pending records for plan steps.
func (ec *ExecutionContext) newRecords(steps []plan.Step, recovery bool) []StepRecord {
	records := make([]StepRecord, 0, len(steps))
	for _, s := range steps {
		ec.nextID++
		records = append(records, StepRecord{
			ID:          ec.nextID,
			Description: s.Description,
			Action:      s.Action,
			Selector:    s.Selector,
			Text:        s.Text,
			Timeout:     s.Timeout,
			Status:      core.StatusPending,
			Screenshot:  !recovery,
			Recovery:    recovery,
		})
	}
	return records
}

// reset prepares the context for a fresh run of p.
func (ec *ExecutionContext) reset(id string, p *plan.Plan) {
	ec.ID = id
	ec.Command = p.Command
	ec.CurrentStep = 0
	ec.ReplanAttempts = 0
	ec.History = nil
	ec.LastFailure = ""
	ec.StartedAt = time.Now()
	ec.EndedAt = time.Time{}
	ec.nextID = 0
	ec.Steps = ec.newRecords(p.Steps, false)
}

// splice inserts recovery steps right after the current position.
func (ec *ExecutionContext) splice(steps []plan.Step) {
	records := ec.newRecords(steps, true)
	at := ec.CurrentStep
	tail := append([]StepRecord(nil), ec.Steps[at:]...)
	ec.Steps = append(append(ec.Steps[:at], records...), tail...)
}

// planSteps returns the step list as plan steps.
func (ec *ExecutionContext) planSteps() []plan.Step {
	steps := make([]plan.Step, len(ec.Steps))
	for i, r := range ec.Steps {
		steps[i] = r.PlanStep()
	}
	return steps
}

// resolveRunning force-resolves the running step and returns its index,
// or -1 when no step is running.
func (ec *ExecutionContext) resolveRunning(status core.StepStatus, interrupted bool) int {
	for i := range ec.Steps {
		if ec.Steps[i].Status != core.StatusRunning {
			continue
		}
		ec.Steps[i].Status = status
		ec.Steps[i].Interrupted = interrupted
		if !ec.Steps[i].Timestamp.IsZero() {
			ec.Steps[i].Duration = time.Since(ec.Steps[i].Timestamp)
		}
		return i
	}
	return -1
}

// Progress returns currentStep/totalSteps as a percentage.
func Progress(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(current) / float64(total) * 100
}
