package core

// StepStatus represents the execution status of a step
type StepStatus int

const (
	StatusPending   StepStatus = iota // Created, not yet selected
	StatusRunning                     // Currently executing
	StatusCompleted                   // Finished successfully (or resolved by pause)
	StatusFailed                      // Action failed, or resolved by abort
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name so JSON stays readable.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *StepStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = StatusPending
	case "running":
		*s = StatusRunning
	case "completed":
		*s = StatusCompleted
	case "failed":
		*s = StatusFailed
	default:
		return ErrInvalidConfig.WithMessage("unknown step status: " + string(b))
	}
	return nil
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunStatus is the externally observable status of an execution run.
type RunStatus string

// RunStatus values.
const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
	RunFailed    RunStatus = "failed"
)

// IsActive returns true while a run holds a step list that can still advance.
func (s RunStatus) IsActive() bool {
	return s == RunRunning || s == RunPaused
}

// IsTerminal returns true if the run reached a final state
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunAborted
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryAssertion                       // Element not found, UI state unexpected
	ErrCategoryTimeout                         // Operation timed out
	ErrCategoryConnection                      // Device/server connection lost or missing
	ErrCategoryApp                             // App crashed, popup in the way
	ErrCategoryConfig                          // Invalid action, plan or configuration
	ErrCategoryExecution                       // Step or run level outcome
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryExecution:
		return "execution"
	default:
		return "unknown"
	}
}
