package core

import (
	"fmt"
	"time"
)

// ActionType is the kind of concrete device action.
type ActionType string

// ActionType values.
const (
	ActionTap        ActionType = "tap"
	ActionInput      ActionType = "type"
	ActionSwipe      ActionType = "swipe"
	ActionWait       ActionType = "wait"
	ActionScreenshot ActionType = "screenshot"
	ActionSource     ActionType = "source"
	ActionLaunch     ActionType = "launch"
	ActionBack       ActionType = "back"
)

// DefaultRetries is the attempt budget used when an action sets none.
const DefaultRetries = 3

// Point is a screen coordinate in pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DeviceAction is one concrete operation for the device driver.
type DeviceAction struct {
	Type        ActionType    `json:"type"`
	Selector    string        `json:"selector,omitempty"`
	Text        string        `json:"text,omitempty"`
	Coordinates *Point        `json:"coordinates,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Retries     int           `json:"retries,omitempty"`
}

// Validate checks the action contract. Called at construction, never mid-run.
func (a DeviceAction) Validate() error {
	switch a.Type {
	case ActionTap:
		if a.Selector == "" && a.Coordinates == nil {
			return ErrInvalidAction.WithMessage("tap requires a selector or coordinates")
		}
	case ActionInput:
		if a.Text == "" {
			return ErrInvalidAction.WithMessage("type requires text")
		}
	case ActionSwipe, ActionWait, ActionScreenshot, ActionSource, ActionLaunch, ActionBack:
	default:
		return ErrInvalidAction.WithMessage(fmt.Sprintf("unknown action type %q", a.Type))
	}
	if a.Retries < 0 {
		return ErrInvalidAction.WithMessage("retries must not be negative")
	}
	if a.Timeout < 0 {
		return ErrInvalidAction.WithMessage("timeout must not be negative")
	}
	return nil
}

// IsRead returns true for actions that only observe the device.
func (a DeviceAction) IsRead() bool {
	return a.Type == ActionScreenshot || a.Type == ActionSource
}

// RetryBudget returns the number of attempts, applying the default.
func (a DeviceAction) RetryBudget() int {
	if a.Retries <= 0 {
		return DefaultRetries
	}
	return a.Retries
}

// ActionResult is the outcome of an action after the adapter's retries.
type ActionResult struct {
	Success      bool          `json:"success"`
	Screenshot   []byte        `json:"-"`
	PageSource   string        `json:"pageSource,omitempty"`
	Duration     time.Duration `json:"duration"`
	RetryCount   int           `json:"retryCount"`
	ErrorMessage string        `json:"errorMessage,omitempty"`

	// Kind classifies the last error when Success is false
	Kind FailureKind `json:"kind,omitempty"`

	// CaptureDuration is the time spent on the follow-up screenshot
	CaptureDuration time.Duration `json:"captureDuration,omitempty"`
}
