package core

import (
	"errors"
	"fmt"
	"strings"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, not_connected, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code, so
// copies made by WithCause/WithMessage still match their sentinel.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Device errors
	ErrNotConnected = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "not_connected",
		Message:  "not connected to device",
	}
	ErrActionTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "action_timeout",
		Message:  "device action timed out",
	}
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrTransientDevice = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "transient_device_error",
		Message:  "transient device error",
	}
	ErrPermissionPopup = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "permission_popup",
		Message:  "permission popup appeared",
	}
	ErrNetworkTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "network_timeout",
		Message:  "network timeout: app failed to load",
	}
	ErrAppCrashed = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "app_crashed",
		Message:  "app crashed during execution",
	}

	// Execution errors
	ErrStepFailure = &ExecutionError{
		Category: ErrCategoryExecution,
		Code:     "step_failure",
		Message:  "step failed",
	}
	ErrRunFailed = &ExecutionError{
		Category: ErrCategoryExecution,
		Code:     "run_failed",
		Message:  "execution failed",
	}
	ErrValidationTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "validation_timeout",
		Message:  "command exceeded validation time limit",
	}
	ErrInvalidTransition = &ExecutionError{
		Category: ErrCategoryExecution,
		Code:     "invalid_transition",
		Message:  "operation not allowed in current state",
	}
	ErrSessionNotFound = &ExecutionError{
		Category: ErrCategoryExecution,
		Code:     "session_not_found",
		Message:  "session not found",
	}
	ErrUnauthorized = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "unauthorized",
		Message:  "invalid or missing token",
	}

	// Contract errors
	ErrInvalidAction = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_action",
		Message:  "invalid device action",
	}
	ErrInvalidPlan = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_plan",
		Message:  "plan does not match schema",
	}
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// FailureKind is the closed set of failure classes the replanner knows how to repair.
type FailureKind string

// FailureKind values.
const (
	KindElementNotFound FailureKind = "element_not_found"
	KindPermissionPopup FailureKind = "permission_popup"
	KindNetworkTimeout  FailureKind = "network_timeout"
	KindAppCrashed      FailureKind = "app_crashed"
	KindUnknown         FailureKind = "unknown"
)

// KindOf derives the failure kind from an error at the point it is raised.
func KindOf(err error) FailureKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrElementNotFound):
		return KindElementNotFound
	case errors.Is(err, ErrPermissionPopup):
		return KindPermissionPopup
	case errors.Is(err, ErrNetworkTimeout):
		return KindNetworkTimeout
	case errors.Is(err, ErrAppCrashed):
		return KindAppCrashed
	}
	return ClassifyReason(err.Error())
}

// ClassifyReason maps a free-text failure reason onto a FailureKind.
// Only used for reasons that arrive without a typed error.
func ClassifyReason(reason string) FailureKind {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "element not found"), strings.Contains(r, "no such element"):
		return KindElementNotFound
	case strings.Contains(r, "permission popup"):
		return KindPermissionPopup
	case strings.Contains(r, "network timeout"):
		return KindNetworkTimeout
	case strings.Contains(r, "crashed"):
		return KindAppCrashed
	default:
		return KindUnknown
	}
}
