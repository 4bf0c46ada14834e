package executor

import (
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
)

// EventKind identifies what an Event carries.
type EventKind string

// EventKind values.
const (
	EventStatus     EventKind = "status"
	EventStep       EventKind = "step"
	EventScreenshot EventKind = "screenshot"
	EventLog        EventKind = "log"
	EventError      EventKind = "error"
)

// Event is a notification about a run.
type Event struct {
	Kind       EventKind      `json:"kind"`
	RunID      string         `json:"runId"`
	Time       time.Time      `json:"time"`
	Status     core.RunStatus `json:"status,omitempty"`
	Step       *StepRecord    `json:"step,omitempty"`
	Screenshot []byte         `json:"screenshot,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// Observer receives engine events in the order they are produced. It is
// called with the engine lock held and must not block or call back into
// the engine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}
