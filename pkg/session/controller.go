// Package session exposes execution runs as sessions: start, pause, resume,
// abort and status over an executor.Engine, with token auth and event
// subscription.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/executor"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
	"github.com/devicelab-dev/aiqa-agent/pkg/metrics"
	"github.com/devicelab-dev/aiqa-agent/pkg/plan"
)

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	ID             string         `json:"id"`
	Status         core.RunStatus `json:"status"`
	Progress       float64        `json:"progress"`
	CurrentStep    int            `json:"currentStep"`
	TotalSteps     int            `json:"totalSteps"`
	Command        string         `json:"command"`
	Suite          string         `json:"suite,omitempty"`
	ReplanAttempts int            `json:"replanAttempts"`
	LastFailure    string         `json:"lastFailure,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// RunResult is the outcome of a session driven to completion.
type RunResult struct {
	Snapshot Snapshot                `json:"snapshot"`
	Plan     *plan.Plan              `json:"plan"`
	Steps    []executor.StepRecord   `json:"steps"`
	History  []executor.HistoryEntry `json:"history"`
	Duration time.Duration           `json:"duration"`
}

// EngineFactory creates an engine that reports to observer.
type EngineFactory func(observer executor.Observer) *executor.Engine

type session struct {
	id        string
	userID    string
	command   string
	suite     string
	createdAt time.Time
	engine    *executor.Engine
	aborted   bool
}

// Controller owns the sessions. Only one session may be active at a time;
// finished sessions stay queryable.
type Controller struct {
	planner   *plan.Generator
	newEngine EngineFactory
	broker    *Broker

	mu       sync.Mutex
	sessions map[string]*session
}

// NewController creates a controller.
func NewController(planner *plan.Generator, factory EngineFactory, broker *Broker) *Controller {
	if broker == nil {
		broker = NewBroker(DefaultBuffer)
	}
	return &Controller{
		planner:   planner,
		newEngine: factory,
		broker:    broker,
		sessions:  make(map[string]*session),
	}
}

// Broker returns the event broker.
func (c *Controller) Broker() *Broker {
	return c.broker
}

// Start generates a plan for command and starts a new session.
func (c *Controller) Start(userID, command, suite string) (Snapshot, error) {
	p, err := c.planner.Generate(command)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if active := c.activeLocked(); active != nil {
		return Snapshot{}, core.ErrInvalidTransition.WithMessage(fmt.Sprintf("session %s is still %s", active.id, active.engine.Status()))
	}

	s := &session{
		id:        uuid.NewString(),
		userID:    userID,
		command:   p.Command,
		suite:     suite,
		createdAt: time.Now(),
	}
	s.engine = c.newEngine(executor.ObserverFunc(func(ev executor.Event) {
		c.broker.Publish(s.id, ev)
	}))
	if err := s.engine.Load(p); err != nil {
		return Snapshot{}, err
	}
	if err := s.engine.Start(); err != nil {
		return Snapshot{}, err
	}
	c.sessions[s.id] = s
	logger.Info("Session %s started by %s: %q (%d steps)", s.id, userID, p.Command, len(p.Steps))
	c.updateGaugeLocked()
	return s.snapshot(), nil
}

// Pause pauses a running session.
func (c *Controller) Pause(userID, id string) (Snapshot, error) {
	return c.apply(userID, id, func(s *session) error {
		return s.engine.Pause()
	})
}

// Resume continues a paused session.
func (c *Controller) Resume(userID, id string) (Snapshot, error) {
	return c.apply(userID, id, func(s *session) error {
		if st := s.engine.Status(); st != core.RunPaused {
			return core.ErrInvalidTransition.WithMessage(fmt.Sprintf("cannot resume while %s", st))
		}
		return s.engine.Start()
	})
}

// Step executes one step of a session. Stepping a finished session starts
// a new run, which is refused while another session is active.
func (c *Controller) Step(ctx context.Context, userID, id string) (Snapshot, error) {
	s, err := c.lookup(userID, id)
	if err != nil {
		return Snapshot{}, err
	}
	c.mu.Lock()
	if err := c.claimLocked(s); err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	err = s.engine.Prepare()
	c.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}

	if err := s.engine.Step(ctx); err != nil {
		return Snapshot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s.aborted = false
	c.updateGaugeLocked()
	return s.snapshot(), nil
}

// Abort stops a session. Aborting twice is not an error.
func (c *Controller) Abort(userID, id string) (Snapshot, error) {
	return c.apply(userID, id, func(s *session) error {
		wasIdle := s.engine.Status() == core.RunIdle
		if err := s.engine.Abort(); err != nil {
			return err
		}
		if !wasIdle {
			s.aborted = true
		}
		return nil
	})
}

// Rerun aborts and restarts a session's plan. The rerun delay is waited
// out without holding the controller.
func (c *Controller) Rerun(userID, id string) (Snapshot, error) {
	s, err := c.lookup(userID, id)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	wasActive := s.engine.Status().IsActive()
	if !wasActive {
		err = c.claimLocked(s)
	} else {
		err = s.engine.Abort()
		c.updateGaugeLocked()
	}
	c.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}

	if wasActive {
		time.Sleep(s.engine.RerunDelay())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.claimLocked(s); err != nil {
		return Snapshot{}, err
	}
	if err := s.engine.Start(); err != nil {
		return Snapshot{}, err
	}
	s.aborted = false
	logger.Info("Session %s rerun by %s", s.id, userID)
	c.updateGaugeLocked()
	return s.snapshot(), nil
}

// Status returns a session snapshot.
func (c *Controller) Status(userID, id string) (Snapshot, error) {
	s, err := c.lookup(userID, id)
	if err != nil {
		return Snapshot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.snapshot(), nil
}

// Steps returns the step list of a session.
func (c *Controller) Steps(userID, id string) ([]executor.StepRecord, error) {
	s, err := c.lookup(userID, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Steps(), nil
}

// Subscribe registers for a session's events.
func (c *Controller) Subscribe(userID, id string) (<-chan executor.Event, func(), error) {
	if _, err := c.lookup(userID, id); err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := c.broker.Subscribe(id)
	return ch, unsubscribe, nil
}

// Run starts a session for command and blocks until it finishes. When ctx
// ends first the session is aborted and ctx's error returned along with
// the partial result.
func (c *Controller) Run(ctx context.Context, userID, command, suite string) (*RunResult, error) {
	start := time.Now()
	snap, err := c.Start(userID, command, suite)
	if err != nil {
		return nil, err
	}
	s, err := c.lookup(userID, snap.ID)
	if err != nil {
		return nil, err
	}

	_, waitErr := s.engine.Wait(ctx)
	if waitErr != nil {
		logger.Warn("Session %s did not finish: %v", s.id, waitErr)
		_, _ = c.Abort(userID, s.id)
	}

	c.mu.Lock()
	result := &RunResult{
		Snapshot: s.snapshot(),
		Plan:     s.engine.Plan(),
		Steps:    s.engine.Steps(),
		History:  s.engine.History(),
		Duration: time.Since(start),
	}
	c.updateGaugeLocked()
	c.mu.Unlock()
	return result, waitErr
}

// Shutdown aborts every active session.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		if s.engine.Status().IsActive() {
			_ = s.engine.Abort()
			s.aborted = true
		}
		c.broker.CloseSession(s.id)
	}
	c.updateGaugeLocked()
}

func (c *Controller) apply(userID, id string, op func(*session) error) (Snapshot, error) {
	s, err := c.lookup(userID, id)
	if err != nil {
		return Snapshot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := op(s); err != nil {
		return Snapshot{}, err
	}
	c.updateGaugeLocked()
	return s.snapshot(), nil
}

func (c *Controller) lookup(userID, id string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound.WithMessage("session not found: " + id)
	}
	if userID != "" && s.userID != userID {
		return nil, core.ErrUnauthorized.WithMessage("session belongs to another user")
	}
	return s, nil
}

func (c *Controller) activeLocked() *session {
	for _, s := range c.sessions {
		if s.engine.Status().IsActive() {
			return s
		}
	}
	return nil
}

// claimLocked fails when a session other than s is active.
func (c *Controller) claimLocked(s *session) error {
	for _, other := range c.sessions {
		if other != s && other.engine.Status().IsActive() {
			return core.ErrInvalidTransition.WithMessage(fmt.Sprintf("session %s is still %s", other.id, other.engine.Status()))
		}
	}
	return nil
}

func (c *Controller) updateGaugeLocked() {
	n := 0
	for _, s := range c.sessions {
		if s.engine.Status().IsActive() {
			n++
		}
	}
	metrics.SetActiveSessions(n)
}

func (s *session) snapshot() Snapshot {
	run := s.engine.Snapshot()
	status := run.Status
	if status == core.RunIdle && s.aborted {
		status = core.RunAborted
	}
	return Snapshot{
		ID:             s.id,
		Status:         status,
		Progress:       run.Progress,
		CurrentStep:    run.CurrentStep,
		TotalSteps:     run.TotalSteps,
		Command:        s.command,
		Suite:          s.suite,
		ReplanAttempts: run.ReplanAttempts,
		LastFailure:    run.LastFailure,
		CreatedAt:      s.createdAt,
	}
}
