// Package executor runs plans step by step against a device and repairs
// failed runs through the replanner.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/aiqa-agent/pkg/config"
	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/device"
	"github.com/devicelab-dev/aiqa-agent/pkg/hierarchy"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
	"github.com/devicelab-dev/aiqa-agent/pkg/metrics"
	"github.com/devicelab-dev/aiqa-agent/pkg/plan"
	"github.com/devicelab-dev/aiqa-agent/pkg/replan"
)

// recoveryStepCount is how many steps of a replanned plan are spliced in.
const recoveryStepCount = 2

// Config configures an Engine.
type Config struct {
	StepInterval      time.Duration // pause between automatic steps
	SettleDelay       time.Duration // pause after a recovery splice
	RerunDelay        time.Duration // pause between abort and start on rerun
	MaxReplanAttempts int
	CollectUIContext  bool
	Simulation        Simulation
}

// Simulation configures work simulation when no device is connected.
type Simulation struct {
	Enabled  bool
	MinDelay time.Duration
	MaxDelay time.Duration
	Injector FailureInjector
}

// ConfigFrom builds engine settings from the workspace config.
func ConfigFrom(c *config.Config) Config {
	cfg := Config{
		StepInterval:      c.Execution.StepInterval,
		SettleDelay:       c.Execution.SettleDelay,
		RerunDelay:        c.Execution.RerunDelay,
		MaxReplanAttempts: c.Execution.MaxReplanAttempts,
		CollectUIContext:  config.BoolValue(c.Device.ValidateUI, true),
		Simulation: Simulation{
			Enabled:  config.BoolValue(c.Simulation.Enabled, true),
			MinDelay: c.Simulation.MinDelay,
			MaxDelay: c.Simulation.MaxDelay,
		},
	}
	if cfg.Simulation.Enabled {
		cfg.Simulation.Injector = NewRandomInjector(c.Simulation.FailureRate, c.Simulation.MinStep, c.Simulation.Seed)
	}
	return cfg
}

// Snapshot is the externally visible state of a run.
type Snapshot struct {
	RunID             string         `json:"runId"`
	Command           string         `json:"command"`
	Status            core.RunStatus `json:"status"`
	CurrentStep       int            `json:"currentStep"`
	TotalSteps        int            `json:"totalSteps"`
	Progress          float64        `json:"progress"`
	ReplanAttempts    int            `json:"replanAttempts"`
	MaxReplanAttempts int            `json:"maxReplanAttempts"`
	LastFailure       string         `json:"lastFailure,omitempty"`
	StartedAt         time.Time      `json:"startedAt"`
	EndedAt           time.Time      `json:"endedAt,omitempty"`
}

// Engine is the execution state machine for one session.
//
// Steps are serialized by stepMu: the automatic loop and manual Step never
// run two steps at once. mu guards the ExecutionContext. Each pause, abort
// and start bumps gen so results of an in-flight step that outlived its
// run are discarded.
type Engine struct {
	cfg      Config
	adapter  *device.Adapter
	observer Observer

	stepMu sync.Mutex

	mu       sync.Mutex
	ec       ExecutionContext
	plan     *plan.Plan
	gen      uint64
	cancel   context.CancelFunc
	finished chan struct{}
	lastUI   string
}

// NewEngine creates an idle engine. adapter may be nil when no device is
// available.
func NewEngine(cfg Config, adapter *device.Adapter, observer Observer) *Engine {
	if cfg.MaxReplanAttempts <= 0 {
		cfg.MaxReplanAttempts = replan.DefaultMaxAttempts
	}
	return &Engine{
		cfg:      cfg,
		adapter:  adapter,
		observer: observer,
		ec:       ExecutionContext{Status: core.RunIdle},
	}
}

// Load sets the plan for the next run.
func (e *Engine) Load(p *plan.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ec.Status.IsActive() {
		return core.ErrInvalidTransition.WithMessage(fmt.Sprintf("cannot load a plan while %s", e.ec.Status))
	}
	e.plan = p.Clone()
	return nil
}

// Plan returns the loaded plan.
func (e *Engine) Plan() *plan.Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan.Clone()
}

// Start begins a new run, or resumes a paused one.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.ec.Status {
	case core.RunRunning:
		return core.ErrInvalidTransition.WithMessage("run is already running")
	case core.RunPaused:
		logger.Info("Resuming run %s at step %d/%d", e.ec.ID, e.ec.CurrentStep, len(e.ec.Steps))
		e.setStatus(core.RunRunning)
		e.startLoop(e.cfg.StepInterval)
		return nil
	}

	if e.plan == nil {
		return core.ErrInvalidPlan.WithMessage("no plan loaded")
	}
	e.beginRun(core.RunRunning)
	e.startLoop(e.cfg.StepInterval)
	return nil
}

// Pause halts the loop. The running step, if any, is resolved to completed
// and flagged as interrupted.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ec.Status != core.RunRunning {
		return core.ErrInvalidTransition.WithMessage(fmt.Sprintf("cannot pause while %s", e.ec.Status))
	}
	e.pauseLocked()
	return nil
}

func (e *Engine) pauseLocked() {
	e.stopLoop()
	if idx := e.ec.resolveRunning(core.StatusCompleted, true); idx >= 0 {
		e.notifyStep(idx)
	}
	logger.Info("Paused run %s at step %d/%d", e.ec.ID, e.ec.CurrentStep, len(e.ec.Steps))
	e.setStatus(core.RunPaused)
}

// Step executes exactly one step. A running loop is paused first; an idle
// or finished engine starts a new paused run.
func (e *Engine) Step(ctx context.Context) error {
	e.mu.Lock()
	switch e.ec.Status {
	case core.RunRunning:
		e.pauseLocked()
	case core.RunPaused:
	default:
		if e.plan == nil {
			e.mu.Unlock()
			return core.ErrInvalidPlan.WithMessage("no plan loaded")
		}
		e.beginRun(core.RunPaused)
	}
	gen := e.gen
	e.mu.Unlock()

	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	_, _, err := e.advance(ctx, gen)
	return err
}

// Abort stops the run and resets the engine to idle. Aborting an idle
// engine is a no-op.
func (e *Engine) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ec.Status == core.RunIdle {
		return nil
	}

	wasActive := e.ec.Status.IsActive()
	e.stopLoop()
	if idx := e.ec.resolveRunning(core.StatusFailed, false); idx >= 0 {
		e.ec.Steps[idx].Error = "aborted"
		e.notifyStep(idx)
	}
	e.ec.CurrentStep = 0
	e.ec.ReplanAttempts = 0
	e.ec.History = nil
	if wasActive {
		e.ec.EndedAt = time.Now()
		metrics.RecordRun(string(core.RunAborted))
	}
	logger.Info("Aborted run %s", e.ec.ID)
	e.setStatus(core.RunIdle)
	e.finish()
	return nil
}

// Prepare begins a fresh run in the paused state without executing a step.
// It does nothing when a run is already active.
func (e *Engine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ec.Status.IsActive() {
		return nil
	}
	if e.plan == nil {
		return core.ErrInvalidPlan.WithMessage("no plan loaded")
	}
	e.beginRun(core.RunPaused)
	return nil
}

// RerunDelay is the pause between aborting a run and starting it again.
func (e *Engine) RerunDelay() time.Duration {
	return e.cfg.RerunDelay
}

// Rerun aborts an active run, waits RerunDelay, then starts again.
func (e *Engine) Rerun() error {
	e.mu.Lock()
	active := e.ec.Status.IsActive()
	e.mu.Unlock()

	if active {
		if err := e.Abort(); err != nil {
			return err
		}
		time.Sleep(e.cfg.RerunDelay)
	}
	return e.Start()
}

// Wait blocks until the current run completes, fails or is aborted.
func (e *Engine) Wait(ctx context.Context) (core.RunStatus, error) {
	e.mu.Lock()
	ch := e.finished
	status := e.ec.Status
	e.mu.Unlock()
	if ch == nil {
		return status, nil
	}
	select {
	case <-ch:
		return e.Status(), nil
	case <-ctx.Done():
		return e.Status(), ctx.Err()
	}
}

// Status returns the run status.
func (e *Engine) Status() core.RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ec.Status
}

// Snapshot returns the externally visible run state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := len(e.ec.Steps)
	current := e.ec.CurrentStep
	if current > total {
		current = total
	}
	return Snapshot{
		RunID:             e.ec.ID,
		Command:           e.ec.Command,
		Status:            e.ec.Status,
		CurrentStep:       current,
		TotalSteps:        total,
		Progress:          Progress(current, total),
		ReplanAttempts:    e.ec.ReplanAttempts,
		MaxReplanAttempts: e.cfg.MaxReplanAttempts,
		LastFailure:       e.ec.LastFailure,
		StartedAt:         e.ec.StartedAt,
		EndedAt:           e.ec.EndedAt,
	}
}

// Steps returns a copy of the step list.
func (e *Engine) Steps() []StepRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]StepRecord(nil), e.ec.Steps...)
}

// History returns the replanning attempts of the current run.
func (e *Engine) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]HistoryEntry(nil), e.ec.History...)
}

// beginRun resets the context for a fresh run. Caller holds mu.
func (e *Engine) beginRun(status core.RunStatus) {
	e.stopLoop()
	e.ec.reset(uuid.NewString(), e.plan)
	e.lastUI = ""
	e.finished = make(chan struct{})
	logger.Info("Starting run %s: %q (%d steps)", e.ec.ID, e.ec.Command, len(e.ec.Steps))
	e.notify(Event{Kind: EventLog, Message: fmt.Sprintf("Run started with %d steps", len(e.ec.Steps))})
	for i := range e.ec.Steps {
		e.notifyStep(i)
	}
	e.setStatus(status)
}

// startLoop launches the automatic step loop. Caller holds mu.
func (e *Engine) startLoop(delay time.Duration) {
	e.gen++
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.loop(ctx, e.gen, delay)
}

// stopLoop cancels the loop and invalidates in-flight steps. Caller holds mu.
func (e *Engine) stopLoop() {
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) loop(ctx context.Context, gen uint64, delay time.Duration) {
	for {
		if err := sleep(ctx, delay); err != nil {
			return
		}
		e.stepMu.Lock()
		next, more, _ := e.advance(ctx, gen)
		e.stepMu.Unlock()
		if !more {
			return
		}
		delay = next
	}
}

// outcome is the result of performing one step.
type outcome struct {
	ok              bool
	reason          string
	kind            core.FailureKind
	screenshot      []byte
	actionDuration  time.Duration
	captureDuration time.Duration
	retries         int

	// interrupted is set when the caller's context ended before a
	// simulated step finished
	interrupted error
}

// advance executes the next step. It returns the delay before the following
// step and whether the loop should continue. A step cut short by ctx is put
// back to pending and ctx's error is returned.
func (e *Engine) advance(ctx context.Context, gen uint64) (time.Duration, bool, error) {
	e.mu.Lock()
	if e.gen != gen || !e.ec.Status.IsActive() {
		e.mu.Unlock()
		return 0, false, nil
	}
	if e.ec.CurrentStep >= len(e.ec.Steps) {
		e.complete()
		e.mu.Unlock()
		return 0, false, nil
	}

	idx := e.ec.CurrentStep
	e.ec.CurrentStep++
	position, total := e.ec.CurrentStep, len(e.ec.Steps)
	attempts := e.ec.ReplanAttempts
	rec := &e.ec.Steps[idx]
	rec.Status = core.StatusRunning
	rec.Timestamp = time.Now()
	step := *rec
	e.notifyStep(idx)
	e.mu.Unlock()

	logger.Info("Step %d/%d: %s", position, total, step.Description)
	e.collectUIContext(ctx, position)
	out := e.perform(ctx, step, position, attempts)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		logger.Debug("Discarding result of step %d, run state changed while it was in flight", position)
		return 0, false, nil
	}

	rec = &e.ec.Steps[idx]
	if out.interrupted != nil {
		logger.Debug("Step %d interrupted before it finished: %v", position, out.interrupted)
		rec.Status = core.StatusPending
		rec.Timestamp = time.Time{}
		e.ec.CurrentStep = idx
		e.notifyStep(idx)
		return 0, false, out.interrupted
	}

	rec.Duration = time.Since(rec.Timestamp)
	rec.ActionDuration = out.actionDuration
	rec.CaptureDuration = out.captureDuration
	rec.Retries = out.retries

	if !out.ok {
		next, more := e.fail(idx, out)
		return next, more, nil
	}

	rec.Status = core.StatusCompleted
	metrics.RecordStep(rec.Action, rec.Status.String(), rec.Duration.Seconds())
	e.notifyStep(idx)
	if len(out.screenshot) > 0 {
		e.notify(Event{Kind: EventScreenshot, Screenshot: out.screenshot})
	}
	if e.ec.CurrentStep >= len(e.ec.Steps) {
		e.complete()
		return 0, false, nil
	}
	return e.cfg.StepInterval, true, nil
}

// fail handles a failed step: replan while budget remains, otherwise fail
// the run. Caller holds mu.
func (e *Engine) fail(idx int, out outcome) (time.Duration, bool) {
	rec := &e.ec.Steps[idx]
	rec.Status = core.StatusFailed
	rec.Error = out.reason
	e.ec.LastFailure = out.reason
	metrics.RecordStep(rec.Action, rec.Status.String(), rec.Duration.Seconds())
	logger.Warn("Step %d failed: %s", idx+1, out.reason)
	e.notifyStep(idx)
	e.notify(Event{Kind: EventError, Message: fmt.Sprintf("Step %d failed: %s", idx+1, out.reason)})

	maxAttempts := e.cfg.MaxReplanAttempts
	if e.ec.ReplanAttempts >= maxAttempts {
		logger.Warn("Replanning budget exhausted (%d/%d)", e.ec.ReplanAttempts, maxAttempts)
		e.failRun()
		return 0, false
	}

	e.ec.ReplanAttempts++
	rc := replan.Context{
		OriginalCommand: e.ec.Command,
		CurrentStep:     idx,
		TotalSteps:      len(e.ec.Steps),
		FailureReason:   out.reason,
		Kind:            out.kind,
		AttemptNumber:   e.ec.ReplanAttempts,
		MaxAttempts:     maxAttempts,
		PreviousPlan:    e.ec.planSteps(),
		UIContext:       e.lastUI,
		CreatedAt:       time.Now(),
	}
	res := replan.Replan(rc)
	e.ec.History = append(e.ec.History, HistoryEntry{Context: rc, Result: res})
	metrics.RecordReplan(string(rc.ResolveKind()), res.ShouldContinue)

	summary := replan.Summary(rc, res)
	logger.Info("%s", summary)
	e.notify(Event{Kind: EventLog, Message: summary})

	if !res.Success || !res.ShouldContinue || res.NewPlan == nil {
		e.failRun()
		return 0, false
	}

	recovery := res.NewPlan.Steps
	if len(recovery) > recoveryStepCount {
		recovery = recovery[:recoveryStepCount]
	}
	at := e.ec.CurrentStep
	e.ec.splice(recovery)
	for i := at; i < at+len(recovery); i++ {
		e.notifyStep(i)
	}
	return e.cfg.SettleDelay, true
}

// perform executes the step on the device, or simulates it.
func (e *Engine) perform(ctx context.Context, step StepRecord, position, attempts int) outcome {
	if e.adapter.Connected() {
		action := device.ToAction(step.PlanStep())
		// an in-flight device call outlives pause and abort
		res, err := e.adapter.Execute(context.WithoutCancel(ctx), action)
		if err != nil {
			return outcome{reason: err.Error(), kind: core.KindOf(err)}
		}
		out := outcome{
			ok:              res.Success,
			reason:          res.ErrorMessage,
			kind:            res.Kind,
			screenshot:      res.Screenshot,
			actionDuration:  res.Duration,
			captureDuration: res.CaptureDuration,
			retries:         res.RetryCount,
		}
		if !out.ok && out.reason == "" {
			out.reason = "Device action failed"
		}
		return out
	}

	if err := sleep(ctx, e.simulatedDelay()); err != nil {
		return outcome{interrupted: err}
	}
	sim := e.cfg.Simulation
	if sim.Enabled && sim.Injector != nil && attempts < e.cfg.MaxReplanAttempts {
		if f := sim.Injector.Inject(position); f != nil {
			return outcome{reason: f.Reason, kind: f.Kind}
		}
	}
	return outcome{ok: true}
}

// collectUIContext snapshots the screen for observers. Failures are logged.
func (e *Engine) collectUIContext(ctx context.Context, position int) {
	if !e.cfg.CollectUIContext || !e.adapter.Connected() {
		return
	}
	src, err := e.adapter.Driver().PageSource(ctx)
	if err != nil {
		logger.Warn("Failed to collect UI context for step %d: %v", position, err)
		return
	}
	summary, err := hierarchy.Summarize(src)
	if err != nil {
		logger.Warn("Failed to parse UI context for step %d: %v", position, err)
		return
	}
	msg := fmt.Sprintf("Context collected for step %d: %d elements, %d clickable", position, summary.Elements, summary.Clickable)
	logger.Debug("%s", msg)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUI = fmt.Sprintf("%d elements, %d clickable, %d inputs, labels %v", summary.Elements, summary.Clickable, summary.Inputs, summary.Labels)
	e.notify(Event{Kind: EventLog, Message: msg})
}

func (e *Engine) simulatedDelay() time.Duration {
	sim := e.cfg.Simulation
	if sim.MaxDelay <= sim.MinDelay {
		return sim.MinDelay
	}
	return sim.MinDelay + time.Duration(rand.Int63n(int64(sim.MaxDelay-sim.MinDelay)))
}

// complete ends the run successfully. Caller holds mu.
func (e *Engine) complete() {
	e.stopLoop()
	e.ec.EndedAt = time.Now()
	metrics.RecordRun(string(core.RunCompleted))
	logger.Info("Run %s completed: %d steps, %d replanning attempts", e.ec.ID, len(e.ec.Steps), e.ec.ReplanAttempts)
	e.setStatus(core.RunCompleted)
	e.finish()
}

// failRun ends the run as failed. Caller holds mu.
func (e *Engine) failRun() {
	e.stopLoop()
	e.ec.EndedAt = time.Now()
	if e.ec.LastFailure == "" {
		e.ec.LastFailure = core.ErrRunFailed.Error()
	}
	metrics.RecordRun(string(core.RunFailed))
	logger.Error("Run %s failed: %s", e.ec.ID, e.ec.LastFailure)
	e.setStatus(core.RunFailed)
	e.finish()
}

func (e *Engine) finish() {
	if e.finished != nil {
		close(e.finished)
		e.finished = nil
	}
}

func (e *Engine) setStatus(s core.RunStatus) {
	if e.ec.Status == s {
		return
	}
	e.ec.Status = s
	e.notify(Event{Kind: EventStatus, Status: s})
}

func (e *Engine) notify(ev Event) {
	if e.observer == nil {
		return
	}
	ev.RunID = e.ec.ID
	ev.Time = time.Now()
	if ev.Status == "" {
		ev.Status = e.ec.Status
	}
	e.observer.OnEvent(ev)
}

func (e *Engine) notifyStep(idx int) {
	rec := e.ec.Steps[idx]
	e.notify(Event{Kind: EventStep, Step: &rec})
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
