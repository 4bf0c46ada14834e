package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/executor"
	"github.com/devicelab-dev/aiqa-agent/pkg/plan"
)

const user = "tester"

func engineFactory(interval time.Duration) EngineFactory {
	return func(obs executor.Observer) *executor.Engine {
		return executor.NewEngine(executor.Config{
			StepInterval:      interval,
			SettleDelay:       time.Millisecond,
			RerunDelay:        time.Millisecond,
			MaxReplanAttempts: 3,
			Simulation:        executor.Simulation{Enabled: true, Injector: executor.NoFailures},
		}, nil, obs)
	}
}

func newController(interval time.Duration) *Controller {
	return NewController(plan.NewGenerator(), engineFactory(interval), NewBroker(16))
}

func TestController_Lifecycle(t *testing.T) {
	c := newController(time.Hour)

	snap, err := c.Start(user, "open settings", "smoke")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if snap.Status != core.RunRunning || snap.TotalSteps != 4 || snap.CurrentStep != 0 {
		t.Errorf("Start() = %+v", snap)
	}
	id := snap.ID

	if snap, err = c.Pause(user, id); err != nil || snap.Status != core.RunPaused {
		t.Fatalf("Pause() = %+v, %v", snap, err)
	}
	for i := 0; i < 2; i++ {
		if snap, err = c.Step(context.Background(), user, id); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	if snap.CurrentStep != 2 || snap.TotalSteps != 4 {
		t.Errorf("currentStep/totalSteps = %d/%d, want 2/4", snap.CurrentStep, snap.TotalSteps)
	}
	if snap.Progress != 50 {
		t.Errorf("Progress = %v, want 50", snap.Progress)
	}

	if snap, err = c.Resume(user, id); err != nil || snap.Status != core.RunRunning {
		t.Fatalf("Resume() = %+v, %v", snap, err)
	}
	if _, err := c.Resume(user, id); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("Resume() while running error = %v, want ErrInvalidTransition", err)
	}

	for i := 0; i < 2; i++ {
		snap, err = c.Abort(user, id)
		if err != nil {
			t.Fatalf("Abort() #%d error = %v", i+1, err)
		}
		if snap.Status != core.RunAborted || snap.CurrentStep != 0 {
			t.Errorf("Abort() #%d = %+v, want aborted at step 0", i+1, snap)
		}
	}

	got, err := c.Status(user, id)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got.Status != core.RunAborted {
		t.Errorf("Status() = %s, want aborted", got.Status)
	}
}

func TestController_SingleActiveSession(t *testing.T) {
	c := newController(time.Hour)

	first, err := c.Start(user, "open settings", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := c.Start(user, "search for shoes", ""); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("second Start() error = %v, want ErrInvalidTransition", err)
	}
	if _, err := c.Abort(user, first.ID); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	second, err := c.Start(user, "search for shoes", "")
	if err != nil {
		t.Fatalf("Start() after abort error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("session id reused")
	}
	c.Shutdown()
	if got, _ := c.Status(user, second.ID); got.Status != core.RunAborted {
		t.Errorf("status after Shutdown = %s, want aborted", got.Status)
	}
}

func TestController_FinishedSessionWaitsForActive(t *testing.T) {
	c := newController(time.Hour)

	first, err := c.Start(user, "open settings", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := c.Abort(user, first.ID); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	second, err := c.Start(user, "search for shoes", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Shutdown()

	if _, err := c.Step(context.Background(), user, first.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("Step() on finished session error = %v, want ErrInvalidTransition", err)
	}
	if _, err := c.Rerun(user, first.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("Rerun() on finished session error = %v, want ErrInvalidTransition", err)
	}
	if got, _ := c.Status(user, first.ID); got.Status != core.RunAborted {
		t.Errorf("first status = %s, want aborted", got.Status)
	}

	snap, err := c.Rerun(user, second.ID)
	if err != nil {
		t.Fatalf("Rerun() of active session error = %v", err)
	}
	if snap.Status != core.RunRunning || snap.CurrentStep != 0 {
		t.Errorf("Rerun() = %+v, want running at step 0", snap)
	}
}

func TestController_RerunDelayDoesNotBlock(t *testing.T) {
	factory := func(obs executor.Observer) *executor.Engine {
		return executor.NewEngine(executor.Config{
			StepInterval:      time.Hour,
			SettleDelay:       time.Millisecond,
			RerunDelay:        300 * time.Millisecond,
			MaxReplanAttempts: 3,
			Simulation:        executor.Simulation{Enabled: true, Injector: executor.NoFailures},
		}, nil, obs)
	}
	c := NewController(plan.NewGenerator(), factory, NewBroker(16))
	defer c.Shutdown()

	snap, err := c.Start(user, "open settings", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Rerun(user, snap.ID)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if _, err := c.Status(user, snap.ID); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("Status() during rerun took %v", elapsed)
	}

	if err := <-done; err != nil {
		t.Fatalf("Rerun() error = %v", err)
	}
	if got, _ := c.Status(user, snap.ID); got.Status != core.RunRunning {
		t.Errorf("status after rerun = %s, want running", got.Status)
	}
}

func TestController_Lookup(t *testing.T) {
	c := newController(time.Hour)

	if _, err := c.Status(user, "missing"); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("Status(missing) error = %v, want ErrSessionNotFound", err)
	}
	snap, err := c.Start(user, "open settings", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Shutdown()
	if _, err := c.Pause("intruder", snap.ID); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("Pause() by another user error = %v, want ErrUnauthorized", err)
	}
	if _, err := c.Start(user, "   ", ""); !errors.Is(err, core.ErrInvalidPlan) {
		t.Errorf("Start(empty) error = %v, want ErrInvalidPlan", err)
	}
}

func TestController_Run(t *testing.T) {
	c := newController(time.Millisecond)

	res, err := c.Run(context.Background(), user, "search for laptop", "smoke")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Snapshot.Status != core.RunCompleted {
		t.Errorf("status = %s, want completed", res.Snapshot.Status)
	}
	if len(res.Steps) != 5 || res.Snapshot.CurrentStep != 5 {
		t.Errorf("steps = %d currentStep = %d, want 5 and 5", len(res.Steps), res.Snapshot.CurrentStep)
	}
	if res.Plan == nil || res.Plan.Command != "search for laptop" {
		t.Errorf("Plan = %+v", res.Plan)
	}
}

func TestController_RunDeadline(t *testing.T) {
	c := newController(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := c.Run(ctx, user, "open settings", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	if res == nil || res.Snapshot.Status != core.RunAborted {
		t.Errorf("Run() result = %+v, want aborted session", res)
	}
}

func TestController_Subscribe(t *testing.T) {
	c := newController(time.Hour)

	snap, err := c.Start(user, "open settings", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	events, unsubscribe, err := c.Subscribe(user, snap.ID)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsubscribe()

	if _, err := c.Pause(user, snap.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != executor.EventStatus || ev.Status != core.RunPaused {
			t.Errorf("event = %s/%s, want status/paused", ev.Kind, ev.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	if _, _, err := c.Subscribe(user, "missing"); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("Subscribe(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestBroker_DropsWhenFull(t *testing.T) {
	b := NewBroker(1)
	ch, unsubscribe := b.Subscribe("s1")
	defer unsubscribe()

	if dropped := b.Publish("s1", executor.Event{Kind: executor.EventLog, Message: "one"}); dropped != 0 {
		t.Errorf("first Publish() dropped = %d, want 0", dropped)
	}
	if dropped := b.Publish("s1", executor.Event{Kind: executor.EventLog, Message: "two"}); dropped != 1 {
		t.Errorf("second Publish() dropped = %d, want 1", dropped)
	}
	if ev := <-ch; ev.Message != "one" {
		t.Errorf("received %q, want first event", ev.Message)
	}
	if dropped := b.Publish("other", executor.Event{Kind: executor.EventLog}); dropped != 0 {
		t.Errorf("Publish() to session without subscribers dropped = %d", dropped)
	}
}

func TestBroker_Order(t *testing.T) {
	b := NewBroker(8)
	ch, unsubscribe := b.Subscribe("s1")
	defer unsubscribe()

	for _, m := range []string{"a", "b", "c"} {
		b.Publish("s1", executor.Event{Kind: executor.EventLog, Message: m})
	}
	for _, want := range []string{"a", "b", "c"} {
		if ev := <-ch; ev.Message != want {
			t.Errorf("received %q, want %q", ev.Message, want)
		}
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker(4)
	ch, unsubscribe := b.Subscribe("s1")
	other, unsubscribeOther := b.Subscribe("s1")
	defer unsubscribeOther()

	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	if n := b.Subscribers("s1"); n != 1 {
		t.Errorf("Subscribers() = %d, want 1", n)
	}

	b.Publish("s1", executor.Event{Kind: executor.EventLog, Message: "still here"})
	if ev := <-other; ev.Message != "still here" {
		t.Errorf("remaining subscriber got %q", ev.Message)
	}

	b.CloseSession("s1")
	if _, ok := <-other; ok {
		t.Error("channel still open after CloseSession")
	}
	if n := b.Subscribers("s1"); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestAuthenticator(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour)

	token, err := a.Authenticate("alice")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", claims.UserID)
	}

	if _, err := a.Authenticate(""); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("Authenticate(\"\") error = %v, want ErrUnauthorized", err)
	}
	if _, err := NewAuthenticator("other", time.Hour).Verify(token); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("Verify() with wrong secret error = %v, want ErrUnauthorized", err)
	}
	if _, err := a.Verify(""); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("Verify(\"\") error = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticator_Expired(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour)
	claims := Claims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := a.Verify(token); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("Verify(expired) error = %v, want ErrUnauthorized", err)
	}
}
