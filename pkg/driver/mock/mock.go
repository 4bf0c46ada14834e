// Package mock provides a simulated device driver for running plans
// without a real device.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
)

// Driver is a simulated implementation of core.Driver.
type Driver struct {
	// Configuration
	Config Config

	mu           sync.Mutex
	sessionID    string
	calls        []core.DeviceAction
	connectCalls int
}

// Config configures mock driver behavior.
type Config struct {
	// FailOnCall makes ExecuteRaw call N fail (1-indexed). 0 = never fail.
	FailOnCall int
	// FailWith decides per call whether to fail. Takes precedence over FailOnCall.
	FailWith func(call int, action core.DeviceAction) error
	// ConnectFailures makes the first N Connect calls fail
	ConnectFailures int
	// StepDelay adds artificial delay per ExecuteRaw call
	StepDelay time.Duration
	// PageSource overrides the generated view hierarchy
	PageSource *string
	// DeviceName is reported in the page source header
	DeviceName string
}

// New creates a new mock driver.
func New(cfg Config) *Driver {
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Mock Device"
	}
	return &Driver{Config: cfg}
}

// NewConnected creates a mock driver that already holds a session.
func NewConnected(cfg Config) *Driver {
	d := New(cfg)
	d.sessionID = "mock-" + uuid.NewString()
	return d
}

// Connect opens a simulated session.
func (d *Driver) Connect(ctx context.Context, caps core.Capabilities) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connectCalls++
	if d.connectCalls <= d.Config.ConnectFailures {
		return "", core.ErrTransientDevice.WithMessage(fmt.Sprintf("mock connection refused (attempt %d)", d.connectCalls))
	}
	d.sessionID = "mock-" + uuid.NewString()
	return d.sessionID, nil
}

// ExecuteRaw simulates a single attempt of the action.
func (d *Driver) ExecuteRaw(ctx context.Context, action core.DeviceAction) (*core.RawResult, error) {
	start := time.Now()

	d.mu.Lock()
	if d.sessionID == "" {
		d.mu.Unlock()
		return nil, core.ErrNotConnected
	}
	d.calls = append(d.calls, action)
	call := len(d.calls)
	d.mu.Unlock()

	// Simulate delay
	if d.Config.StepDelay > 0 {
		time.Sleep(d.Config.StepDelay)
	}

	if action.Type == core.ActionWait && action.Timeout > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(action.Timeout):
		}
	}

	if err := d.failure(call, action); err != nil {
		return nil, err
	}

	result := &core.RawResult{}
	switch action.Type {
	case core.ActionScreenshot:
		result.Screenshot, _ = d.Screenshot(ctx)
	case core.ActionSource:
		result.PageSource, _ = d.PageSource(ctx)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (d *Driver) failure(call int, action core.DeviceAction) error {
	if d.Config.FailWith != nil {
		return d.Config.FailWith(call, action)
	}
	if d.Config.FailOnCall > 0 && call == d.Config.FailOnCall {
		return core.ErrElementNotFound.WithMessage(fmt.Sprintf("Element not found: %s (simulated on call %d)", action.Selector, call))
	}
	return nil
}

// Calls returns the actions passed to ExecuteRaw so far.
func (d *Driver) Calls() []core.DeviceAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.DeviceAction(nil), d.calls...)
}

// ConnectCalls returns how many times Connect was called.
func (d *Driver) ConnectCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectCalls
}

// Screenshot returns a mock PNG image.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if d.SessionID() == "" {
		return nil, core.ErrNotConnected
	}
	// Minimal valid PNG (1x1 transparent pixel)
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}, nil
}

// PageSource returns an Android-like view hierarchy.
func (d *Driver) PageSource(ctx context.Context) (string, error) {
	if d.SessionID() == "" {
		return "", core.ErrNotConnected
	}
	if d.Config.PageSource != nil {
		return *d.Config.PageSource, nil
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<hierarchy rotation="0" device="%s">
  <android.widget.FrameLayout bounds="[0,0][1080,2400]">
    <android.widget.EditText resource-id="search_bar" text="" bounds="[40,120][1040,220]"/>
    <android.widget.Button resource-id="btn_search" text="Search" bounds="[820,240][1040,340]"/>
    <android.widget.ScrollView resource-id="results" bounds="[0,360][1080,2400]">
      <android.view.ViewGroup content-desc="result_item" bounds="[0,360][1080,600]"/>
    </android.widget.ScrollView>
  </android.widget.FrameLayout>
</hierarchy>`, d.Config.DeviceName), nil
}

// Disconnect closes the simulated session.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionID = ""
	return nil
}

// SessionID returns the active session id.
func (d *Driver) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}
