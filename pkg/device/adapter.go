// Package device executes abstract device actions against a core.Driver
// with bounded retries and exponential backoff.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
	"github.com/devicelab-dev/aiqa-agent/pkg/metrics"
)

// DefaultBaseBackoff is the backoff unit between attempts.
const DefaultBaseBackoff = 500 * time.Millisecond

// Options configures an Adapter.
type Options struct {
	BaseBackoff        time.Duration // wait after attempt n is 2^n * BaseBackoff
	Retries            int           // attempt budget for actions that set none
	ValidateUI         bool          // check page source around non-read actions
	CaptureScreenshots bool          // grab a screenshot after a successful non-read action
}

// Adapter is the Device Action Adapter. It owns retry policy; the driver
// performs single attempts.
type Adapter struct {
	driver core.Driver
	opts   Options
}

// NewAdapter creates an adapter over the given driver.
func NewAdapter(driver core.Driver, opts Options) *Adapter {
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	return &Adapter{driver: driver, opts: opts}
}

// Driver returns the wrapped driver.
func (a *Adapter) Driver() core.Driver {
	return a.driver
}

// Connected reports whether the driver holds a device session.
func (a *Adapter) Connected() bool {
	return a != nil && a.driver != nil && a.driver.SessionID() != ""
}

// Execute runs the action with retries. Device failures are reported in the
// result; the returned error is only set for ErrNotConnected and invalid actions.
func (a *Adapter) Execute(ctx context.Context, action core.DeviceAction) (*core.ActionResult, error) {
	if !a.Connected() {
		return nil, core.ErrNotConnected
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}

	budget := action.RetryBudget()
	if action.Retries <= 0 && a.opts.Retries > 0 {
		budget = a.opts.Retries
	}
	start := time.Now()
	var lastErr error

	logger.Debug("device: executing %s selector=%q budget=%d", action.Type, action.Selector, budget)

	for attempt := 0; attempt < budget; attempt++ {
		if a.opts.ValidateUI && !action.IsRead() {
			a.validateUIState(ctx, "pre")
		}

		raw, err := a.attempt(ctx, action)
		if err == nil {
			if raw == nil {
				raw = &core.RawResult{}
			}
			if a.opts.ValidateUI && !action.IsRead() {
				a.validateUIState(ctx, "post")
			}
			result := &core.ActionResult{
				Success:    true,
				Screenshot: raw.Screenshot,
				PageSource: raw.PageSource,
				RetryCount: attempt,
			}
			if a.opts.CaptureScreenshots && !action.IsRead() && result.Screenshot == nil {
				captureStart := time.Now()
				if png, err := a.driver.Screenshot(ctx); err != nil {
					logger.Warn("device: screenshot after %s failed: %v", action.Type, err)
				} else {
					result.Screenshot = png
				}
				result.CaptureDuration = time.Since(captureStart)
			}
			result.Duration = time.Since(start)
			metrics.RecordDeviceAction(string(action.Type), true, attempt, result.Duration.Seconds())
			return result, nil
		}

		lastErr = err
		logger.Warn("device: %s attempt %d/%d failed: %v", action.Type, attempt+1, budget, err)

		if attempt < budget-1 {
			backoff := (time.Duration(1) << uint(attempt)) * a.opts.BaseBackoff
			logger.Debug("device: waiting %v before retry", backoff)
			if err := sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}
	}

	result := &core.ActionResult{
		Success:      false,
		Duration:     time.Since(start),
		RetryCount:   budget,
		ErrorMessage: fmt.Sprintf("Action failed after %d attempts. Last error: %v", budget, lastErr),
		Kind:         core.KindOf(lastErr),
	}
	metrics.RecordDeviceAction(string(action.Type), false, budget, result.Duration.Seconds())
	return result, nil
}

// attempt runs one driver call. The per-action timeout bounds how long we
// wait; it does not cancel the call itself.
func (a *Adapter) attempt(ctx context.Context, action core.DeviceAction) (*core.RawResult, error) {
	if action.Timeout <= 0 || action.Type == core.ActionWait {
		return a.driver.ExecuteRaw(ctx, action)
	}

	type outcome struct {
		raw *core.RawResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		raw, err := a.driver.ExecuteRaw(ctx, action)
		done <- outcome{raw, err}
	}()

	timer := time.NewTimer(action.Timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.raw, o.err
	case <-timer.C:
		return nil, core.ErrActionTimeout.WithMessage(fmt.Sprintf("%s timed out after %v", action.Type, action.Timeout))
	}
}

// validateUIState re-reads the page source and checks for Android markup.
// A failed check is only logged.
func (a *Adapter) validateUIState(ctx context.Context, phase string) bool {
	src, err := a.driver.PageSource(ctx)
	if err != nil {
		logger.Warn("device: %s-action UI validation failed: %v", phase, err)
		return false
	}
	if !HasUIMarkup(src) {
		logger.Warn("device: %s-action UI validation found no recognizable elements", phase)
		return false
	}
	return true
}

// HasUIMarkup reports whether src looks like an Android view hierarchy.
func HasUIMarkup(src string) bool {
	return strings.Contains(src, "<android.widget.") || strings.Contains(src, "<android.view.")
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
