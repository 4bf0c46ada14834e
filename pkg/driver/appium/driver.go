package appium

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/hierarchy"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
)

// Default swipe geometry when neither coordinates nor a scrollable element are known.
const (
	defaultSwipeDistance = 300
	swipeDurationMs      = 400
)

// Driver implements core.Driver using an Appium server.
type Driver struct {
	client *Client
	appID  string // package activated by launch actions
}

// NewDriver creates a driver for the given server. Connect opens the session.
func NewDriver(serverURL string) *Driver {
	return &Driver{client: NewClient(serverURL)}
}

// Client exposes the underlying HTTP client.
func (d *Driver) Client() *Client {
	return d.client
}

// Connect implements core.Driver.
func (d *Driver) Connect(ctx context.Context, caps core.Capabilities) (string, error) {
	d.appID = caps.AppPackage
	return d.client.Connect(ctx, caps.ToW3C())
}

// Disconnect implements core.Driver.
func (d *Driver) Disconnect(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// SessionID implements core.Driver.
func (d *Driver) SessionID() string {
	return d.client.SessionID()
}

// Screenshot implements core.Driver.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if d.SessionID() == "" {
		return nil, core.ErrNotConnected
	}
	return d.client.Screenshot(ctx)
}

// PageSource implements core.Driver.
func (d *Driver) PageSource(ctx context.Context) (string, error) {
	if d.SessionID() == "" {
		return "", core.ErrNotConnected
	}
	return d.client.Source(ctx)
}

// ExecuteRaw implements core.Driver. It performs exactly one attempt.
func (d *Driver) ExecuteRaw(ctx context.Context, action core.DeviceAction) (*core.RawResult, error) {
	if d.SessionID() == "" {
		return nil, core.ErrNotConnected
	}

	start := time.Now()
	result := &core.RawResult{}
	var err error

	switch action.Type {
	case core.ActionTap:
		err = d.tap(ctx, action)
	case core.ActionInput:
		err = d.typeText(ctx, action)
	case core.ActionSwipe:
		err = d.swipe(ctx, action)
	case core.ActionWait:
		err = d.wait(ctx, action)
	case core.ActionScreenshot:
		result.Screenshot, err = d.client.Screenshot(ctx)
	case core.ActionSource:
		result.PageSource, err = d.client.Source(ctx)
	case core.ActionLaunch:
		err = d.launch(ctx, action)
	case core.ActionBack:
		err = d.client.Back(ctx)
	default:
		err = core.ErrInvalidAction.WithMessage(fmt.Sprintf("unsupported action type: %s", action.Type))
	}

	result.Duration = time.Since(start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Driver) tap(ctx context.Context, action core.DeviceAction) error {
	if action.Coordinates != nil {
		return d.client.Tap(ctx, action.Coordinates.X, action.Coordinates.Y)
	}

	strategy, value := Locator(action.Selector)
	id, err := d.client.FindElement(ctx, strategy, value)
	if err == nil {
		return d.client.ClickElement(ctx, id)
	}
	if !errors.Is(err, core.ErrElementNotFound) {
		return err
	}

	// The locator missed; look the element up in the page source and tap
	// its clickable container instead.
	x, y, ok := d.locateInSource(ctx, action.Selector)
	if !ok {
		return err
	}
	logger.Debug("appium: %q found via page source, tapping (%d,%d)", action.Selector, x, y)
	return d.client.Tap(ctx, x, y)
}

func (d *Driver) locateInSource(ctx context.Context, selector string) (int, int, bool) {
	src, err := d.client.Source(ctx)
	if err != nil {
		return 0, 0, false
	}
	elements, err := hierarchy.Parse(src)
	if err != nil {
		return 0, 0, false
	}
	matches := hierarchy.Find(elements, selector)
	if len(matches) == 0 {
		return 0, 0, false
	}
	x, y := hierarchy.ClickableAncestor(matches[0]).Bounds.Center()
	return x, y, true
}

func (d *Driver) typeText(ctx context.Context, action core.DeviceAction) error {
	if action.Selector == "" {
		return d.client.SendKeys(ctx, action.Text)
	}
	strategy, value := Locator(action.Selector)
	id, err := d.client.FindElement(ctx, strategy, value)
	if err != nil {
		return err
	}
	if err := d.client.ClearElement(ctx, id); err != nil {
		logger.Warn("appium: clear before typing failed: %v", err)
	}
	return d.client.SetElementValue(ctx, id, action.Text)
}

func (d *Driver) swipe(ctx context.Context, action core.DeviceAction) error {
	if action.Coordinates != nil {
		x, y := action.Coordinates.X, action.Coordinates.Y
		return d.client.Swipe(ctx, x, y, x, y+defaultSwipeDistance, swipeDurationMs)
	}

	if action.Selector != "" {
		strategy, value := Locator(action.Selector)
		if id, err := d.client.FindElement(ctx, strategy, value); err == nil {
			if x, y, w, h, err := d.client.GetElementRect(ctx, id); err == nil && h > 0 {
				cx := x + w/2
				return d.client.Swipe(ctx, cx, y+h*4/5, cx, y+h/5, swipeDurationMs)
			}
		}
	}

	// Scroll the screen itself
	w, h := d.client.ScreenSize()
	if w == 0 || h == 0 {
		w, h = 1080, 1920
	}
	return d.client.Swipe(ctx, w/2, h*7/10, w/2, h*3/10, swipeDurationMs)
}

func (d *Driver) wait(ctx context.Context, action core.DeviceAction) error {
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if action.Selector == "" {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}

	strategy, value := Locator(action.Selector)
	deadline := time.Now().Add(timeout)
	for {
		_, err := d.client.FindElement(ctx, strategy, value)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return core.ErrElementNotFound.WithMessage(fmt.Sprintf("Element not found after %v: %s", timeout, action.Selector))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (d *Driver) launch(ctx context.Context, action core.DeviceAction) error {
	appID := action.Selector
	if appID == "" {
		appID = d.appID
	}
	if appID == "" {
		return core.ErrInvalidAction.WithMessage("launch requires an app package")
	}
	return d.client.LaunchApp(ctx, appID)
}

// Locator translates a plan selector into a WebDriver strategy and value.
func Locator(selector string) (strategy, value string) {
	sel := hierarchy.ParseSelector(selector)
	switch {
	case sel.XPath:
		return "xpath", sel.Value
	case sel.Attr == "resource-id":
		return "id", sel.Value
	case sel.Attr == "text":
		return "xpath", fmt.Sprintf(`//*[@text=%s]`, xpathLiteral(sel.Value))
	case sel.Attr == "content-desc":
		return "accessibility id", sel.Value
	default:
		return "class name", sel.Value
	}
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	return `concat("` + strings.Join(parts, `", '"', "`) + `")`
}
