package core

import (
	"context"
	"time"
)

// Driver is the device capability the Device Action Adapter consumes.
// Implementations: Appium (real device) and mock (simulated device).
// The adapter owns retries and validation; a Driver performs exactly one attempt.
type Driver interface {
	// Connect opens a device session and returns its id
	Connect(ctx context.Context, caps Capabilities) (string, error)

	// ExecuteRaw performs a single attempt of the action
	ExecuteRaw(ctx context.Context, action DeviceAction) (*RawResult, error)

	// Screenshot captures the current screen as PNG
	Screenshot(ctx context.Context) ([]byte, error)

	// PageSource returns the UI hierarchy markup
	PageSource(ctx context.Context) (string, error)

	// Disconnect closes the device session
	Disconnect(ctx context.Context) error

	// SessionID returns the active session id, or "" when not connected
	SessionID() string
}

// RawResult is the outcome of one driver attempt.
type RawResult struct {
	Screenshot []byte        `json:"-"`
	PageSource           string `json:"pageSource,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Capabilities describes the device session requested from the driver.
type Capabilities struct {
	PlatformName         string `yaml:"platformName" json:"platformName"`
	DeviceName           string `yaml:"deviceName" json:"deviceName"`
	PlatformVersion      string `yaml:"platformVersion" json:"platformVersion,omitempty"`
	AutomationName       string `yaml:"automationName" json:"automationName"`
	AppPackage           string `yaml:"appPackage" json:"appPackage,omitempty"`
	AppActivity          string `yaml:"appActivity" json:"appActivity,omitempty"`
	NoReset              bool   `yaml:"noReset" json:"noReset"`
	NewCommandTimeout    int    `yaml:"newCommandTimeout" json:"newCommandTimeout,omitempty"`
	AutoGrantPermissions bool   `yaml:"autoGrantPermissions" json:"autoGrantPermissions"`
	UnicodeKeyboard      bool   `yaml:"unicodeKeyboard" json:"unicodeKeyboard"`
	ResetKeyboard        bool   `yaml:"resetKeyboard" json:"resetKeyboard"`
}

// DefaultCapabilities returns the Android emulator defaults.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		PlatformName:         "Android",
		DeviceName:           "Android Emulator",
		AutomationName:       "UiAutomator2",
		NoReset:              true,
		NewCommandTimeout:    300,
		AutoGrantPermissions: true,
		UnicodeKeyboard:      true,
		ResetKeyboard:        true,
	}
}

// ToW3C converts capabilities to the W3C alwaysMatch map.
// Non-standard keys get the "appium:" vendor prefix.
func (c Capabilities) ToW3C() map[string]interface{} {
	caps := map[string]interface{}{
		"platformName":                c.PlatformName,
		"appium:deviceName":           c.DeviceName,
		"appium:automationName":       c.AutomationName,
		"appium:noReset":              c.NoReset,
		"appium:autoGrantPermissions": c.AutoGrantPermissions,
		"appium:unicodeKeyboard":      c.UnicodeKeyboard,
		"appium:resetKeyboard":        c.ResetKeyboard,
	}
	if c.PlatformVersion != "" {
		caps["appium:platformVersion"] = c.PlatformVersion
	}
	if c.AppPackage != "" {
		caps["appium:appPackage"] = c.AppPackage
	}
	if c.AppActivity != "" {
		caps["appium:appActivity"] = c.AppActivity
	}
	if c.NewCommandTimeout > 0 {
		caps["appium:newCommandTimeout"] = c.NewCommandTimeout
	}
	return caps
}
