// Package config handles configuration for the aiqa agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Appium     AppiumConfig     `yaml:"appium"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Device     DeviceConfig     `yaml:"device"`
	Simulation SimulationConfig `yaml:"simulation"`
	Validation ValidationConfig `yaml:"validation"`
	Reports    ReportsConfig    `yaml:"reports"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"tokenTTL"`
}

// AppiumConfig selects the real device driver.
type AppiumConfig struct {
	Enabled      bool              `yaml:"enabled"`
	URL          string            `yaml:"url"`
	Capabilities core.Capabilities `yaml:"capabilities"`
}

// ExecutionConfig drives the step loop timing and replanning budget.
type ExecutionConfig struct {
	StepInterval      time.Duration `yaml:"stepInterval"`
	SettleDelay       time.Duration `yaml:"settleDelay"`
	RerunDelay        time.Duration `yaml:"rerunDelay"`
	MaxReplanAttempts int           `yaml:"maxReplanAttempts"`
}

// DeviceConfig drives the device action adapter.
type DeviceConfig struct {
	Retries            int           `yaml:"retries"`
	BaseBackoff        time.Duration `yaml:"baseBackoff"`
	ValidateUI         *bool         `yaml:"validateUI"`
	CaptureScreenshots *bool         `yaml:"captureScreenshots"`
	ConnectAttempts    int           `yaml:"connectAttempts"`
	ConnectBackoff     time.Duration `yaml:"connectBackoff"`
}

// SimulationConfig controls work simulation when no device is connected.
type SimulationConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	FailureRate float64       `yaml:"failureRate"`
	MinStep     int           `yaml:"minStep"`
	MinDelay    time.Duration `yaml:"minDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	Seed        int64         `yaml:"seed"`
}

// ValidationConfig controls batch test runs.
type ValidationConfig struct {
	CommandTimeout   time.Duration `yaml:"commandTimeout"`
	SuccessThreshold float64       `yaml:"successThreshold"`
	CommandPause     time.Duration `yaml:"commandPause"`
	PlanDelay        time.Duration `yaml:"planDelay"`
	Catalog          string        `yaml:"catalog"`
}

// ReportsConfig locates the report store.
type ReportsConfig struct {
	Database string `yaml:"database"`
}

// LogConfig controls the log file sink.
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// BoolValue dereferences an optional flag.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// Default returns a config with every value set.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Auth.Secret == "" {
		c.Auth.Secret = "aiqa-dev-secret"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Appium.URL == "" {
		c.Appium.URL = "http://127.0.0.1:4723"
	}
	if c.Appium.Capabilities.PlatformName == "" {
		c.Appium.Capabilities = core.DefaultCapabilities()
	}

	if c.Execution.StepInterval == 0 {
		c.Execution.StepInterval = 1500 * time.Millisecond
	}
	if c.Execution.SettleDelay == 0 {
		c.Execution.SettleDelay = 2 * time.Second
	}
	if c.Execution.RerunDelay == 0 {
		c.Execution.RerunDelay = 100 * time.Millisecond
	}
	if c.Execution.MaxReplanAttempts == 0 {
		c.Execution.MaxReplanAttempts = 3
	}

	if c.Device.Retries == 0 {
		c.Device.Retries = core.DefaultRetries
	}
	if c.Device.BaseBackoff == 0 {
		c.Device.BaseBackoff = 500 * time.Millisecond
	}
	if c.Device.ValidateUI == nil {
		c.Device.ValidateUI = Bool(true)
	}
	if c.Device.CaptureScreenshots == nil {
		c.Device.CaptureScreenshots = Bool(true)
	}
	if c.Device.ConnectAttempts == 0 {
		c.Device.ConnectAttempts = 3
	}
	if c.Device.ConnectBackoff == 0 {
		c.Device.ConnectBackoff = time.Second
	}

	if c.Simulation.Enabled == nil {
		c.Simulation.Enabled = Bool(true)
	}
	if c.Simulation.FailureRate == 0 {
		c.Simulation.FailureRate = 0.2
	}
	if c.Simulation.MinStep == 0 {
		c.Simulation.MinStep = 2
	}
	if c.Simulation.MinDelay == 0 {
		c.Simulation.MinDelay = 500 * time.Millisecond
	}
	if c.Simulation.MaxDelay == 0 {
		c.Simulation.MaxDelay = 1500 * time.Millisecond
	}

	if c.Validation.CommandTimeout == 0 {
		c.Validation.CommandTimeout = 30 * time.Second
	}
	if c.Validation.SuccessThreshold == 0 {
		c.Validation.SuccessThreshold = 80
	}
	if c.Validation.CommandPause == 0 {
		c.Validation.CommandPause = time.Second
	}

	if c.Reports.Database == "" {
		c.Reports.Database = filepath.Join(GetReportsDir(), "reports.db")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(GetHome(), "logs", "aiqa.log")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 10
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Execution.MaxReplanAttempts < 1:
		return core.ErrInvalidConfig.WithMessage("execution.maxReplanAttempts must be at least 1")
	case c.Device.Retries < 1:
		return core.ErrInvalidConfig.WithMessage("device.retries must be at least 1")
	case c.Simulation.FailureRate < 0 || c.Simulation.FailureRate > 1:
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("simulation.failureRate %.2f not in [0,1]", c.Simulation.FailureRate))
	case c.Simulation.MaxDelay < c.Simulation.MinDelay:
		return core.ErrInvalidConfig.WithMessage("simulation.maxDelay is below simulation.minDelay")
	case c.Validation.SuccessThreshold < 0 || c.Validation.SuccessThreshold > 100:
		return core.ErrInvalidConfig.WithMessage("validation.successThreshold not in [0,100]")
	}
	return nil
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return defaults
	return Default(), nil
}
