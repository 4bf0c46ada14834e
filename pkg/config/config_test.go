package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
)

func TestLoad_ValidConfig(t *testing.T) {
	ResetHome()
	t.Setenv("AIQA_HOME", t.TempDir())

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := `
server:
  addr: ":9090"
appium:
  enabled: true
  url: http://device-host:4723
  capabilities:
    platformName: Android
    deviceName: Pixel 7
    appPackage: com.example.shop
execution:
  stepInterval: 250ms
  maxReplanAttempts: 5
simulation:
  enabled: false
  failureRate: 0.5
validation:
  commandTimeout: 10s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if !cfg.Appium.Enabled || cfg.Appium.URL != "http://device-host:4723" {
		t.Errorf("Appium = %+v", cfg.Appium)
	}
	if cfg.Appium.Capabilities.AppPackage != "com.example.shop" {
		t.Errorf("AppPackage = %q, want com.example.shop", cfg.Appium.Capabilities.AppPackage)
	}
	if cfg.Execution.StepInterval != 250*time.Millisecond {
		t.Errorf("StepInterval = %v, want 250ms", cfg.Execution.StepInterval)
	}
	if cfg.Execution.MaxReplanAttempts != 5 {
		t.Errorf("MaxReplanAttempts = %d, want 5", cfg.Execution.MaxReplanAttempts)
	}
	if BoolValue(cfg.Simulation.Enabled, true) {
		t.Error("Simulation.Enabled = true, want false")
	}
	if cfg.Simulation.FailureRate != 0.5 {
		t.Errorf("FailureRate = %v, want 0.5", cfg.Simulation.FailureRate)
	}
	if cfg.Validation.CommandTimeout != 10*time.Second {
		t.Errorf("CommandTimeout = %v, want 10s", cfg.Validation.CommandTimeout)
	}

	// untouched sections get defaults
	if cfg.Execution.SettleDelay != 2*time.Second {
		t.Errorf("SettleDelay = %v, want 2s", cfg.Execution.SettleDelay)
	}
	if cfg.Device.Retries != 3 {
		t.Errorf("Device.Retries = %d, want 3", cfg.Device.Retries)
	}
}

func TestDefault(t *testing.T) {
	ResetHome()
	t.Setenv("AIQA_HOME", "/test/home")

	cfg := Default()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"StepInterval", cfg.Execution.StepInterval, 1500 * time.Millisecond},
		{"SettleDelay", cfg.Execution.SettleDelay, 2 * time.Second},
		{"RerunDelay", cfg.Execution.RerunDelay, 100 * time.Millisecond},
		{"MaxReplanAttempts", cfg.Execution.MaxReplanAttempts, 3},
		{"BaseBackoff", cfg.Device.BaseBackoff, 500 * time.Millisecond},
		{"FailureRate", cfg.Simulation.FailureRate, 0.2},
		{"MinStep", cfg.Simulation.MinStep, 2},
		{"CommandTimeout", cfg.Validation.CommandTimeout, 30 * time.Second},
		{"SuccessThreshold", cfg.Validation.SuccessThreshold, 80.0},
		{"Database", cfg.Reports.Database, filepath.Join("/test/home", "reports", "reports.db")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	ResetHome()
	t.Setenv("AIQA_HOME", t.TempDir())

	tests := []struct {
		name    string
		content string
	}{
		{"failure rate above one", "simulation:\n  failureRate: 1.5\n"},
		{"negative attempts", "execution:\n  maxReplanAttempts: -1\n"},
		{"threshold above 100", "validation:\n  successThreshold: 120\n"},
		{"bad yaml", "execution: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if !errors.Is(err, core.ErrInvalidConfig) {
				t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromDir(t *testing.T) {
	ResetHome()
	t.Setenv("AIQA_HOME", t.TempDir())

	dir := t.TempDir()
	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir(empty) error = %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want default :8080", cfg.Server.Addr)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte("server:\n  addr: \":7000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir(yml) error = %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %q, want :7000", cfg.Server.Addr)
	}
}
