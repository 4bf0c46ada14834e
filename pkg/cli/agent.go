package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/aiqa-agent/pkg/config"
	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/device"
	appiumdriver "github.com/devicelab-dev/aiqa-agent/pkg/driver/appium"
	"github.com/devicelab-dev/aiqa-agent/pkg/driver/mock"
	"github.com/devicelab-dev/aiqa-agent/pkg/executor"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
	"github.com/devicelab-dev/aiqa-agent/pkg/plan"
	"github.com/devicelab-dev/aiqa-agent/pkg/report"
	"github.com/devicelab-dev/aiqa-agent/pkg/session"
)

// Driver kinds accepted by --driver.
const (
	driverSimulation = "simulation"
	driverMock       = "mock"
	driverAppium     = "appium"
)

// agent is the wired set of collaborators a command runs against.
type agent struct {
	cfg        *config.Config
	planner    *plan.Generator
	controller *session.Controller
	store      *report.Store
	cleanup    []func()
}

// loadConfig reads the workspace config and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(config.GetHome())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("appium-url") {
		cfg.Appium.URL = c.String("appium-url")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	if c.IsSet("failure-rate") {
		cfg.Simulation.FailureRate = c.Float64("failure-rate")
	}
	if c.IsSet("seed") {
		cfg.Simulation.Seed = c.Int64("seed")
	}
	switch kind := driverKind(c.String("driver"), cfg); kind {
	case driverAppium:
		cfg.Appium.Enabled = true
	case driverSimulation, driverMock:
		cfg.Appium.Enabled = false
	default:
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown driver %q (want simulation, mock or appium)", kind))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// driverKind resolves the --driver flag, falling back to the config.
func driverKind(flag string, cfg *config.Config) string {
	if flag != "" {
		return strings.ToLower(flag)
	}
	if cfg.Appium.Enabled {
		return driverAppium
	}
	return driverSimulation
}

func initLogger(cfg *config.Config) error {
	err := logger.InitWithRotation(cfg.Log.File, logger.Rotation{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.Info("aiqa %s starting, home %s", Version, config.GetHome())
	return nil
}

// newAgent loads config, starts logging, connects the device and builds
// the session controller. openStore also opens the report database.
func newAgent(c *cli.Context, openStore bool) (*agent, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	a := &agent{cfg: cfg, planner: plan.NewGenerator()}
	a.cleanup = append(a.cleanup, logger.Close)

	adapter, closeDriver, err := createAdapter(c.Context, cfg, driverKind(c.String("driver"), cfg))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cleanup = append(a.cleanup, closeDriver)

	engineCfg := executor.ConfigFrom(cfg)
	factory := func(obs executor.Observer) *executor.Engine {
		return executor.NewEngine(engineCfg, adapter, obs)
	}
	a.controller = session.NewController(a.planner, factory, session.NewBroker(0))
	a.cleanup = append(a.cleanup, a.controller.Shutdown)

	if openStore {
		if a.store, err = openReportStore(cfg); err != nil {
			a.Close()
			return nil, err
		}
		a.cleanup = append(a.cleanup, func() { a.store.Close() })
	}
	return a, nil
}

// Close releases everything in reverse order of creation.
func (a *agent) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func openReportStore(cfg *config.Config) (*report.Store, error) {
	if err := ensureParentDir(cfg.Reports.Database); err != nil {
		return nil, err
	}
	store, err := report.OpenStore(cfg.Reports.Database)
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}
	return store, nil
}

// createAdapter connects the selected driver. The simulation driver has no
// adapter: the engine simulates work itself.
func createAdapter(ctx context.Context, cfg *config.Config, kind string) (*device.Adapter, func(), error) {
	var drv core.Driver
	switch kind {
	case driverSimulation:
		logger.Info("Using simulation driver (failure rate %.2f)", cfg.Simulation.FailureRate)
		return nil, func() {}, nil
	case driverMock:
		drv = mock.New(mock.Config{})
	case driverAppium:
		printSetupStep(fmt.Sprintf("Connecting to Appium server: %s", cfg.Appium.URL))
		drv = appiumdriver.NewDriver(cfg.Appium.URL)
	default:
		return nil, nil, core.ErrInvalidConfig.WithMessage("unknown driver " + kind)
	}

	logger.Info("Connecting %s driver", kind)
	id, err := device.Connect(ctx, drv, cfg.Appium.Capabilities, device.ConnectOptions{
		Attempts: cfg.Device.ConnectAttempts,
		Backoff:  cfg.Device.ConnectBackoff,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s driver: %w", kind, err)
	}
	if kind == driverAppium {
		printSetupSuccess("Appium session created: " + id)
	}

	adapter := device.NewAdapter(drv, device.Options{
		BaseBackoff:        cfg.Device.BaseBackoff,
		Retries:            cfg.Device.Retries,
		ValidateUI:         config.BoolValue(cfg.Device.ValidateUI, true),
		CaptureScreenshots: config.BoolValue(cfg.Device.CaptureScreenshots, true),
	})
	cleanup := func() {
		if err := drv.Disconnect(context.Background()); err != nil {
			logger.Warn("Failed to disconnect %s driver: %v", kind, err)
		}
	}
	return adapter, cleanup, nil
}

func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// catalogPath picks the test case catalog: flag, then config, then
// <home>/testcases.yaml when present. Empty means the built-in catalog.
func catalogPath(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	if cfg.Validation.Catalog != "" {
		return cfg.Validation.Catalog
	}
	if _, err := os.Stat(config.GetCatalogPath()); err == nil {
		return config.GetCatalogPath()
	}
	return ""
}
