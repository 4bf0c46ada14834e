package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/aiqa-agent/pkg/api"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
	"github.com/devicelab-dev/aiqa-agent/pkg/session"
	"github.com/devicelab-dev/aiqa-agent/pkg/validation"
)

const shutdownTimeout = 10 * time.Second

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve the session API and event stream",
	Description: `Start the HTTP API: token auth, plan preview, session control,
a WebSocket event stream per session, validation runs and stored reports.
Prometheus metrics are served on /metrics.

Examples:
  aiqa serve
  aiqa serve --addr :9090
  aiqa --driver appium serve`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "Listen address (default: server.addr from config, :8080)",
			EnvVars: []string{"AIQA_ADDR"},
		},
	},
	Action: runServe,
}

func runServe(c *cli.Context) error {
	a, err := newAgent(c, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}

	catalog, err := validation.LoadCatalog(catalogPath("", a.cfg))
	if err != nil {
		return err
	}
	srv := api.NewServer(api.Options{
		Controller: a.controller,
		Auth:       session.NewAuthenticator(a.cfg.Auth.Secret, a.cfg.Auth.TokenTTL),
		Planner:    a.planner,
		Harness:    validation.New(a.controller, validation.ConfigFrom(a.cfg), a.store),
		Catalog:    catalog,
		Store:      a.store,
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(os.Stdout, "serving on "+addr)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped: %v", err)
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
