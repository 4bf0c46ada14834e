package device

import (
	"context"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
)

// ConnectOptions bounds connection retries.
type ConnectOptions struct {
	Attempts int
	Backoff  time.Duration // wait after attempt n is 2^n * Backoff
}

// Connect opens a driver session, retrying with exponential backoff.
func Connect(ctx context.Context, driver core.Driver, caps core.Capabilities, opts ConnectOptions) (string, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		id, err := driver.Connect(ctx, caps)
		if err == nil {
			logger.Info("device: connected, session %s", id)
			return id, nil
		}
		lastErr = err
		logger.Warn("device: connection attempt %d/%d failed: %v", attempt+1, opts.Attempts, err)

		if attempt < opts.Attempts-1 {
			if err := sleep(ctx, (time.Duration(1)<<uint(attempt))*opts.Backoff); err != nil {
				return "", core.ErrNotConnected.WithCause(err)
			}
		}
	}
	return "", core.ErrNotConnected.WithCause(lastErr)
}
