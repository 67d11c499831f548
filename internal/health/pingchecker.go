package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultCheckTimeout = 2 * time.Second

// HealthPinger is implemented by dependencies that can answer a cheap liveness
// check. A nil error means healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}

// PingChecker pings one HealthPinger on an interval and caches the result.
type PingChecker struct {
	name         string
	pinger       HealthPinger
	healthy      atomic.Int32
	log          zerolog.Logger
	checkTimeout time.Duration
}

// NewPingChecker returns a checker that starts unhealthy until its first successful check.
func NewPingChecker(name string, p HealthPinger, log zerolog.Logger, checkTimeout time.Duration) *PingChecker {
	if checkTimeout <= 0 {
		checkTimeout = defaultCheckTimeout
	}
	c := &PingChecker{name: name, pinger: p, log: log, checkTimeout: checkTimeout}
	c.healthy.Store(0)
	return c
}

func (c *PingChecker) Name() string { return c.name }

// IsHealthy returns the cached health status (non-blocking).
func (c *PingChecker) IsHealthy() bool { return c.healthy.Load() == 1 }

// Start checks immediately and then on every tick until ctx ends.
func (c *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one check and records the result.
func (c *PingChecker) Check(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.pinger.HealthPing(checkCtx); err != nil {
		c.log.Error().Stack().
			Str("checker", c.name).
			Err(err).
			Msg("health check failed")
		c.healthy.Store(0)
		return false
	}
	c.healthy.Store(1)
	return true
}

// PingFunc adapts a function to HealthPinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) HealthPing(ctx context.Context) error { return f(ctx) }
