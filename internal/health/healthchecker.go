package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker is implemented by component-level checkers (store, relay).
type HealthChecker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// ServiceHealthChecker folds component checkers into one service flag. The
// service is healthy only when every component is.
type ServiceHealthChecker struct {
	deps []HealthChecker
	log  zerolog.Logger

	mu        sync.RWMutex
	evaluated bool
	down      []string
}

func NewServiceHealthChecker(log zerolog.Logger, deps ...HealthChecker) *ServiceHealthChecker {
	return &ServiceHealthChecker{deps: deps, log: log}
}

// IsHealthy returns the result of the last evaluation. It is false before the first one.
func (h *ServiceHealthChecker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.evaluated && len(h.down) == 0
}

// Down names the components that failed the last evaluation.
func (h *ServiceHealthChecker) Down() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.down...)
}

// Evaluate polls every component once and logs UP/DOWN transitions.
func (h *ServiceHealthChecker) Evaluate() bool {
	var down []string
	for _, c := range h.deps {
		if !c.IsHealthy() {
			down = append(down, c.Name())
		}
	}

	h.mu.Lock()
	wasHealthy := h.evaluated && len(h.down) == 0
	first := !h.evaluated
	h.evaluated = true
	h.down = down
	h.mu.Unlock()

	healthy := len(down) == 0
	switch {
	case healthy && !wasHealthy:
		h.log.Info().Msg("service health: UP")
	case !healthy && (wasHealthy || first):
		h.log.Error().Strs("down", down).Msg("service health: DOWN")
	}
	return healthy
}

// Start evaluates immediately and then on every tick until ctx ends.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Evaluate()
		}
	}
}
