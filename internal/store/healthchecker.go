package store

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/health"
)

// NewHealthChecker monitors s through its HealthPing.
func NewHealthChecker(s Store, log zerolog.Logger, checkTimeout time.Duration) *health.PingChecker {
	return health.NewPingChecker("store", s, log, checkTimeout)
}
