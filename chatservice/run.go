package chatservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/itscraftings/converse/internal/config"
	"github.com/itscraftings/converse/internal/logger"
)

const serviceName = "chat-service"

// Run loads configuration from the environment, serves until SIGINT/SIGTERM
// and then drains in-flight requests.
func Run() error {
	log := logger.New(serviceName)

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	log = logger.NewWithOptions(serviceName, logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("notify_mode", cfg.NotifyMode).
		Bool("outbox_embedded", cfg.OutboxEmbedded).
		Msg("Chat service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := New(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Service wiring failed")
		return err
	}
	defer svc.Close()
	svc.Start(ctx)

	if err := svc.WaitHealthy(ctx); err != nil {
		log.Error().Stack().Err(err).Strs("down", svc.Down()).Msg("startup health check failed")
		return err
	}
	return svc.ListenAndServe(ctx)
}

// startupWindow is how long WaitHealthy waits: two check intervals, at least a minute.
func startupWindow(cfg *config.Config) time.Duration {
	if w := 2 * cfg.HealthInterval(); w > time.Minute {
		return w
	}
	return time.Minute
}

// WaitHealthy polls the aggregated health until it turns healthy, ctx ends or
// the startup window closes.
func (s *Service) WaitHealthy(ctx context.Context) error {
	window := startupWindow(s.cfg)
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()
	for !s.Healthy() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("startup aborted: %v not healthy within %s", s.Down(), window)
			}
			return ctx.Err()
		case <-poll.C:
		}
	}
	return nil
}

// ListenAndServe serves Handler on the configured port until ctx ends, then
// shuts down within ShutdownTimeout. Subscription connections refresh their
// own deadlines on every frame, so the server timeouts only bound plain requests.
func (s *Service) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.GetHTTPAddr(),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error().Stack().Err(err).Msg("Server forced to shutdown")
		return err
	}
	s.log.Info().Msg("Server exited")
	return nil
}
