// Package outboxworker runs the event dispatcher as its own process. Chat
// nodes started with OUTBOX_EMBEDDED=false rely on it to drain the outbox and
// fan events out through valkey.
package outboxworker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/itscraftings/converse/internal/config"
	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/events/relay"
	"github.com/itscraftings/converse/internal/logger"
	"github.com/itscraftings/converse/internal/outbox"
	"github.com/itscraftings/converse/internal/store/sqlstore"
)

const serviceName = "outbox-worker"

// Run starts the outbox worker and blocks until shutdown or error.
func Run() error {
	log := logger.New(serviceName)

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("config")
		return err
	}
	log = logger.NewWithOptions(serviceName, logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if cfg.ValkeyAddr == "" {
		return fmt.Errorf("VALKEY_ADDR is required: a standalone dispatcher has no local subscribers")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialect, err := sqlstore.ParseDialect(cfg.DBDriver)
	if err != nil {
		return err
	}
	db, err := sqlstore.Open(ctx, dialect, cfg.DSN())
	if err != nil {
		log.Error().Stack().Err(err).Msg("store open")
		return err
	}
	st := sqlstore.New(db, dialect, sqlstore.WithOutbox(true))
	defer st.Close()
	// The worker may come up before any chat node has created the table.
	if err := st.Migrate(ctx); err != nil {
		return errors.Wrap(err, "migrate")
	}

	client, err := relay.Dial(cfg.ValkeyAddr)
	if err != nil {
		return errors.Wrap(err, "valkey dial")
	}
	r := relay.New(client, cfg.ValkeyChannel, events.Discard, log)
	defer r.Close()
	if err := r.HealthPing(ctx); err != nil {
		return errors.Wrap(err, "valkey ping")
	}

	w := outbox.NewWorker(st.DB(), r, outbox.Config{
		BatchSize:   cfg.OutboxBatchSize,
		Interval:    cfg.OutboxInterval,
		MaxAttempts: cfg.OutboxMaxAttempts,
		Retention:   cfg.OutboxRetention,
		SkipLocked:  dialect == sqlstore.Postgres,
	}, log)

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("channel", cfg.ValkeyChannel).
		Msg("outbox worker starting")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Stack().Err(err).Msg("outbox worker exit")
		return err
	}
	return nil
}
