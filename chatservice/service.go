package chatservice

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/api"
	"github.com/itscraftings/converse/internal/api/ws"
	"github.com/itscraftings/converse/internal/auth"
	"github.com/itscraftings/converse/internal/config"
	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/events/relay"
	"github.com/itscraftings/converse/internal/health"
	"github.com/itscraftings/converse/internal/metrics"
	"github.com/itscraftings/converse/internal/outbox"
	"github.com/itscraftings/converse/internal/services"
	"github.com/itscraftings/converse/internal/store"
	"github.com/itscraftings/converse/internal/store/sqlstore"
)

// Service is a fully wired chat node: storage, event fan-out, HTTP routes and
// background workers.
type Service struct {
	cfg *config.Config
	log zerolog.Logger

	store   *sqlstore.Store
	bus     *events.Bus
	relay   *relay.Relay
	worker  *outbox.Worker
	metrics *metrics.Collector
	issuer  *auth.Issuer
	router  http.Handler

	checkers []health.HealthChecker
	health   *health.ServiceHealthChecker
}

// New opens and migrates the store and wires every component. Nothing runs
// until Start.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Service, error) {
	dialect, err := sqlstore.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	db, err := sqlstore.Open(ctx, dialect, cfg.DSN())
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", dialect)
	}
	outboxMode := cfg.NotifyMode == config.NotifyOutbox
	st := sqlstore.New(db, dialect, sqlstore.WithOutbox(outboxMode))
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	s := &Service{cfg: cfg, log: log, store: st, metrics: metrics.New()}
	s.bus = events.NewBus(log, events.WithBuffer(cfg.SubscriberBuffer), events.WithObserver(s.metrics))

	// fanout reaches every subscriber in the cluster
	var fanout events.Publisher = s.bus
	if cfg.ValkeyAddr != "" {
		client, err := relay.Dial(cfg.ValkeyAddr)
		if err != nil {
			_ = st.Close()
			return nil, errors.Wrap(err, "valkey dial")
		}
		s.relay = relay.New(client, cfg.ValkeyChannel, s.bus, log).WithMetrics(s.metrics)
		fanout = s.relay
	}

	// handlers publish directly, or leave it to the dispatcher after commit
	pub := fanout
	if outboxMode {
		pub = events.Discard
		if cfg.OutboxEmbedded {
			s.worker = outbox.NewWorker(db, fanout, outbox.Config{
				BatchSize:   cfg.OutboxBatchSize,
				Interval:    cfg.OutboxInterval,
				MaxAttempts: cfg.OutboxMaxAttempts,
				Retention:   cfg.OutboxRetention,
				SkipLocked:  dialect == sqlstore.Postgres,
			}, log).WithMetrics(s.metrics)
		}
	}

	s.issuer, err = auth.NewIssuer(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.checkers = append(s.checkers, store.NewHealthChecker(st, log, cfg.HealthCheckTimeout()))
	if s.relay != nil {
		s.checkers = append(s.checkers, health.NewPingChecker("relay", s.relay, log, cfg.HealthCheckTimeout()))
	}
	s.health = health.NewServiceHealthChecker(log, s.checkers...)

	s.router = api.NewRouter(api.Deps{
		Conversations:  services.NewConversationService(st, pub, log),
		Messages:       services.NewMessageService(st, pub, log),
		Users:          services.NewUserService(st, log),
		UserLookup:     st.Users(),
		Tokens:         s.issuer,
		Subscriptions:  ws.NewServer(s.bus, cfg.AllowedOrigins, log).WithMetrics(s.metrics),
		Health:         s.health.IsHealthy,
		Metrics:        s.metrics,
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            log,
	})
	return s, nil
}

// Handler returns the HTTP surface.
func (s *Service) Handler() http.Handler { return s.router }

// Issuer signs session tokens with the configured secret.
func (s *Service) Issuer() *auth.Issuer { return s.issuer }

// Store exposes the underlying store, e.g. for seeding users.
func (s *Service) Store() store.Store { return s.store }

// Healthy reports the aggregated dependency health.
func (s *Service) Healthy() bool { return s.health.IsHealthy() }

// Down names the dependencies that failed their last check.
func (s *Service) Down() []string { return s.health.Down() }

// Start launches health checks, the relay receiver and the outbox dispatcher.
// They stop when ctx is canceled.
func (s *Service) Start(ctx context.Context) {
	interval := s.cfg.HealthInterval()
	for _, c := range s.checkers {
		go c.Start(ctx, interval)
	}
	go s.health.Start(ctx, interval)

	if s.relay != nil {
		go func() {
			if err := s.relay.Run(ctx); err != nil {
				s.log.Error().Stack().Err(err).Msg("relay stopped")
			}
		}()
	}
	if s.worker != nil {
		go func() {
			if err := s.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error().Stack().Err(err).Msg("outbox dispatcher stopped")
			}
		}()
	}
}

// Close ends all subscriptions and releases connections.
func (s *Service) Close() {
	s.bus.Close()
	if s.relay != nil {
		s.relay.Close()
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn().Err(err).Msg("store close")
	}
}
