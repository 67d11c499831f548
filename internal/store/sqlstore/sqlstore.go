// Package sqlstore implements store.Store on PostgreSQL and SQLite through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/store"
)

// Store is the SQL-backed store.Store.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	outbox  bool
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithOutbox makes every mutating transaction also write its events to event_outbox.
func WithOutbox(enabled bool) Option {
	return func(s *Store) { s.outbox = enabled }
}

// WithClock overrides the time source used for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an open database.
func New(db *sqlx.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Users() store.Users                 { return &users{s: s} }
func (s *Store) Conversations() store.Conversations { return &conversations{s: s} }
func (s *Store) Participants() store.Participants   { return &participants{s: s} }
func (s *Store) Messages() store.Messages           { return &messages{s: s} }

// DB exposes the underlying handle for the outbox worker and tests.
func (s *Store) DB() *sqlx.DB { return s.db }

// Dialect returns the SQL flavour of this store.
func (s *Store) Dialect() Dialect { return s.dialect }

// OutboxEnabled reports whether events are written to event_outbox.
func (s *Store) OutboxEnabled() bool { return s.outbox }

// HealthPing implements health.HealthPinger.
func (s *Store) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) timestamp() time.Time { return s.now().UTC() }

// inTx runs fn in a transaction, committing only if fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// writeOutbox stores p in event_outbox inside tx when the outbox is enabled.
func (s *Store) writeOutbox(ctx context.Context, tx *sqlx.Tx, payloads ...events.Payload) error {
	if !s.outbox {
		return nil
	}
	now := s.timestamp()
	for _, p := range payloads {
		b, err := events.Encode(p, "")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
            INSERT INTO event_outbox (topic, aggregate_id, payload, status, attempt_count, next_attempt_at, created_at, updated_at)
            VALUES (?, ?, ?, 'pending', 0, ?, ?, ?)
        `), p.Topic().String(), p.ConversationID(), string(b), now, now, now)
		if err != nil {
			return err
		}
	}
	return nil
}
