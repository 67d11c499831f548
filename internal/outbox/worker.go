package outbox

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/events"
)

// Row statuses stored in event_outbox.status
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusDead    = "dead"
)

// SQL statements kept as constants for clarity and reuse
const (
	selectReadyRowsSQL = `
SELECT id, topic, payload, attempt_count
FROM event_outbox
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY id ASC
LIMIT ?`

	markDoneSQL = `UPDATE event_outbox SET status = 'done', updated_at = ? WHERE id = ?`

	markFailedSQL = `
UPDATE event_outbox
SET attempt_count = attempt_count + 1, next_attempt_at = ?, status = ?, updated_at = ?
WHERE id = ?`

	purgeDoneSQL = `DELETE FROM event_outbox WHERE status = 'done' AND updated_at < ?`
)

// Config controls batch size and polling cadence.
type Config struct {
	BatchSize   int           // number of rows to lease per cycle
	Interval    time.Duration // poll interval
	MaxAttempts int           // rows failing this many times are parked as dead
	Retention   time.Duration // done rows older than this are purged; zero keeps them
	// SkipLocked appends FOR UPDATE SKIP LOCKED to the lease query (postgres only).
	SkipLocked bool
}

// Metrics is the subset of metrics.Collector the worker reports to.
type Metrics interface {
	OutboxProcessed(status string)
}

type nopMetrics struct{}

func (nopMetrics) OutboxProcessed(string) {}

// Worker drains committed event rows onto a Publisher.
type Worker struct {
	db      *sqlx.DB
	pub     events.Publisher
	log     zerolog.Logger
	cfg     Config
	metrics Metrics
	now     func() time.Time
}

// NewWorker constructs a Worker from dependencies.
func NewWorker(db *sqlx.DB, pub events.Publisher, cfg Config, log zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Worker{
		db:      db,
		pub:     pub,
		log:     log.With().Str("component", "outbox_worker").Logger(),
		cfg:     cfg,
		metrics: nopMetrics{},
		now:     time.Now,
	}
}

// WithMetrics attaches a metrics sink and returns w.
func (w *Worker) WithMetrics(m Metrics) *Worker {
	if m != nil {
		w.metrics = m
	}
	return w
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("outbox worker starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("outbox worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				// Log and continue; per-row backoff prevents hot-looping
				w.log.Error().Err(err).Msg("outbox processOnce")
			}
			if err := w.purge(ctx); err != nil {
				w.log.Error().Err(err).Msg("outbox purge")
			}
		}
	}
}

type job struct {
	ID       int64  `db:"id"`
	Topic    string `db:"topic"`
	Payload  string `db:"payload"`
	Attempts int    `db:"attempt_count"`
}

// ProcessOnce leases one batch, publishes each row and records the outcome.
// It returns the number of rows published.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	tx, err := w.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	jobs, err := w.leaseBatch(ctx, tx)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, tx.Commit()
	}

	published := 0
	for _, j := range jobs {
		p, _, err := events.Decode([]byte(j.Payload))
		if err != nil {
			// Poison pill: back off, then park it once attempts run out
			w.log.Error().Err(err).Int64("id", j.ID).Str("topic", j.Topic).Msg("undecodable outbox row")
			if e := w.markFailed(ctx, tx, j); e != nil {
				w.log.Error().Err(e).Int64("id", j.ID).Msg("markFailed error")
			}
			continue
		}
		w.pub.Publish(ctx, p)
		published++
		if e := w.markDone(ctx, tx, j.ID); e != nil {
			w.log.Error().Err(e).Int64("id", j.ID).Msg("markDone error")
		}
		w.metrics.OutboxProcessed(StatusDone)
	}

	return published, tx.Commit()
}

// leaseBatch returns up to BatchSize ready rows in commit order.
func (w *Worker) leaseBatch(ctx context.Context, tx *sqlx.Tx) ([]job, error) {
	q := selectReadyRowsSQL
	if w.cfg.SkipLocked {
		q += "\nFOR UPDATE SKIP LOCKED"
	}
	var jobs []job
	if err := tx.SelectContext(ctx, &jobs, tx.Rebind(q), w.now().UTC(), w.cfg.BatchSize); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (w *Worker) markDone(ctx context.Context, tx *sqlx.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(markDoneSQL), w.now().UTC(), id)
	return err
}

func (w *Worker) markFailed(ctx context.Context, tx *sqlx.Tx, j job) error {
	now := w.now().UTC()
	status := StatusPending
	if j.Attempts+1 >= w.cfg.MaxAttempts {
		status = StatusDead
	}
	w.metrics.OutboxProcessed(status)
	_, err := tx.ExecContext(ctx, tx.Rebind(markFailedSQL), now.Add(Backoff(j.Attempts+1)), status, now, j.ID)
	return err
}

func (w *Worker) purge(ctx context.Context) error {
	if w.cfg.Retention <= 0 {
		return nil
	}
	_, err := w.db.ExecContext(ctx, w.db.Rebind(purgeDoneSQL), w.now().UTC().Add(-w.cfg.Retention))
	return err
}

// Backoff returns the delay before retry number attempt: 2^attempt seconds, capped at five minutes.
func Backoff(attempt int) time.Duration {
	secs := math.Min(math.Pow(2, float64(attempt)), 300)
	return time.Duration(secs) * time.Second
}
