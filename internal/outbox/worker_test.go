package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/store/sqlstore"
)

func newOutboxStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	db, err := sqlstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	s := sqlstore.New(db, sqlstore.SQLite, sqlstore.WithOutbox(true))
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func statuses(t *testing.T, s *sqlstore.Store) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.DB().Select(&out, `SELECT status FROM event_outbox ORDER BY id`))
	return out
}

func TestWorker_PublishesCommittedEventsInOrder(t *testing.T) {
	ctx := context.Background()
	s := newOutboxStore(t)
	name := "ann"
	u, err := s.Users().Create(ctx, &model.User{Username: &name})
	require.NoError(t, err)
	conv, err := s.Conversations().Create(ctx, []string{u.ID}, u.ID)
	require.NoError(t, err)
	_, err = s.Messages().Send(ctx, model.SendMessageRequest{ID: "m1", ConversationID: conv.ID, SenderID: u.ID, Body: "hi"})
	require.NoError(t, err)

	bus := events.NewBus(zerolog.Nop())
	created, err := bus.Subscribe(events.TopicConversationCreated)
	require.NoError(t, err)
	sent, err := bus.Subscribe(events.TopicMessageSent)
	require.NoError(t, err)

	m := &recordingMetrics{}
	w := NewWorker(s.DB(), bus, Config{BatchSize: 10}, zerolog.Nop()).WithMetrics(m)
	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"done", "done", "done"}, statuses(t, s))
	assert.Equal(t, 3, m.counts[StatusDone])

	assert.Equal(t, conv.ID, (<-created.C()).ConversationID())
	msg := (<-sent.C()).(events.MessageSent)
	assert.Equal(t, "m1", msg.Message.ID)

	n, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "done rows are not republished")
}

func TestWorker_BatchSizeLimitsLease(t *testing.T) {
	ctx := context.Background()
	s := newOutboxStore(t)
	name := "ann"
	u, err := s.Users().Create(ctx, &model.User{Username: &name})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Conversations().Create(ctx, []string{u.ID}, u.ID)
		require.NoError(t, err)
	}

	w := NewWorker(s.DB(), events.Discard, Config{BatchSize: 2}, zerolog.Nop())
	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWorker_PoisonRowBacksOffThenDies(t *testing.T) {
	ctx := context.Background()
	s := newOutboxStore(t)
	now := time.Now().UTC()
	_, err := s.DB().Exec(s.DB().Rebind(`
        INSERT INTO event_outbox (topic, aggregate_id, payload, status, attempt_count, next_attempt_at, created_at, updated_at)
        VALUES ('MESSAGE_SENT', 'c1', 'not json', 'pending', 0, ?, ?, ?)`), now, now, now)
	require.NoError(t, err)

	w := NewWorker(s.DB(), events.Discard, Config{MaxAttempts: 2}, zerolog.Nop())
	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"pending"}, statuses(t, s))

	n, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "row is backing off")

	w.now = func() time.Time { return now.Add(time.Hour) }
	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dead"}, statuses(t, s))
}

func TestWorker_PurgesOldDoneRows(t *testing.T) {
	ctx := context.Background()
	s := newOutboxStore(t)
	name := "ann"
	u, err := s.Users().Create(ctx, &model.User{Username: &name})
	require.NoError(t, err)
	_, err = s.Conversations().Create(ctx, []string{u.ID}, u.ID)
	require.NoError(t, err)

	w := NewWorker(s.DB(), events.Discard, Config{Retention: time.Minute}, zerolog.Nop())
	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, w.purge(ctx))
	assert.Len(t, statuses(t, s), 1, "fresh rows are kept")

	w.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, w.purge(ctx))
	assert.Empty(t, statuses(t, s))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 16*time.Second, Backoff(4))
	assert.Equal(t, 300*time.Second, Backoff(20))
}

type recordingMetrics struct {
	counts map[string]int
}

func (r *recordingMetrics) OutboxProcessed(status string) {
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[status]++
}
