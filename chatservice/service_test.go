package chatservice

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itscraftings/converse/internal/config"
	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/health"
	"github.com/itscraftings/converse/internal/model"
)

func newTestService(t *testing.T, mutate func(*config.Config)) (*Service, *httptest.Server) {
	t.Helper()
	cfg := config.NewForTesting()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "chat.db")
	if mutate != nil {
		mutate(cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	svc.Start(ctx)
	require.Eventually(t, svc.Healthy, 5*time.Second, 20*time.Millisecond)

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return svc, srv
}

func seedUser(t *testing.T, svc *Service, id, username string) string {
	t.Helper()
	_, err := svc.Store().Users().Ensure(context.Background(), &model.User{ID: id, Username: &username})
	require.NoError(t, err)
	tok, _, err := svc.Issuer().Issue(model.SessionUser{ID: id, Username: username})
	require.NoError(t, err)
	return tok
}

func createConversation(t *testing.T, srv *httptest.Server, token string, participants ...string) string {
	t.Helper()
	b, err := json.Marshal(map[string][]string{"participantIds": participants})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/conversations", bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		ConversationID string `json:"conversationId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.ConversationID
}

func expectCreated(t *testing.T, sub *events.Subscription, conversationID string) {
	t.Helper()
	select {
	case p := <-sub.C():
		assert.Equal(t, conversationID, p.ConversationID())
	case <-time.After(5 * time.Second):
		t.Fatalf("no %s event for %s", events.TopicConversationCreated, conversationID)
	}
}

func TestService_DirectModePublishesAfterCommit(t *testing.T) {
	svc, srv := newTestService(t, nil)
	tok := seedUser(t, svc, "alice", "alice")
	seedUser(t, svc, "bob", "bob")

	sub, err := svc.bus.Subscribe(events.TopicConversationCreated)
	require.NoError(t, err)
	defer sub.Close()

	id := createConversation(t, srv, tok, "bob")
	expectCreated(t, sub, id)
	assert.Nil(t, svc.worker)
}

func TestService_OutboxModeDispatchesFromTable(t *testing.T) {
	svc, srv := newTestService(t, func(c *config.Config) { c.NotifyMode = config.NotifyOutbox })
	require.NotNil(t, svc.worker)
	tok := seedUser(t, svc, "alice", "alice")
	seedUser(t, svc, "bob", "bob")

	sub, err := svc.bus.Subscribe(events.TopicConversationCreated)
	require.NoError(t, err)
	defer sub.Close()

	id := createConversation(t, srv, tok, "bob")
	expectCreated(t, sub, id)
}

func TestService_HealthAndMetricsRoutes(t *testing.T) {
	_, srv := newTestService(t, nil)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, "healthy", body["status"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.DBDriver = "mysql"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestStartupWindow(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.HealthIntervalSeconds = 1
	assert.Equal(t, time.Minute, startupWindow(cfg))
	cfg.HealthIntervalSeconds = 45
	assert.Equal(t, 90*time.Second, startupWindow(cfg))
}

func TestWaitHealthy(t *testing.T) {
	svc, _ := newTestService(t, nil)
	require.NoError(t, svc.WaitHealthy(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.health = health.NewServiceHealthChecker(zerolog.Nop())
	assert.ErrorIs(t, svc.WaitHealthy(ctx), context.Canceled)
}

func TestListenAndServe_StopsWithContext(t *testing.T) {
	svc, _ := newTestService(t, func(c *config.Config) { c.HTTPPort = 0 })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
