package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itscraftings/converse/internal/api/respond"
	"github.com/itscraftings/converse/internal/auth"
	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/metrics"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/services"
	"github.com/itscraftings/converse/internal/store/sqlstore"
)

type testServer struct {
	*httptest.Server
	store  *sqlstore.Store
	bus    *events.Bus
	tokens *auth.Issuer
}

func newTestServer(t *testing.T, origins ...string) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := sqlstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	st := sqlstore.New(db, sqlstore.SQLite)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	bus := events.NewBus(zerolog.Nop())
	t.Cleanup(bus.Close)
	tokens, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	h := NewRouter(Deps{
		Conversations:  services.NewConversationService(st, bus, zerolog.Nop()),
		Messages:       services.NewMessageService(st, bus, zerolog.Nop()),
		Users:          services.NewUserService(st, zerolog.Nop()),
		UserLookup:     st.Users(),
		Tokens:         tokens,
		Metrics:        metrics.New(),
		AllowedOrigins: origins,
		Log:            zerolog.Nop(),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: st, bus: bus, tokens: tokens}
}

// user creates a user and returns its id and a bearer token.
func (s *testServer) user(t *testing.T, username string) (string, string) {
	t.Helper()
	u := &model.User{}
	if username != "" {
		u.Username = &username
	}
	created, err := s.store.Users().Create(context.Background(), u)
	require.NoError(t, err)
	tok, _, err := s.tokens.Issue(model.SessionUser{ID: created.ID, Username: username})
	require.NoError(t, err)
	return created.ID, tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, "GET", "/api/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", decode[map[string]string](t, body)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "GET", "/api/health", "", nil)
	code, body := s.do(t, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `chat_http_requests_total{method="GET",route="/api/health",status="200"} 1`)
}

func TestRequiresSession(t *testing.T) {
	s := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/me"},
		{"GET", "/api/conversations"},
		{"POST", "/api/conversations"},
		{"DELETE", "/api/conversations/c1"},
		{"POST", "/api/conversations/c1/read"},
		{"GET", "/api/conversations/c1/messages"},
		{"GET", "/api/users/search?username=a"},
	} {
		var body interface{}
		if tc.method == "POST" {
			body = map[string]interface{}{}
		}
		code, _ := s.do(t, tc.method, tc.path, "", body)
		assert.Equal(t, http.StatusUnauthorized, code, "%s %s", tc.method, tc.path)

		code, _ = s.do(t, tc.method, tc.path, "garbage", body)
		assert.Equal(t, http.StatusUnauthorized, code, "%s %s with bad token", tc.method, tc.path)
	}
}

func TestTokenForDeletedUserIsRejected(t *testing.T) {
	s := newTestServer(t)
	tok, _, err := s.tokens.Issue(model.SessionUser{ID: "ghost"})
	require.NoError(t, err)
	code, _ := s.do(t, "GET", "/api/me", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user(t, "alice")
	bobID, bob := s.user(t, "bob")
	_, eve := s.user(t, "eve")

	code, body := s.do(t, "POST", "/api/conversations", alice, map[string]interface{}{"participantIds": []string{bobID}})
	require.Equal(t, http.StatusCreated, code, string(body))
	convID := decode[map[string]string](t, body)["conversationId"]
	require.NotEmpty(t, convID)

	code, body = s.do(t, "GET", "/api/conversations", bob, nil)
	require.Equal(t, http.StatusOK, code)
	convs := decode[[]model.ConversationPopulated](t, body)
	require.Len(t, convs, 1)
	assert.Len(t, convs[0].Participants, 2)

	code, body = s.do(t, "GET", "/api/conversations", eve, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]model.ConversationPopulated](t, body))

	msgPath := "/api/conversations/" + convID + "/messages"
	code, body = s.do(t, "POST", msgPath, alice, map[string]string{"id": "m1", "senderId": aliceID, "body": "hi"})
	require.Equal(t, http.StatusCreated, code, string(body))

	code, _ = s.do(t, "POST", msgPath, alice, map[string]string{"id": "m1", "senderId": aliceID, "body": "again"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, "POST", msgPath, eve, map[string]string{"id": "m2", "senderId": aliceID, "body": "spoof"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, "POST", msgPath, alice, map[string]string{"id": "m3", "senderId": aliceID, "body": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, "GET", msgPath, bob, nil)
	require.Equal(t, http.StatusOK, code)
	msgs := decode[[]model.MessagePopulated](t, body)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Sender.Username)

	code, _ = s.do(t, "GET", msgPath, eve, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.do(t, "POST", "/api/conversations/"+convID+"/read", bob, nil)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.True(t, decode[successResponse](t, body).Success)

	code, _ = s.do(t, "POST", "/api/conversations/"+convID+"/read", bob, map[string]string{"userId": aliceID})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, "POST", "/api/conversations/nope/read", bob, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, "DELETE", "/api/conversations/"+convID, eve, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.do(t, "DELETE", "/api/conversations/"+convID, bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[successResponse](t, body).Success)

	code, _ = s.do(t, "DELETE", "/api/conversations/"+convID, bob, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateConversationUnknownParticipant(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user(t, "alice")
	code, body := s.do(t, "POST", "/api/conversations", alice, map[string]interface{}{"participantIds": []string{"missing"}})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "participantIds", decode[respond.ErrorResponse](t, body).Field)
}

func TestInvalidJSON(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user(t, "alice")
	req, _ := http.NewRequest("POST", s.URL+"/api/conversations", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUsernameAndSearch(t *testing.T) {
	s := newTestServer(t)
	_, anon := s.user(t, "")
	_, alice := s.user(t, "alice")
	s.user(t, "alicia")

	code, body := s.do(t, "POST", "/api/users/username", anon, map[string]string{"username": "alicia"})
	require.Equal(t, http.StatusOK, code)
	res := decode[model.CreateUsernameResponse](t, body)
	assert.False(t, res.Success)
	assert.Equal(t, services.ErrUsernameTaken, res.Error)

	code, body = s.do(t, "POST", "/api/users/username", anon, map[string]string{"username": "carol"})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[model.CreateUsernameResponse](t, body).Success)

	code, _ = s.do(t, "POST", "/api/users/username", anon, map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, "GET", "/api/me", anon, nil)
	require.Equal(t, http.StatusOK, code)
	me := decode[model.User](t, body)
	require.NotNil(t, me.Username)
	assert.Equal(t, "carol", *me.Username)

	code, body = s.do(t, "GET", "/api/users/search?username=ALI", alice, nil)
	require.Equal(t, http.StatusOK, code)
	found := decode[[]model.SearchedUser](t, body)
	require.Len(t, found, 1)
	assert.Equal(t, "alicia", found[0].Username)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, "https://chat.example.com")
	req, _ := http.NewRequest("OPTIONS", s.URL+"/api/conversations", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://chat.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
