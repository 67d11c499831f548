// Package chatclient talks to the chat service over HTTP and WebSocket and keeps
// a reconcile.Cache current with the results.
package chatclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/api/respond"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/reconcile"
)

// Client is safe for concurrent use once Init has returned.
type Client struct {
	baseURL string
	token   string
	http    *resty.Client
	log     zerolog.Logger

	mu    sync.Mutex
	cache *reconcile.Cache
}

// New returns a client for the service at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetAuthToken(token).
			SetError(&respond.ErrorResponse{}),
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Init loads the session user and their conversations into a fresh cache.
func (c *Client) Init(ctx context.Context) (*model.User, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}
	su := model.SessionUser{ID: me.ID}
	if me.Username != nil {
		su.Username = *me.Username
	}
	c.mu.Lock()
	c.cache = reconcile.New(su)
	c.mu.Unlock()

	if _, err := c.Conversations(ctx); err != nil {
		return nil, err
	}
	return me, nil
}

// Cache returns the cache built by Init, or nil.
func (c *Client) Cache() *reconcile.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache
}

func (c *Client) requireCache() (*reconcile.Cache, error) {
	if cache := c.Cache(); cache != nil {
		return cache, nil
	}
	return nil, fmt.Errorf("chatclient: Init has not been called")
}

func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var out model.User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversations fetches the session user's conversations and refreshes the cache.
func (c *Client) Conversations(ctx context.Context) ([]model.ConversationPopulated, error) {
	var out []model.ConversationPopulated
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	if cache := c.Cache(); cache != nil {
		cache.ReplaceConversations(out)
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, participantIDs []string) (string, error) {
	var out struct {
		ConversationID string `json:"conversationId"`
	}
	in := map[string][]string{"participantIds": participantIDs}
	if err := c.do(ctx, http.MethodPost, "/api/conversations", in, &out); err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(conversationID), nil, nil)
}

// MarkConversationAsRead flips the cached flag first and reverts it when the
// server rejects the call.
func (c *Client) MarkConversationAsRead(ctx context.Context, conversationID string) error {
	cache := c.Cache()
	changed := cache != nil && cache.MarkRead(conversationID)
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
	if err != nil && changed {
		cache.MarkUnread(conversationID)
	}
	return err
}

// OpenConversation puts the conversation on screen, loads its messages and marks
// it read when needed.
func (c *Client) OpenConversation(ctx context.Context, conversationID string) ([]model.MessagePopulated, error) {
	cache, err := c.requireCache()
	if err != nil {
		return nil, err
	}
	unseen := cache.Open(conversationID)
	msgs, err := c.Messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if unseen {
		if err := c.MarkConversationAsRead(ctx, conversationID); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// Messages fetches a conversation's messages, newest first, and refreshes the cache.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.MessagePopulated, error) {
	var out []model.MessagePopulated
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	if cache := c.Cache(); cache != nil {
		cache.ReplaceMessages(conversationID, out)
	}
	return out, nil
}

// SendMessage shows the message in the cache right away under a client-generated
// id, then sends it. A failed send removes it again.
func (c *Client) SendMessage(ctx context.Context, conversationID, body string) (model.MessagePopulated, error) {
	cache, err := c.requireCache()
	if err != nil {
		return model.MessagePopulated{}, err
	}
	req := model.SendMessageRequest{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       cache.UserID(),
		Body:           body,
	}
	m := cache.AddOptimisticMessage(req)

	in := map[string]string{"id": req.ID, "senderId": req.SenderID, "body": req.Body}
	if err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", in, nil); err != nil {
		cache.RollbackMessage(conversationID, req.ID)
		return model.MessagePopulated{}, err
	}
	cache.ConfirmMessage(req.ID)
	return m, nil
}

func (c *Client) SearchUsers(ctx context.Context, username string) ([]model.SearchedUser, error) {
	var out []model.SearchedUser
	err := c.doRequest(ctx, c.http.R().SetQueryParam("username", username).SetResult(&out), http.MethodGet, "/api/users/search")
	return out, err
}

// CreateUsername claims a username. A taken name comes back in the response's
// Error field with a nil error.
func (c *Client) CreateUsername(ctx context.Context, username string) (model.CreateUsernameResponse, error) {
	var out model.CreateUsernameResponse
	err := c.do(ctx, http.MethodPost, "/api/users/username", map[string]string{"username": username}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	req := c.http.R()
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	return c.doRequest(ctx, req, method, path)
}

func (c *Client) doRequest(ctx context.Context, req *resty.Request, method, path string) error {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode(), Message: resp.String()}
		if e, ok := resp.Error().(*respond.ErrorResponse); ok && e.Code != 0 {
			apiErr.Message = e.Message
			apiErr.Field = e.Field
		}
		c.log.Debug().Str("method", method).Str("path", path).Int("status", apiErr.Status).Msg("request failed")
		return apiErr
	}
	return nil
}
