package chatclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itscraftings/converse/internal/api/ws"
	"github.com/itscraftings/converse/internal/events"
)

// Handler sees each event after it has been applied to the cache.
type Handler func(events.Payload)

// Watch subscribes to topics (all topics when none are given), applies every
// event to the cache and marks the open conversation read when an update asks
// for it. It returns nil when ctx ends and a *StreamError when the server ends a
// subscription.
func (c *Client) Watch(ctx context.Context, h Handler, topics ...events.Topic) error {
	cache, err := c.requireCache()
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		topics = events.AllTopics()
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the read loop when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		_ = conn.Close()
	})
	defer stop()

	byID := make(map[string]events.Topic, len(topics))
	for i, t := range topics {
		id := strconv.Itoa(i + 1)
		byID[id] = t
		if err := conn.WriteJSON(ws.ClientFrame{Type: ws.TypeSubscribe, ID: id, Topic: t.String()}); err != nil {
			return err
		}
	}

	for {
		var f ws.ServerFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch f.Type {
		case ws.TypeNext:
			topic, err := events.ParseTopic(f.Topic)
			if err != nil {
				c.log.Warn().Str("topic", f.Topic).Msg("unknown topic in frame")
				continue
			}
			p, err := events.DecodePayload(topic, f.Payload)
			if err != nil {
				c.log.Warn().Err(err).Str("topic", f.Topic).Msg("undecodable payload")
				continue
			}
			if convID := cache.Apply(p); convID != "" {
				if err := c.MarkConversationAsRead(ctx, convID); err != nil {
					c.log.Error().Err(err).Str("conversation_id", convID).Msg("mark as read failed")
				}
			}
			if h != nil {
				h(p)
			}
		case ws.TypeError:
			return &StreamError{ID: f.ID, Topic: byID[f.ID].String(), Message: f.Message}
		case ws.TypeComplete:
			delete(byID, f.ID)
			if len(byID) == 0 {
				return nil
			}
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + "/api/subscriptions")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "websocket upgrade failed"}
		}
		return nil, err
	}
	return conn, nil
}

// closeDeadline bounds the close handshake; ctx has already ended when it is used.
func closeDeadline() time.Time { return time.Now().Add(time.Second) }
