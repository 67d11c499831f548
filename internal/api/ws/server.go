package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/auth"
	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/subscription"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 4096
	sendBuffer   = 256
)

// Metrics tracks open connections.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened() {}
func (nopMetrics) ConnectionClosed() {}

// Server upgrades requests on the subscriptions route. The session is taken
// from the request context; a connection without one may subscribe, but its
// streams end with an error frame on the first event.
type Server struct {
	bus      events.Subscriber
	log      zerolog.Logger
	metrics  Metrics
	upgrader websocket.Upgrader
}

// NewServer returns a Server. With no allowed origins every origin is accepted.
func NewServer(bus events.Subscriber, allowedOrigins []string, log zerolog.Logger) *Server {
	s := &Server{
		bus:     bus,
		log:     log.With().Str("component", "ws").Logger(),
		metrics: nopMetrics{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.upgrader.CheckOrigin = originChecker(allowedOrigins)
	return s
}

// WithMetrics attaches connection metrics and returns s.
func (s *Server) WithMetrics(m Metrics) *Server {
	if m != nil {
		s.metrics = m
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		if set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	sess := auth.SessionFrom(r.Context())

	// The request context ends with the handler; the connection outlives it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{
		id:     uuid.NewString(),
		ws:     wsConn,
		bus:    s.bus,
		sess:   sess,
		send:   make(chan ServerFrame, sendBuffer),
		subs:   make(map[string]*subscription.Stream),
		ctx:    ctx,
		cancel: cancel,
	}
	c.log = s.log.With().Str("conn_id", c.id).Str("user_id", sess.UserID()).Logger()

	s.metrics.ConnectionOpened()
	c.log.Debug().Msg("connection opened")
	go func() {
		c.serve()
		s.metrics.ConnectionClosed()
		c.log.Debug().Msg("connection closed")
	}()
}

type conn struct {
	id   string
	ws   *websocket.Conn
	bus  events.Subscriber
	sess *model.Session
	log  zerolog.Logger
	send chan ServerFrame

	mu   sync.Mutex
	subs map[string]*subscription.Stream

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *conn) serve() {
	done := make(chan struct{})
	go func() {
		c.writeLoop()
		close(done)
	}()

	c.readLoop()

	c.cancel()
	c.closeAll()
	c.wg.Wait()
	<-done
	_ = c.ws.Close()
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f ClientFrame
		if err := c.ws.ReadJSON(&f); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.write(ServerFrame{Type: TypeError, Message: "malformed frame"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		c.dispatch(f)
	}
}

func (c *conn) dispatch(f ClientFrame) {
	switch f.Type {
	case TypeSubscribe:
		c.subscribe(f)
	case TypeUnsubscribe:
		c.unsubscribe(f.ID)
	default:
		c.write(ServerFrame{Type: TypeError, ID: f.ID, Message: "unknown frame type"})
	}
}

func (c *conn) subscribe(f ClientFrame) {
	if f.ID == "" {
		c.write(ServerFrame{Type: TypeError, Message: "subscription id is required"})
		return
	}
	topic, err := events.ParseTopic(f.Topic)
	if err != nil {
		c.write(ServerFrame{Type: TypeError, ID: f.ID, Message: err.Error()})
		return
	}

	c.mu.Lock()
	if _, dup := c.subs[f.ID]; dup {
		c.mu.Unlock()
		c.write(ServerFrame{Type: TypeError, ID: f.ID, Message: "subscription id already in use"})
		return
	}
	stream, err := subscription.Subscribe(c.bus, topic, c.sess)
	if err != nil {
		c.mu.Unlock()
		c.write(ServerFrame{Type: TypeError, ID: f.ID, Message: err.Error()})
		return
	}
	c.subs[f.ID] = stream
	c.wg.Add(1)
	c.mu.Unlock()

	go c.pump(f.ID, stream)
}

func (c *conn) unsubscribe(id string) {
	c.mu.Lock()
	stream, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		// pump sees ErrClosed and sends complete.
		stream.Close()
	}
}

func (c *conn) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		s.Close()
	}
}

// pump forwards one stream to the writer until it ends.
func (c *conn) pump(id string, stream *subscription.Stream) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		if c.subs[id] == stream {
			delete(c.subs, id)
		}
		c.mu.Unlock()
		stream.Close()
	}()

	topic := stream.Topic().String()
	for {
		p, err := stream.Next(c.ctx)
		switch {
		case err == nil:
		case errors.Is(err, subscription.ErrClosed):
			c.write(ServerFrame{Type: TypeComplete, ID: id})
			return
		case c.ctx.Err() != nil:
			return
		default:
			c.write(ServerFrame{Type: TypeError, ID: id, Message: err.Error()})
			return
		}

		b, err := json.Marshal(p)
		if err != nil {
			c.log.Error().Err(err).Str("topic", topic).Msg("encode payload")
			continue
		}
		c.write(ServerFrame{Type: TypeNext, ID: id, Topic: topic, Payload: b})
	}
}

// write queues f for the writer. It blocks while the queue is full, which backs
// the bus up into dropping deliveries for this connection only.
func (c *conn) write(f ServerFrame) {
	select {
	case c.send <- f:
	case <-c.ctx.Done():
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// unblock readLoop and any sender parked in write
		c.cancel()
		_ = c.ws.Close()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
