// Package relay forwards bus events between service nodes over valkey pub/sub.
package relay

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valkey-io/valkey-go"

	"github.com/itscraftings/converse/internal/events"
)

// DefaultChannel is the valkey channel used when none is configured.
const DefaultChannel = "chat:events"

// Metrics receives relay failure counts.
type Metrics interface {
	RelayError(op string)
}

type nopMetrics struct{}

func (nopMetrics) RelayError(string) {}

// Relay is an events.Publisher that delivers locally first and then forwards the
// event to every other node. Remote failures are logged, never returned.
type Relay struct {
	client  valkey.Client
	channel string
	node    string
	local   events.Publisher
	log     zerolog.Logger
	metrics Metrics
}

// Dial connects to valkey at addr.
func Dial(addr string) (valkey.Client, error) {
	return valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
}

// New wraps local. An empty channel selects DefaultChannel.
func New(client valkey.Client, channel string, local events.Publisher, log zerolog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	node := uuid.NewString()
	return &Relay{
		client:  client,
		channel: channel,
		node:    node,
		local:   local,
		log:     log.With().Str("component", "relay").Str("node", node).Logger(),
		metrics: nopMetrics{},
	}
}

// WithMetrics attaches a metrics sink and returns r.
func (r *Relay) WithMetrics(m Metrics) *Relay {
	if m != nil {
		r.metrics = m
	}
	return r
}

// Node returns this relay's origin id.
func (r *Relay) Node() string { return r.node }

// Publish delivers p on the local bus and forwards it to the other nodes.
func (r *Relay) Publish(ctx context.Context, p events.Payload) {
	r.local.Publish(ctx, p)

	b, err := events.Encode(p, r.node)
	if err != nil {
		r.metrics.RelayError("encode")
		r.log.Error().Err(err).Str("topic", p.Topic().String()).Msg("relay encode failed")
		return
	}
	cmd := r.client.B().Publish().Channel(r.channel).Message(valkey.BinaryString(b)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		r.metrics.RelayError("publish")
		r.log.Error().Err(err).
			Str("topic", p.Topic().String()).
			Str("conversation_id", p.ConversationID()).
			Msg("relay publish failed")
	}
}

// Run receives events published by other nodes and republishes them locally.
// It returns when ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info().Str("channel", r.channel).Msg("relay subscribing")
	cmd := r.client.B().Subscribe().Channel(r.channel).Build()
	err := r.client.Receive(ctx, cmd, func(msg valkey.PubSubMessage) {
		r.handle(ctx, msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		r.metrics.RelayError("receive")
		return err
	}
	return nil
}

func (r *Relay) handle(ctx context.Context, msg valkey.PubSubMessage) {
	p, env, err := events.Decode([]byte(msg.Message))
	if err != nil {
		r.metrics.RelayError("decode")
		r.log.Error().Err(err).Msg("relay dropped undecodable message")
		return
	}
	if env.Origin == r.node {
		return
	}
	r.local.Publish(ctx, p)
}

// HealthPing implements health.HealthPinger.
func (r *Relay) HealthPing(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

// Close releases the valkey client.
func (r *Relay) Close() { r.client.Close() }
