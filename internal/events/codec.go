package events

import (
	"encoding/json"
	"fmt"
)

// Envelope is the serialized form used by the outbox table, the cross-node relay
// and the WebSocket transport.
type Envelope struct {
	Topic   Topic           `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	// Origin names the node that first published the event. Empty for outbox rows.
	Origin string `json:"origin,omitempty"`
}

// Encode marshals p into an envelope.
func Encode(p Payload, origin string) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Topic(), err)
	}
	return json.Marshal(Envelope{Topic: p.Topic(), Payload: raw, Origin: origin})
}

// Decode parses an envelope and its payload.
func Decode(b []byte) (Payload, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, env, fmt.Errorf("decode envelope: %w", err)
	}
	p, err := DecodePayload(env.Topic, env.Payload)
	return p, env, err
}

// DecodePayload unmarshals raw into the payload type registered for topic.
func DecodePayload(topic Topic, raw []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch topic {
	case TopicConversationCreated:
		var v ConversationCreated
		err = json.Unmarshal(raw, &v)
		p = v
	case TopicConversationUpdated:
		var v ConversationUpdated
		err = json.Unmarshal(raw, &v)
		p = v
	case TopicConversationDeleted:
		var v ConversationDeleted
		err = json.Unmarshal(raw, &v)
		p = v
	case TopicMessageSent:
		var v MessageSent
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown topic %d", int(topic))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", topic, err)
	}
	return p, nil
}
