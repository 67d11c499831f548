// Package ws serves the subscription protocol over WebSocket. One connection
// carries any number of topic subscriptions, each identified by a client id.
package ws

import "encoding/json"

// Frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeNext        = "next"
	TypeError       = "error"
	TypeComplete    = "complete"
)

// ClientFrame is sent by the client.
type ClientFrame struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Topic string `json:"topic,omitempty"`
}

// ServerFrame is sent by the server. An error frame ends its subscription.
type ServerFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}
