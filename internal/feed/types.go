package feed

import (
	"encoding/json"
	"time"
)

// Envelope is the tagged message unit exchanged with the monitoring backend.
// Type selects a handler; Payload is opaque until a handler parses it.
// Envelopes are immutable once received.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Inbound envelope types.
const (
	TypeMetricsUpdate   = "metrics_update"
	TypeQueueDiscovered = "queue_discovered"
	TypeSystemAlert     = "system_alert"
	TypeSystemHeartbeat = "system_heartbeat"
	TypePing            = "ping"
	TypePong            = "pong"
)

// Outbound control envelope types.
const (
	TypeSubscribe     = "subscribe"
	TypeUnsubscribe   = "unsubscribe"
	TypeRequestUpdate = "request_update"
)

// NewPing builds a liveness probe envelope.
func NewPing(now time.Time) Envelope {
	return Envelope{
		Type:      TypePing,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// NewPong builds a liveness acknowledgement envelope.
func NewPong() Envelope {
	return Envelope{Type: TypePong}
}

// NewSubscribe builds a topic subscription envelope.
func NewSubscribe(topic string) Envelope {
	return Envelope{Type: TypeSubscribe, Topic: topic}
}

// NewUnsubscribe builds a topic unsubscription envelope.
func NewUnsubscribe(topic string) Envelope {
	return Envelope{Type: TypeUnsubscribe, Topic: topic}
}

// NewRequestUpdate builds an on-demand refresh request envelope.
func NewRequestUpdate() Envelope {
	return Envelope{Type: TypeRequestUpdate}
}
