package feed

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseMetricsUpdate(t *testing.T) {
	payload := json.RawMessage(`[
		{"queue_name":"orders","category":"work","timestamp":"2026-08-23T10:00:00Z","messages_ready":42,"consumer_count":3,"incoming_rate":12.5,"consume_rate":11.0}
	]`)

	samples, err := ParseMetricsUpdate(payload)
	if err != nil {
		t.Fatalf("ParseMetricsUpdate failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("len(samples) = %d, want 1", len(samples))
	}

	s := samples[0]
	if s.QueueName != "orders" {
		t.Errorf("QueueName = %q, want orders", s.QueueName)
	}
	if s.MessagesReady != 42 {
		t.Errorf("MessagesReady = %d, want 42", s.MessagesReady)
	}
	if s.IncomingRate != 12.5 {
		t.Errorf("IncomingRate = %v, want 12.5", s.IncomingRate)
	}
}

func TestQueueSample_ToMetrics(t *testing.T) {
	s := QueueSample{
		QueueName:     "orders",
		Category:      "work",
		Timestamp:     "2026-08-23T10:00:00Z",
		MessagesReady: 42,
		ConsumerCount: 3,
		IncomingRate:  12.5,
		ConsumeRate:   11.0,
	}

	receivedAt := time.Now()
	m := s.ToMetrics(receivedAt)

	wantTs, _ := time.Parse(time.RFC3339, s.Timestamp)
	if m.Timestamp != wantTs.UnixMicro() {
		t.Errorf("Timestamp = %d, want %d", m.Timestamp, wantTs.UnixMicro())
	}
	if m.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", m.ReceivedAt, receivedAt.UnixMicro())
	}
	// Live samples default to the ws source.
	if m.Source != "ws" {
		t.Errorf("Source = %q, want ws", m.Source)
	}
}

func TestQueueSample_ToMetricsBadTimestamp(t *testing.T) {
	s := QueueSample{QueueName: "orders", Timestamp: "not-a-time"}

	m := s.ToMetrics(time.Now())
	if m.Timestamp != 0 {
		t.Errorf("Timestamp = %d, want 0 for unparseable input", m.Timestamp)
	}
}

func TestNewMetricsUpdate_RoundTrip(t *testing.T) {
	in := []QueueSample{
		{QueueName: "orders", Category: "work", Timestamp: "2026-08-23T10:00:00Z", MessagesReady: 7, Source: "rest"},
	}

	env, err := NewMetricsUpdate(in)
	if err != nil {
		t.Fatalf("NewMetricsUpdate failed: %v", err)
	}
	if env.Type != TypeMetricsUpdate {
		t.Errorf("Type = %q, want %q", env.Type, TypeMetricsUpdate)
	}

	out, err := ParseMetricsUpdate(env.Payload)
	if err != nil {
		t.Fatalf("ParseMetricsUpdate failed: %v", err)
	}
	if len(out) != 1 || out[0].QueueName != "orders" || out[0].Source != "rest" {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestEnvelopeBuilders(t *testing.T) {
	now := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	ping := NewPing(now)
	if ping.Type != TypePing {
		t.Errorf("ping Type = %q, want %q", ping.Type, TypePing)
	}
	if ping.Timestamp != "2026-08-23T10:00:00Z" {
		t.Errorf("ping Timestamp = %q, want 2026-08-23T10:00:00Z", ping.Timestamp)
	}

	if got := NewPong().Type; got != TypePong {
		t.Errorf("pong Type = %q, want %q", got, TypePong)
	}

	sub := NewSubscribe("queue:orders")
	if sub.Type != TypeSubscribe || sub.Topic != "queue:orders" {
		t.Errorf("subscribe = %+v", sub)
	}

	unsub := NewUnsubscribe("queue:orders")
	if unsub.Type != TypeUnsubscribe || unsub.Topic != "queue:orders" {
		t.Errorf("unsubscribe = %+v", unsub)
	}

	if got := NewRequestUpdate().Type; got != TypeRequestUpdate {
		t.Errorf("request_update Type = %q, want %q", got, TypeRequestUpdate)
	}
}
