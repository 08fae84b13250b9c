package feed

import (
	"encoding/json"
	"testing"
)

func TestRouter_Dispatch(t *testing.T) {
	r := NewRouter(nil)

	var got Envelope
	r.OnMessage(TypeMetricsUpdate, func(env Envelope) {
		got = env
	})

	r.Dispatch(Envelope{Type: TypeMetricsUpdate, Payload: json.RawMessage(`[]`)})

	if got.Type != TypeMetricsUpdate {
		t.Errorf("handler received type %q, want %q", got.Type, TypeMetricsUpdate)
	}

	stats := r.Stats()
	if stats.Received != 1 {
		t.Errorf("Received = %d, want 1", stats.Received)
	}
	if stats.Dispatched != 1 {
		t.Errorf("Dispatched = %d, want 1", stats.Dispatched)
	}
}

func TestRouter_LastRegistrationWins(t *testing.T) {
	r := NewRouter(nil)

	var first, second int
	r.OnMessage(TypeSystemAlert, func(Envelope) { first++ })
	r.OnMessage(TypeSystemAlert, func(Envelope) { second++ })

	r.Dispatch(Envelope{Type: TypeSystemAlert})

	if first != 0 {
		t.Errorf("replaced handler called %d times, want 0", first)
	}
	if second != 1 {
		t.Errorf("active handler called %d times, want 1", second)
	}
}

func TestRouter_NilHandlerRemoves(t *testing.T) {
	r := NewRouter(nil)

	var calls int
	r.OnMessage(TypePing, func(Envelope) { calls++ })
	r.OnMessage(TypePing, nil)

	r.Dispatch(Envelope{Type: TypePing})

	if calls != 0 {
		t.Errorf("removed handler called %d times, want 0", calls)
	}
	if got := r.Stats().Unknown; got != 1 {
		t.Errorf("Unknown = %d, want 1", got)
	}
}

func TestRouter_UnknownTypeDropped(t *testing.T) {
	r := NewRouter(nil)

	var calls int
	r.OnMessage(TypeMetricsUpdate, func(Envelope) { calls++ })

	r.Dispatch(Envelope{Type: "future_extension"})

	if calls != 0 {
		t.Errorf("handler called %d times for unknown type, want 0", calls)
	}

	stats := r.Stats()
	if stats.Unknown != 1 {
		t.Errorf("Unknown = %d, want 1", stats.Unknown)
	}
	if stats.Dispatched != 0 {
		t.Errorf("Dispatched = %d, want 0", stats.Dispatched)
	}
}

func TestRouter_DispatchRaw(t *testing.T) {
	r := NewRouter(nil)

	var got Envelope
	r.OnMessage(TypeQueueDiscovered, func(env Envelope) { got = env })

	r.DispatchRaw([]byte(`{"type":"queue_discovered","payload":{"queue_name":"orders","category":"work"}}`))

	if got.Type != TypeQueueDiscovered {
		t.Fatalf("handler received type %q, want %q", got.Type, TypeQueueDiscovered)
	}

	var p QueueDiscoveredPayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.QueueName != "orders" {
		t.Errorf("QueueName = %q, want orders", p.QueueName)
	}
}

func TestRouter_MalformedDropped(t *testing.T) {
	r := NewRouter(nil)

	var calls int
	r.OnMessage(TypeMetricsUpdate, func(Envelope) { calls++ })

	r.DispatchRaw([]byte(`{not json`))

	if calls != 0 {
		t.Errorf("handler called %d times for malformed input, want 0", calls)
	}

	stats := r.Stats()
	if stats.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", stats.ParseErrors)
	}
	if stats.Received != 1 {
		t.Errorf("Received = %d, want 1", stats.Received)
	}
}
