package connection

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rmqwatch/dashfeed/internal/feed"
)

func testControllerConfig(url string) Config {
	return Config{
		URL: url,
		Backoff: Backoff{
			Base:        10 * time.Millisecond,
			Cap:         50 * time.Millisecond,
			MaxAttempts: 3,
		},
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     2 * time.Second,
		BufferSize:       100,
	}
}

func TestController_ConnectOpen(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	opened := make(chan struct{}, 1)
	ctrl := NewController(testControllerConfig(wsURL(server)), Events{
		OnOpen: func() { opened <- struct{}{} },
	}, nil)

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopController(t, ctrl)

	ctrl.Connect()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}

	if got := ctrl.State(); got != StateOpen {
		t.Errorf("State = %v, want %v", got, StateOpen)
	}

	stats := ctrl.Stats()
	if !stats.Connected {
		t.Error("Stats.Connected = false, want true")
	}
	if stats.Attempts != 0 {
		t.Errorf("Stats.Attempts = %d, want 0", stats.Attempts)
	}
	if stats.LastError != nil {
		t.Errorf("Stats.LastError = %v, want nil", stats.LastError)
	}
}

func TestController_SendNotOpen(t *testing.T) {
	ctrl := NewController(testControllerConfig("ws://localhost:12345"), Events{}, nil)

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopController(t, ctrl)

	err := ctrl.Send(feed.NewRequestUpdate())
	if err != ErrNotOpen {
		t.Errorf("Send = %v, want ErrNotOpen", err)
	}
}

func TestController_EnvelopeDelivery(t *testing.T) {
	payload := `{"type":"system_heartbeat"}`
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	envelopes := make(chan []byte, 1)
	ctrl := NewController(testControllerConfig(wsURL(server)), Events{
		OnEnvelope: func(data []byte, receivedAt time.Time) {
			if receivedAt.IsZero() {
				t.Error("receivedAt should not be zero")
			}
			envelopes <- data
		},
	}, nil)

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopController(t, ctrl)

	ctrl.Connect()

	select {
	case data := <-envelopes:
		if string(data) != payload {
			t.Errorf("envelope = %q, want %q", data, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for envelope")
	}
}

func TestController_ReconnectAfterDrop(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		if n == 1 {
			// Drop the first connection immediately.
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	opened := make(chan struct{}, 4)
	closed := make(chan struct{}, 4)
	ctrl := NewController(testControllerConfig(wsURL(server)), Events{
		OnOpen: func() { opened <- struct{}{} },
		OnClose: func(err error, manual bool) {
			if manual {
				t.Error("drop reported as manual close")
			}
			closed <- struct{}{}
		},
	}, nil)

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopController(t, ctrl)

	ctrl.Connect()

	// First open, then drop, then reconnect.
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first open")
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
	}
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reconnect")
	}

	if got := conns.Load(); got < 2 {
		t.Errorf("connections = %d, want >= 2", got)
	}
	if got := ctrl.State(); got != StateOpen {
		t.Errorf("State = %v, want %v", got, StateOpen)
	}
}

func TestController_Exhaustion(t *testing.T) {
	// Nothing listens here; every dial fails.
	cfg := testControllerConfig("ws://127.0.0.1:1")

	exhausted := make(chan struct{}, 2)
	var failures atomic.Int32
	ctrl := NewController(cfg, Events{
		OnFailed:    func(err error) { failures.Add(1) },
		OnExhausted: func() { exhausted <- struct{}{} },
	}, nil)

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopController(t, ctrl)

	ctrl.Connect()

	select {
	case <-exhausted:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for exhaustion")
	}

	if got := ctrl.State(); got != StateExhausted {
		t.Errorf("State = %v, want %v", got, StateExhausted)
	}
	// Initial dial plus MaxAttempts retries.
	if got := failures.Load(); got != int32(cfg.Backoff.MaxAttempts+1) {
		t.Errorf("failures = %d, want %d", got, cfg.Backoff.MaxAttempts+1)
	}

	// Exhaustion fires once per streak; no further attempts are
	// scheduled.
	select {
	case <-exhausted:
		t.Error("exhaustion reported more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestController_ManualDisconnect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	opened := make(chan struct{}, 1)
	closed := make(chan bool, 2)
	ctrl := NewController(testControllerConfig(wsURL(server)), Events{
		OnOpen:  func() { opened <- struct{}{} },
		OnClose: func(err error, manual bool) { closed <- manual },
	}, nil)

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopController(t, ctrl)

	ctrl.Connect()
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}

	ctrl.Disconnect()

	select {
	case manual := <-closed:
		if !manual {
			t.Error("OnClose manual = false, want true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
	}

	if got := ctrl.State(); got != StateClosed {
		t.Errorf("State = %v, want %v", got, StateClosed)
	}

	// Manual close is terminal: no reconnect is scheduled.
	select {
	case <-opened:
		t.Error("controller reconnected after manual disconnect")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestController_HeartbeatPing(t *testing.T) {
	pings := make(chan feed.Envelope, 4)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env feed.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			if env.Type == feed.TypePing {
				pings <- env
			}
		}
	})
	defer server.Close()

	cfg := testControllerConfig(wsURL(server))
	cfg.HeartbeatInterval = 50 * time.Millisecond

	ctrl := NewController(cfg, Events{}, nil)

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopController(t, ctrl)

	ctrl.Connect()

	select {
	case env := <-pings:
		if env.Timestamp == "" {
			t.Error("ping envelope missing timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for heartbeat ping")
	}
}

func TestController_CloseOnStale(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Read pings but never answer them.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testControllerConfig(wsURL(server))
	cfg.HeartbeatInterval = 30 * time.Millisecond
	cfg.CloseOnStale = true

	failed := make(chan error, 4)
	ctrl := NewController(cfg, Events{
		OnFailed: func(err error) { failed <- err },
	}, nil)

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopController(t, ctrl)

	ctrl.Connect()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-failed:
			if err == ErrStaleConnection {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for stale close")
		}
	}
}

func TestController_NotePong(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	opened := make(chan struct{}, 1)
	ctrl := NewController(testControllerConfig(wsURL(server)), Events{
		OnOpen: func() { opened <- struct{}{} },
	}, nil)

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopController(t, ctrl)

	ctrl.Connect()
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}

	if _, ok := ctrl.TimeSinceLastPong(); ok {
		t.Error("expected no pong recorded before NotePong")
	}

	ctrl.NotePong()

	// The pong is absorbed by the run goroutine.
	deadline := time.After(time.Second)
	for {
		if _, ok := ctrl.TimeSinceLastPong(); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("pong was never recorded")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func stopController(t *testing.T, ctrl *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctrl.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
