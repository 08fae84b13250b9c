package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrNotOpen         = errors.New("channel not open")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrStaleConnection = errors.New("connection stale (no pong)")
)

// State is the connection lifecycle state. Exactly one state exists per
// controller and transitions are applied only on the controller's run
// goroutine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateExhausted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw message data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures the WebSocket transport client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://dashboard:8000/ws/metrics)
	HandshakeTimeout time.Duration // Dial handshake timeout
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// Config configures the connection controller.
type Config struct {
	URL               string        // WebSocket URL
	Backoff           Backoff       // Reconnect delay policy
	HeartbeatInterval time.Duration // Liveness probe period (0 disables local probing)
	CloseOnStale      bool          // Force a reconnect after two missed probe periods
	HandshakeTimeout  time.Duration // Dial handshake timeout
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Transport message buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backoff:           DefaultBackoff(),
		HeartbeatInterval: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        1000,
	}
}

// Stats is a point-in-time snapshot of controller state.
type Stats struct {
	State     State
	Connected bool
	Attempts  int   // Reconnect attempts in the current failure streak
	LastError error // Most recent transport error, nil after a clean open
}

// Events are lifecycle callbacks injected by the owner. All callbacks
// are invoked from the controller's run goroutine, one at a time, and
// must not block.
type Events struct {
	OnStateChange func(State)
	OnOpen        func()
	OnClose       func(err error, manual bool)
	OnFailed      func(err error)
	OnExhausted   func()
	OnEnvelope    func(data []byte, receivedAt time.Time)
}
