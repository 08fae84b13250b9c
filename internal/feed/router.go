package feed

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// HandlerFunc consumes one inbound envelope.
type HandlerFunc func(Envelope)

// RouterStats contains runtime statistics.
type RouterStats struct {
	Received    int64
	Dispatched  int64
	ParseErrors int64
	Unknown     int64
}

// Router dispatches inbound envelopes by type. It is a dispatch table,
// not an event bus: at most one handler per type, and re-registering a
// type replaces the previous handler.
//
// Dispatch runs the handler on the calling goroutine; the connection
// controller invokes it from its single run loop, so handlers execute
// to completion before the next envelope is processed.
type Router struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	stats    RouterStats
}

// NewRouter creates an empty dispatch table.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// OnMessage registers the handler for an envelope type. Last
// registration wins. A nil handler removes the registration.
func (r *Router) OnMessage(msgType string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.handlers, msgType)
		return
	}
	r.handlers[msgType] = fn
}

// DispatchRaw parses raw bytes and dispatches the envelope. Malformed
// input is logged and dropped; it never affects connection state.
func (r *Router) DispatchRaw(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("dropping malformed envelope", "error", err)
		r.mu.Lock()
		r.stats.Received++
		r.stats.ParseErrors++
		r.mu.Unlock()
		return
	}
	r.Dispatch(env)
}

// Dispatch routes one envelope to its registered handler. Unknown
// types are logged and discarded, keeping the protocol forward
// compatible.
func (r *Router) Dispatch(env Envelope) {
	r.mu.RLock()
	fn, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	r.mu.Lock()
	r.stats.Received++
	if ok {
		r.stats.Dispatched++
	} else {
		r.stats.Unknown++
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("dropping unrecognized envelope type", "type", env.Type)
		return
	}

	fn(env)
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}
