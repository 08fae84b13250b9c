package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rmqwatch/dashfeed/internal/api"
	"github.com/rmqwatch/dashfeed/internal/connection"
	"github.com/rmqwatch/dashfeed/internal/feed"
	"github.com/rmqwatch/dashfeed/internal/model"
	"github.com/rmqwatch/dashfeed/internal/poller"
)

// liveChannel is the Connection Controller surface the coordinator
// drives.
type liveChannel interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Connect()
	Disconnect()
	Send(env feed.Envelope) error
	SendPong() error
	NotePong()
	Stats() connection.Stats
	TimeSinceLastPong() (time.Duration, bool)
}

// fallback is the Fallback Poller surface.
type fallback interface {
	Start(ctx context.Context)
	Stop()
	IsActive() bool
}

// Config holds coordinator configuration.
type Config struct {
	// GraceWindow is how long a non-manual close may go unrecovered
	// before fallback polling activates (default: 5s). Exhaustion
	// activates fallback immediately.
	GraceWindow time.Duration

	// DisableResubscribe turns off replaying the subscription set
	// after a reconnect. Default is to replay: the backend scopes
	// subscriptions to the session, so a fresh connection starts
	// unsubscribed.
	DisableResubscribe bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		GraceWindow: 5 * time.Second,
	}
}

// Stats is the coordinator status surfaced to the UI.
type Stats struct {
	Connected      bool
	State          string
	Attempts       int
	LastError      string
	FallbackActive bool

	// SincePong is the time since the last heartbeat ack on the live
	// channel. Valid only when PongSeen is true.
	SincePong time.Duration
	PongSeen  bool
}

// Coordinator arbitrates between the live channel and the fallback
// poller and exposes a single continuous logical feed. The two
// transports are mutually exclusive by policy: the poller stops
// whenever the channel opens and starts on exhaustion or when a close
// goes unrecovered past the grace window.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	ctrl   liveChannel
	router *feed.Router
	poller fallback

	ctx context.Context

	mu         sync.Mutex
	subs       map[string]bool
	connected  bool
	connChange func(connected bool)
	grace      *time.Timer
}

// New creates a coordinator owning a controller and a poller built
// from the given configs.
func New(cfg Config, connCfg connection.Config, pollCfg poller.Config, apiClient *api.Client, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	co := newCoordinator(cfg, logger)

	co.ctrl = connection.NewController(connCfg, connection.Events{
		OnOpen:      co.handleOpened,
		OnClose:     co.handleClosed,
		OnExhausted: co.handleExhausted,
		OnEnvelope:  co.handleEnvelope,
	}, logger.With("component", "connection"))

	co.poller = poller.New(pollCfg, apiClient,
		poller.UpdateHandlerFunc(co.handlePolled),
		logger.With("component", "poller"),
	)

	return co
}

// newCoordinator builds the coordinator shell; the transports are
// attached by New (or directly, in tests).
func newCoordinator(cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.GraceWindow == 0 {
		cfg.GraceWindow = 5 * time.Second
	}

	co := &Coordinator{
		cfg:    cfg,
		logger: logger,
		router: feed.NewRouter(logger.With("component", "router")),
		subs:   make(map[string]bool),
	}

	// Liveness probes from the backend are answered immediately,
	// independent of the local probe schedule. Acks only refresh the
	// heartbeat window. Both can be overridden via OnMessage.
	co.router.OnMessage(feed.TypePing, func(feed.Envelope) {
		co.ctrl.SendPong()
	})
	co.router.OnMessage(feed.TypePong, func(feed.Envelope) {
		co.ctrl.NotePong()
	})
	co.router.OnMessage(feed.TypeSystemHeartbeat, func(feed.Envelope) {
		co.logger.Debug("backend heartbeat received")
	})

	return co
}

// Start launches the controller and initiates the first connect.
func (co *Coordinator) Start(ctx context.Context) error {
	co.ctx = ctx

	if err := co.ctrl.Start(ctx); err != nil {
		return err
	}
	co.ctrl.Connect()

	co.logger.Info("transport coordinator started",
		"grace_window", co.cfg.GraceWindow,
		"resubscribe", !co.cfg.DisableResubscribe,
	)
	return nil
}

// Stop shuts down both transports.
func (co *Coordinator) Stop(ctx context.Context) error {
	co.mu.Lock()
	if co.grace != nil {
		co.grace.Stop()
		co.grace = nil
	}
	co.mu.Unlock()

	co.poller.Stop()
	return co.ctrl.Stop(ctx)
}

// OnMessage registers the handler for an envelope type (last
// registration wins). Handlers receive envelopes from whichever
// transport is currently serving the feed.
func (co *Coordinator) OnMessage(msgType string, fn feed.HandlerFunc) {
	co.router.OnMessage(msgType, fn)
}

// OnConnectionChange registers the handler notified when the live
// channel opens or closes. Last registration wins.
func (co *Coordinator) OnConnectionChange(fn func(connected bool)) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.connChange = fn
}

// Subscribe records interest in a topic and, if the channel is open,
// sends the subscription. The recorded set is replayed after every
// reconnect unless DisableResubscribe is set.
func (co *Coordinator) Subscribe(topic string) {
	co.mu.Lock()
	co.subs[topic] = true
	connected := co.connected
	co.mu.Unlock()

	if connected {
		co.ctrl.Send(feed.NewSubscribe(topic))
	}
}

// Unsubscribe removes a topic from the subscription set.
func (co *Coordinator) Unsubscribe(topic string) {
	co.mu.Lock()
	delete(co.subs, topic)
	connected := co.connected
	co.mu.Unlock()

	if connected {
		co.ctrl.Send(feed.NewUnsubscribe(topic))
	}
}

// RequestUpdate asks the backend for an immediate refresh.
func (co *Coordinator) RequestUpdate() {
	co.ctrl.Send(feed.NewRequestUpdate())
}

// Reconnect manually re-initiates connection establishment, e.g.
// after exhaustion.
func (co *Coordinator) Reconnect() {
	co.ctrl.Connect()
}

// Stats returns the coordinator status for display.
func (co *Coordinator) Stats() Stats {
	cs := co.ctrl.Stats()
	s := Stats{
		Connected:      cs.Connected,
		State:          cs.State.String(),
		Attempts:       cs.Attempts,
		FallbackActive: co.poller.IsActive(),
	}
	if cs.LastError != nil {
		s.LastError = cs.LastError.Error()
	}
	s.SincePong, s.PongSeen = co.ctrl.TimeSinceLastPong()
	return s
}

// RouterStats returns dispatch statistics.
func (co *Coordinator) RouterStats() feed.RouterStats {
	return co.router.Stats()
}

// handleEnvelope feeds raw live-channel bytes through the router.
func (co *Coordinator) handleEnvelope(data []byte, _ time.Time) {
	co.router.DispatchRaw(data)
}

// handleOpened switches the feed back to the live channel.
func (co *Coordinator) handleOpened() {
	co.mu.Lock()
	co.connected = true
	if co.grace != nil {
		co.grace.Stop()
		co.grace = nil
	}
	var topics []string
	if !co.cfg.DisableResubscribe {
		for topic, subscribed := range co.subs {
			if subscribed {
				topics = append(topics, topic)
			}
		}
	}
	notify := co.connChange
	co.mu.Unlock()

	if co.poller.IsActive() {
		co.logger.Info("live channel restored, stopping fallback poller")
		co.poller.Stop()
	}

	for _, topic := range topics {
		co.ctrl.Send(feed.NewSubscribe(topic))
	}
	if len(topics) > 0 {
		co.logger.Info("replayed subscriptions", "count", len(topics))
	}

	if notify != nil {
		notify(true)
	}
}

// handleClosed arms the fallback grace window unless the close was
// manual.
func (co *Coordinator) handleClosed(err error, manual bool) {
	co.mu.Lock()
	co.connected = false
	if manual {
		if co.grace != nil {
			co.grace.Stop()
			co.grace = nil
		}
	} else if co.grace == nil {
		co.grace = time.AfterFunc(co.cfg.GraceWindow, co.graceExpired)
	}
	notify := co.connChange
	co.mu.Unlock()

	if notify != nil {
		notify(false)
	}
}

// handleExhausted activates fallback immediately.
func (co *Coordinator) handleExhausted() {
	co.mu.Lock()
	if co.grace != nil {
		co.grace.Stop()
		co.grace = nil
	}
	co.mu.Unlock()

	co.startFallback()
}

// graceExpired activates fallback if the channel is still down.
func (co *Coordinator) graceExpired() {
	co.mu.Lock()
	co.grace = nil
	connected := co.connected
	co.mu.Unlock()

	if connected {
		return
	}
	co.startFallback()
}

func (co *Coordinator) startFallback() {
	if co.poller.IsActive() {
		return
	}
	co.logger.Warn("live channel unavailable, activating fallback polling")
	co.poller.Start(co.ctx)
}

// handlePolled re-enters polled snapshots through the router so
// downstream consumers are transport-agnostic.
func (co *Coordinator) handlePolled(metrics []model.QueueMetrics) error {
	samples := make([]feed.QueueSample, 0, len(metrics))
	for _, m := range metrics {
		samples = append(samples, feed.SampleFromMetrics(m))
	}

	env, err := feed.NewMetricsUpdate(samples)
	if err != nil {
		return err
	}
	co.router.Dispatch(env)
	return nil
}
