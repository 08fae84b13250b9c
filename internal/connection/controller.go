package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rmqwatch/dashfeed/internal/feed"
)

// command is a caller request posted to the run loop.
type command int

const (
	cmdConnect command = iota
	cmdDisconnect
)

// dialResult carries the outcome of an asynchronous dial.
type dialResult struct {
	client Client
	err    error
}

// Controller owns one live channel to the monitoring backend and the
// state machine around it: establishment, heartbeats, backoff-gated
// reconnection, and exhaustion.
//
// All state transitions and event callbacks run on a single goroutine;
// an event is fully processed before the next one is picked up, so no
// transition can interleave with another. Connect and Disconnect post
// commands to that goroutine; Send writes to the transport directly
// and is best-effort (a send racing a close surfaces as a transport
// error, never as a corrupted transition).
type Controller struct {
	cfg    Config
	events Events
	logger *slog.Logger

	cmds  chan command
	pongs chan struct{}

	// Snapshot state for external readers. The run goroutine is the
	// only writer.
	mu           sync.Mutex
	state        State
	attempts     int
	lastErr      error
	client       Client
	openedAt     time.Time
	lastPingSent time.Time
	lastPongAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller in the Idle state. Events
// callbacks may be nil.
func NewController(cfg Config, events Events, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1000
	}

	return &Controller{
		cfg:    cfg,
		events: events,
		logger: logger,
		cmds:   make(chan command, 8),
		pongs:  make(chan struct{}, 8),
		state:  StateIdle,
	}
}

// Start launches the run goroutine. It does not dial; call Connect.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	return nil
}

// Stop shuts the controller down, cancelling any pending reconnect
// timer and closing the channel.
func (c *Controller) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("controller stop timed out")
		return ctx.Err()
	}
}

// Connect requests connection establishment. Ignored while already
// connecting or open.
func (c *Controller) Connect() {
	c.post(cmdConnect)
}

// Disconnect closes the channel permanently. A manual disconnect is
// terminal: it never schedules a reconnect.
func (c *Controller) Disconnect() {
	c.post(cmdDisconnect)
}

func (c *Controller) post(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.ctx.Done():
	}
}

// Send serializes the envelope and writes it to the live channel.
// While the channel is not open the envelope is dropped with a logged
// warning; delivery is best-effort and nothing is queued for later.
func (c *Controller) Send(env feed.Envelope) error {
	c.mu.Lock()
	state := c.state
	cl := c.client
	c.mu.Unlock()

	if state != StateOpen || cl == nil {
		c.logger.Warn("dropping send, channel not open",
			"type", env.Type,
			"state", state.String(),
		)
		return ErrNotOpen
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return cl.Send(data)
}

// SendPong answers a remote liveness probe immediately, independent of
// the local probe schedule.
func (c *Controller) SendPong() error {
	return c.Send(feed.NewPong())
}

// NotePong records receipt of a liveness acknowledgement.
func (c *Controller) NotePong() {
	select {
	case c.pongs <- struct{}{}:
	default:
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of controller state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		State:     c.state,
		Connected: c.state == StateOpen,
		Attempts:  c.attempts,
		LastError: c.lastErr,
	}
}

// TimeSinceLastPong reports staleness of the heartbeat window. The
// second result is false before any pong has been received on the
// current connection.
func (c *Controller) TimeSinceLastPong() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPongAt.IsZero() {
		return 0, false
	}
	return time.Since(c.lastPongAt), true
}

// run is the single goroutine that owns all state transitions.
func (c *Controller) run() {
	defer c.wg.Done()

	var (
		dialCh     chan dialResult
		msgs       <-chan TimestampedMessage
		errs       <-chan error
		reconnect  *time.Timer
		reconnectC <-chan time.Time
		hb         *time.Ticker
		hbC        <-chan time.Time
		manual     bool
	)

	stopReconnect := func() {
		if reconnect != nil {
			reconnect.Stop()
			reconnect = nil
			reconnectC = nil
		}
	}
	stopHeartbeat := func() {
		if hb != nil {
			hb.Stop()
			hb = nil
			hbC = nil
		}
	}
	closeClient := func() {
		c.mu.Lock()
		if c.client != nil {
			c.client.Close()
			c.client = nil
		}
		c.mu.Unlock()
		msgs, errs = nil, nil
	}

	startDial := func() {
		c.setState(StateConnecting)
		cl := NewClient(ClientConfig{
			URL:              c.cfg.URL,
			HandshakeTimeout: c.cfg.HandshakeTimeout,
			WriteTimeout:     c.cfg.WriteTimeout,
			BufferSize:       c.cfg.BufferSize,
		}, c.logger)

		dialCh = make(chan dialResult, 1)
		go func(ch chan dialResult, cl Client) {
			ch <- dialResult{client: cl, err: cl.Connect(c.ctx)}
		}(dialCh, cl)
	}

	// failAndRetry handles both establishment failures and abnormal
	// closes: transition to Closed, advance the retry counter, then
	// either arm the reconnect timer or report exhaustion.
	failAndRetry := func(err error) {
		stopHeartbeat()
		closeClient()

		c.mu.Lock()
		if err != nil {
			c.lastErr = err
		}
		c.mu.Unlock()

		c.setState(StateClosed)
		if c.events.OnClose != nil {
			c.events.OnClose(err, false)
		}

		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		if c.cfg.Backoff.Exhausted(attempt) {
			c.logger.Warn("reconnect attempts exhausted",
				"attempts", attempt-1,
				"max_attempts", c.cfg.Backoff.MaxAttempts,
			)
			c.setState(StateExhausted)
			if c.events.OnExhausted != nil {
				c.events.OnExhausted()
			}
			return
		}

		delay := c.cfg.Backoff.Delay(attempt)
		c.logger.Info("scheduling reconnect",
			"attempt", attempt,
			"max_attempts", c.cfg.Backoff.MaxAttempts,
			"delay", delay,
		)
		reconnect = time.NewTimer(delay)
		reconnectC = reconnect.C
	}

	for {
		select {
		case <-c.ctx.Done():
			stopReconnect()
			stopHeartbeat()
			closeClient()
			c.setState(StateClosed)
			return

		case cmd := <-c.cmds:
			switch cmd {
			case cmdConnect:
				switch c.State() {
				case StateConnecting, StateOpen, StateClosing:
					c.logger.Debug("connect ignored", "state", c.State().String())
					continue
				}
				manual = false
				stopReconnect()
				// A caller-initiated connect starts a fresh retry
				// cycle, including after exhaustion.
				c.mu.Lock()
				c.attempts = 0
				c.mu.Unlock()
				startDial()

			case cmdDisconnect:
				manual = true
				stopReconnect()
				stopHeartbeat()
				if st := c.State(); st == StateOpen || st == StateConnecting {
					c.setState(StateClosing)
				}
				closeClient()
				c.setState(StateClosed)
				if c.events.OnClose != nil {
					c.events.OnClose(nil, true)
				}
			}

		case res := <-dialCh:
			dialCh = nil
			if manual {
				// Disconnected while the dial was in flight.
				if res.err == nil && res.client != nil {
					res.client.Close()
				}
				continue
			}
			if res.err != nil {
				if c.events.OnFailed != nil {
					c.events.OnFailed(res.err)
				}
				failAndRetry(res.err)
				continue
			}

			now := time.Now()
			c.mu.Lock()
			c.client = res.client
			c.attempts = 0
			c.lastErr = nil
			c.openedAt = now
			c.lastPingSent = time.Time{}
			c.lastPongAt = time.Time{}
			c.mu.Unlock()

			msgs = res.client.Messages()
			errs = res.client.Errors()
			if c.cfg.HeartbeatInterval > 0 {
				hb = time.NewTicker(c.cfg.HeartbeatInterval)
				hbC = hb.C
			}

			c.setState(StateOpen)
			if c.events.OnOpen != nil {
				c.events.OnOpen()
			}

		case <-reconnectC:
			stopReconnect()
			startDial()

		case <-hbC:
			if stale := c.heartbeatTick(); stale {
				if c.events.OnFailed != nil {
					c.events.OnFailed(ErrStaleConnection)
				}
				c.setState(StateClosing)
				failAndRetry(ErrStaleConnection)
			}

		case <-c.pongs:
			c.mu.Lock()
			c.lastPongAt = time.Now()
			c.mu.Unlock()

		case err := <-errs:
			c.logger.Warn("live channel error", "error", err)
			if c.events.OnFailed != nil {
				c.events.OnFailed(err)
			}
			c.setState(StateClosing)
			failAndRetry(err)

		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if c.events.OnEnvelope != nil {
				c.events.OnEnvelope(m.Data, m.ReceivedAt)
			}
		}
	}
}

// heartbeatTick sends a liveness probe and, in strict mode, reports
// whether the connection has gone stale (no pong for two periods).
func (c *Controller) heartbeatTick() (stale bool) {
	if c.State() != StateOpen {
		return false
	}

	now := time.Now()
	if err := c.Send(feed.NewPing(now)); err != nil {
		c.logger.Debug("heartbeat send failed", "error", err)
	} else {
		c.mu.Lock()
		c.lastPingSent = now
		c.mu.Unlock()
	}

	if !c.cfg.CloseOnStale {
		return false
	}

	c.mu.Lock()
	last := c.lastPongAt
	if last.IsZero() {
		last = c.openedAt
	}
	c.mu.Unlock()

	if now.Sub(last) > 2*c.cfg.HeartbeatInterval {
		c.logger.Warn("no pong within two heartbeat periods, closing",
			"since_last_pong", now.Sub(last),
		)
		return true
	}
	return false
}

// setState applies a transition and notifies the owner.
func (c *Controller) setState(next State) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = next
	c.mu.Unlock()

	c.logger.Debug("state transition",
		"from", prev.String(),
		"to", next.String(),
	)

	if c.events.OnStateChange != nil {
		c.events.OnStateChange(next)
	}
}
