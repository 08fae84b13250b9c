package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmqwatch/dashfeed/internal/api"
	"github.com/rmqwatch/dashfeed/internal/model"
)

// UpdateHandler receives fetched metrics snapshots.
type UpdateHandler interface {
	HandleMetrics(metrics []model.QueueMetrics) error
}

// UpdateHandlerFunc is a function adapter for UpdateHandler.
type UpdateHandlerFunc func([]model.QueueMetrics) error

func (f UpdateHandlerFunc) HandleMetrics(m []model.QueueMetrics) error {
	return f(m)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 30s)
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Active  bool
	Fetches int64
	Errors  int64
}

// Poller approximates the live feed with periodic REST snapshot
// fetches while the live channel is unavailable. It polls on a fixed
// interval without backoff; fetch failures are logged and retried on
// the next tick.
type Poller struct {
	cfg     Config
	client  *api.Client
	handler UpdateHandler
	logger  *slog.Logger

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fetches atomic.Int64
	errors  atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, client *api.Client, handler UpdateHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop: one immediate fetch, then one per
// interval until Stop. Idempotent; a second Start while active is a
// no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return
	}
	p.active = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(runCtx)

	p.logger.Info("fallback poller started", "interval", p.cfg.Interval)
}

// Stop halts the polling loop and cancels its timer. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.logger.Info("fallback poller stopped")
}

// IsActive reports whether the poller is running.
func (p *Poller) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Stats returns current statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Active:  p.IsActive(),
		Fetches: p.fetches.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the polling loop.
func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.fetch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetch(ctx)
		}
	}
}

// fetch pulls one snapshot and hands it to the update handler.
func (p *Poller) fetch(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	metrics, err := p.client.GetCurrentMetrics(fetchCtx)
	if err != nil {
		p.errors.Add(1)
		p.logger.Warn("snapshot fetch failed", "error", err)
		return
	}

	p.fetches.Add(1)

	if p.handler != nil {
		if err := p.handler.HandleMetrics(metrics); err != nil {
			p.logger.Warn("snapshot handler failed", "error", err)
		}
	}
}
