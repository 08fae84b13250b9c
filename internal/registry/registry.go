package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rmqwatch/dashfeed/internal/api"
	"github.com/rmqwatch/dashfeed/internal/model"
)

// Config holds Queue Registry configuration.
type Config struct {
	ReconcileInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 5 * time.Minute,
	}
}

// Registry tracks the set of known queues. It is seeded from the REST
// API on startup, updated live from queue_discovered events, and
// reconciled against the API periodically to catch anything missed
// while the live channel was down.
type Registry struct {
	cfg    Config
	rest   *api.Client
	logger *slog.Logger

	mu         sync.RWMutex
	queues     map[string]model.QueueInfo
	lastSyncAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Queue Registry.
func New(cfg Config, rest *api.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultConfig().ReconcileInterval
	}
	return &Registry{
		cfg:    cfg,
		rest:   rest,
		logger: logger.With("component", "registry"),
		queues: make(map[string]model.QueueInfo),
	}
}

// Start performs the initial sync and begins background reconciliation.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	// Initial sync (blocking).
	if err := r.initialSync(r.ctx); err != nil {
		r.cancel()
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reconciliationLoop(r.ctx)
	}()

	r.logger.Info("queue registry started", "queues", r.Count())
	return nil
}

// Stop gracefully shuts down.
func (r *Registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("queue registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoteDiscovered records a queue announced over the live channel.
func (r *Registry) NoteDiscovered(name, category string) {
	now := time.Now().UnixMicro()

	r.mu.Lock()
	existing, ok := r.queues[name]
	if ok {
		existing.Category = category
		existing.LastActivity = now
		r.queues[name] = existing
	} else {
		r.queues[name] = model.QueueInfo{
			Name:         name,
			Category:     category,
			LastActivity: now,
		}
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Info("queue discovered", "queue", name, "category", category)
	}
}

// NoteActivity bumps the last activity time for a queue if it is known.
func (r *Registry) NoteActivity(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	if !ok {
		return
	}
	q.LastActivity = at.UnixMicro()
	r.queues[name] = q
}

// Get returns a specific queue by name.
func (r *Registry) Get(name string) (model.QueueInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	return q, ok
}

// Queues returns all known queues sorted by name.
func (r *Registry) Queues() []model.QueueInfo {
	r.mu.RLock()
	out := make([]model.QueueInfo, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, q)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of known queues.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}

// initialSync fetches the queue list from the REST API on startup.
func (r *Registry) initialSync(ctx context.Context) error {
	r.logger.Info("starting initial queue sync")
	start := time.Now()

	queues, err := r.rest.ListQueues(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, q := range queues {
		r.queues[q.Name] = q
	}
	r.lastSyncAt = time.Now()
	r.mu.Unlock()

	r.logger.Info("initial sync complete",
		"queues", len(queues),
		"duration", time.Since(start),
	)
	return nil
}

// reconciliationLoop periodically syncs with the REST API.
func (r *Registry) reconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// reconcile fetches the queue list and folds in anything new.
func (r *Registry) reconcile(ctx context.Context) {
	start := time.Now()

	queues, err := r.rest.ListQueues(ctx)
	if err != nil {
		r.logger.Error("reconciliation failed fetching queues", "err", err)
		return
	}

	var created int

	r.mu.Lock()
	for _, q := range queues {
		if _, ok := r.queues[q.Name]; !ok {
			created++
		}
		r.queues[q.Name] = q
	}
	r.lastSyncAt = time.Now()
	r.mu.Unlock()

	if created > 0 {
		r.logger.Info("reconciliation found new queues",
			"created", created,
			"duration", time.Since(start),
		)
	} else {
		r.logger.Debug("reconciliation complete",
			"queues", len(queues),
			"duration", time.Since(start),
		)
	}
}
