package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rmqwatch/dashfeed/internal/model"
)

// MetricsWriter archives queue metrics samples to the queue_metrics table.
type MetricsWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the transport layer
	input chan model.QueueMetrics

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []metricsRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Row sink, w.batchInsert in production
	insert func(ctx context.Context, rows []metricsRow) (conflicts int, err error)

	// Metrics
	metrics WriterMetrics
}

// NewMetricsWriter creates a new MetricsWriter.
func NewMetricsWriter(cfg WriterConfig, db *pgxpool.Pool, logger *slog.Logger) *MetricsWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultWriterConfig().BufferSize
	}
	w := &MetricsWriter{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "metrics_writer"),
		input:  make(chan model.QueueMetrics, cfg.BufferSize),
		batch:  make([]metricsRow, 0, cfg.BatchSize),
	}
	w.insert = w.batchInsert
	return w
}

// Enqueue queues a sample for archival. Never blocks; samples are
// dropped when the buffer is full.
func (w *MetricsWriter) Enqueue(m model.QueueMetrics) {
	select {
	case w.input <- m:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		dropped := w.metrics.Dropped
		w.batchMu.Unlock()
		if dropped%1000 == 1 {
			w.logger.Warn("writer buffer full, dropping samples", "dropped", dropped)
		}
	}
}

// Start begins consuming samples and writing to the database.
func (w *MetricsWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("metrics writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer. Samples still buffered in the
// input channel or the current batch are written out in a final flush
// before Stop returns.
func (w *MetricsWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping metrics writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("metrics writer stopped")
	case <-ctx.Done():
		w.logger.Warn("metrics writer stop timed out")
	}

	// The consume loop exits on cancellation; fold anything it left in
	// the input channel into the batch.
	w.drainInput()

	// Final flush. The run context is already cancelled, so use the
	// caller's context, or a bounded fresh one if that is gone too.
	flushCtx := ctx
	if flushCtx == nil || flushCtx.Err() != nil {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	w.flush(flushCtx)

	return nil
}

// drainInput moves any queued samples into the batch without flushing.
func (w *MetricsWriter) drainInput() {
	for {
		select {
		case m := <-w.input:
			row := w.transform(m)
			w.batchMu.Lock()
			w.batch = append(w.batch, row)
			w.batchMu.Unlock()
		default:
			return
		}
	}
}

// Stats returns current metrics.
func (w *MetricsWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input channel and accumulates batches.
func (w *MetricsWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case m := <-w.input:
			w.handleSample(m)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *MetricsWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleSample transforms and adds a sample to the batch.
func (w *MetricsWriter) handleSample(m model.QueueMetrics) {
	row := w.transform(m)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a QueueMetrics to a metricsRow.
func (w *MetricsWriter) transform(m model.QueueMetrics) metricsRow {
	return metricsRow{
		QueueName:     m.QueueName,
		Category:      m.Category,
		Timestamp:     m.Timestamp,
		ReceivedAt:    m.ReceivedAt,
		MessagesReady: m.MessagesReady,
		ConsumerCount: m.ConsumerCount,
		IncomingRate:  m.IncomingRate,
		ConsumeRate:   m.ConsumeRate,
		Source:        m.Source,
	}
}

// flush writes the current batch to the database.
func (w *MetricsWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]metricsRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.insert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed metrics",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *MetricsWriter) batchInsert(ctx context.Context, rows []metricsRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO queue_metrics (queue_name, category, ts, received_at, messages_ready, consumer_count, incoming_rate, consume_rate, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (queue_name, ts) DO NOTHING
		`, r.QueueName, r.Category, r.Timestamp, r.ReceivedAt, r.MessagesReady, r.ConsumerCount, r.IncomingRate, r.ConsumeRate, r.Source)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
