package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rmqwatch/dashfeed/internal/api"
	"github.com/rmqwatch/dashfeed/internal/config"
	"github.com/rmqwatch/dashfeed/internal/connection"
	"github.com/rmqwatch/dashfeed/internal/database"
	"github.com/rmqwatch/dashfeed/internal/feed"
	"github.com/rmqwatch/dashfeed/internal/model"
	"github.com/rmqwatch/dashfeed/internal/poller"
	"github.com/rmqwatch/dashfeed/internal/registry"
	"github.com/rmqwatch/dashfeed/internal/transport"
	"github.com/rmqwatch/dashfeed/internal/version"
	"github.com/rmqwatch/dashfeed/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/feedd.local.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.Backend.RestURL,
		"ws_url", cfg.Backend.WSURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Timescale.Host,
		"port", cfg.Database.Timescale.Port,
		"database", cfg.Database.Timescale.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// REST API client
	apiClient := api.NewClient(
		cfg.Backend.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Backend.Timeout),
		api.WithRetries(cfg.Backend.MaxRetries, time.Second),
	)

	// Metrics archiver
	metricsWriter := writer.NewMetricsWriter(writer.WriterConfig{
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
		BufferSize:    cfg.Writer.BufferSize,
	}, pool, logger)

	if err := metricsWriter.Start(ctx); err != nil {
		logger.Error("failed to start metrics writer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		metricsWriter.Stop(shutdownCtx)
	}()

	// Queue registry (initial sync is blocking)
	queueRegistry := registry.New(registry.DefaultConfig(), apiClient, logger)
	logger.Info("starting queue registry (initial sync)...")
	if err := queueRegistry.Start(ctx); err != nil {
		logger.Error("failed to start queue registry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		queueRegistry.Stop(shutdownCtx)
	}()

	// Transport coordinator: live channel with polling fallback
	connCfg := connection.Config{
		URL: cfg.Backend.WSURL,
		Backoff: connection.Backoff{
			Base:        cfg.Connection.ReconnectBaseDelay,
			Cap:         cfg.Connection.ReconnectMaxDelay,
			MaxAttempts: cfg.Connection.MaxReconnectAttempts,
		},
		HeartbeatInterval: cfg.Connection.HeartbeatInterval,
		CloseOnStale:      cfg.Connection.CloseOnStale,
		WriteTimeout:      cfg.Connection.WriteTimeout,
		BufferSize:        cfg.Connection.BufferSize,
	}
	pollCfg := poller.Config{
		Interval: cfg.Fallback.Interval,
		Timeout:  cfg.Fallback.Timeout,
	}
	coord := transport.New(transport.Config{
		GraceWindow:        cfg.Coordinator.GraceWindow,
		DisableResubscribe: cfg.Coordinator.DisableResubscribe,
	}, connCfg, pollCfg, apiClient, logger)

	coord.OnConnectionChange(func(connected bool) {
		logger.Info("connection state changed", "connected", connected)
	})

	coord.OnMessage(feed.TypeMetricsUpdate, func(env feed.Envelope) {
		samples, err := feed.ParseMetricsUpdate(env.Payload)
		if err != nil {
			logger.Warn("bad metrics update payload", "error", err)
			return
		}
		now := time.Now()
		for _, s := range samples {
			m := s.ToMetrics(now)
			queueRegistry.NoteActivity(m.QueueName, now)
			metricsWriter.Enqueue(m)
		}
	})

	coord.OnMessage(feed.TypeQueueDiscovered, func(env feed.Envelope) {
		var p feed.QueueDiscoveredPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logger.Warn("bad queue_discovered payload", "error", err)
			return
		}
		queueRegistry.NoteDiscovered(p.QueueName, p.Category)
	})

	coord.OnMessage(feed.TypeSystemAlert, func(env feed.Envelope) {
		var p feed.SystemAlertPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logger.Warn("bad system_alert payload", "error", err)
			return
		}
		alert := model.SystemAlert{
			ID:        uuid.New(),
			Severity:  p.Severity,
			Message:   p.Message,
			QueueName: p.QueueName,
			RaisedAt:  time.Now().UnixMicro(),
		}
		logger.Warn("system alert",
			"id", alert.ID,
			"severity", alert.Severity,
			"queue", alert.QueueName,
			"message", alert.Message,
		)
	})

	if err := coord.Start(ctx); err != nil {
		logger.Error("failed to start transport coordinator", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		coord.Stop(shutdownCtx)
	}()

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(pool, queueRegistry, coord, metricsWriter),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("feedd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("feedd stopped")
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(pool *pgxpool.Pool, reg *registry.Registry, coord *transport.Coordinator, w *writer.MetricsWriter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(wr http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["timescaledb"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["timescaledb"] = "connected"
		}

		// Transport state
		stats := coord.Stats()
		health.Components["transport"] = map[string]interface{}{
			"connected":       stats.Connected,
			"state":           stats.State,
			"attempts":        stats.Attempts,
			"fallback_active": stats.FallbackActive,
		}
		if !stats.Connected && !stats.FallbackActive {
			health.Status = "degraded"
		}

		// Registry and writer
		health.Components["registry"] = map[string]interface{}{
			"queues": reg.Count(),
		}
		ws := w.Stats()
		health.Components["writer"] = map[string]interface{}{
			"inserts": ws.Inserts,
			"errors":  ws.Errors,
			"dropped": ws.Dropped,
		}

		wr.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			wr.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(wr).Encode(health)
	})

	mux.HandleFunc("/debug/queues", func(wr http.ResponseWriter, r *http.Request) {
		queues := reg.Queues()

		limit := 100
		showing := queues
		if len(showing) > limit {
			showing = showing[:limit]
		}

		wr.Header().Set("Content-Type", "application/json")
		json.NewEncoder(wr).Encode(map[string]interface{}{
			"count":   len(queues),
			"showing": len(showing),
			"queues":  showing,
		})
	})

	return mux
}
