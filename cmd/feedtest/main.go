// feedtest connects to the monitoring backend and streams parsed update
// envelopes to the console. Useful for checking connectivity and watching
// the fallback poller take over when the live channel drops.
//
// Usage: go run ./cmd/feedtest --config configs/feedd.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rmqwatch/dashfeed/internal/api"
	"github.com/rmqwatch/dashfeed/internal/config"
	"github.com/rmqwatch/dashfeed/internal/connection"
	"github.com/rmqwatch/dashfeed/internal/feed"
	"github.com/rmqwatch/dashfeed/internal/poller"
	"github.com/rmqwatch/dashfeed/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/feedd.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full envelope JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	apiClient := api.NewClient(cfg.Backend.RestURL, api.WithLogger(logger))

	// Snapshot of the system before streaming starts.
	overviewCtx, overviewCancel := context.WithTimeout(ctx, 10*time.Second)
	overview, err := apiClient.GetSystemOverview(overviewCtx)
	overviewCancel()
	if err != nil {
		logger.Warn("failed to fetch system overview", "error", err)
	} else {
		logger.Info("system overview",
			"queues", overview.TotalQueues,
			"messages_ready", overview.TotalReady,
			"consumers", overview.TotalConsumers,
			"incoming_rate", overview.IncomingRate,
			"consume_rate", overview.ConsumeRate,
		)
	}

	coord := transport.New(transport.Config{
		GraceWindow:        cfg.Coordinator.GraceWindow,
		DisableResubscribe: cfg.Coordinator.DisableResubscribe,
	}, connection.Config{
		URL: cfg.Backend.WSURL,
		Backoff: connection.Backoff{
			Base:        cfg.Connection.ReconnectBaseDelay,
			Cap:         cfg.Connection.ReconnectMaxDelay,
			MaxAttempts: cfg.Connection.MaxReconnectAttempts,
		},
		HeartbeatInterval: cfg.Connection.HeartbeatInterval,
		CloseOnStale:      cfg.Connection.CloseOnStale,
	}, poller.Config{
		Interval: cfg.Fallback.Interval,
		Timeout:  cfg.Fallback.Timeout,
	}, apiClient, logger)

	coord.OnConnectionChange(func(connected bool) {
		fmt.Printf("[CONNECTION] connected=%v\n", connected)
	})

	coord.OnMessage(feed.TypeMetricsUpdate, func(env feed.Envelope) {
		if *verbose {
			data, _ := json.MarshalIndent(env, "", "  ")
			fmt.Printf("[METRICS] %s\n", data)
			return
		}
		samples, err := feed.ParseMetricsUpdate(env.Payload)
		if err != nil {
			fmt.Printf("[METRICS] bad payload: %v\n", err)
			return
		}
		for _, s := range samples {
			fmt.Printf("[METRICS] queue=%s ready=%d consumers=%d in=%.2f out=%.2f source=%s\n",
				s.QueueName, s.MessagesReady, s.ConsumerCount, s.IncomingRate, s.ConsumeRate, s.Source)
		}
	})

	coord.OnMessage(feed.TypeQueueDiscovered, func(env feed.Envelope) {
		var p feed.QueueDiscoveredPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		fmt.Printf("[DISCOVERED] queue=%s category=%s\n", p.QueueName, p.Category)
	})

	coord.OnMessage(feed.TypeSystemAlert, func(env feed.Envelope) {
		var p feed.SystemAlertPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		fmt.Printf("[ALERT] severity=%s queue=%s message=%s\n", p.Severity, p.QueueName, p.Message)
	})

	if err := coord.Start(ctx); err != nil {
		logger.Error("failed to start transport coordinator", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := coord.Stats()
				routerStats := coord.RouterStats()
				attrs := []any{
					"connected", stats.Connected,
					"state", stats.State,
					"attempts", stats.Attempts,
					"fallback_active", stats.FallbackActive,
					"received", routerStats.Received,
					"dispatched", routerStats.Dispatched,
					"parse_errors", routerStats.ParseErrors,
					"unknown", routerStats.Unknown,
				}
				if stats.PongSeen {
					attrs = append(attrs, "since_pong", stats.SincePong.Round(time.Millisecond))
				}
				logger.Info("stats", attrs...)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	coord.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}
