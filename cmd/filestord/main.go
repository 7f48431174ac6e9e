// =============================================================================
// FILESTORD - STANDALONE STORAGE NODE DAEMON
// =============================================================================
//
// The daemon wires the dispatch core into a runnable node:
//
//   config (YAML) -> metrics registry -> handler -> persistence workers
//                                     -> admin HTTP server (status, ingest)
//
// In standalone mode documents arrive over the admin API and are executed
// against the in-memory provider; a clustered deployment replaces the
// ingest path and the provider while keeping the same handler.
//
// USAGE:
//   filestord                      # defaults (1 disk, 8 stripes, :8080)
//   filestord -config node.yaml    # explicit configuration
//
// =============================================================================

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filestor/internal/api"
	"filestor/internal/config"
	"filestor/internal/document"
	"filestor/internal/filestor"
	"filestor/internal/metrics"
	"filestor/internal/persistence"
	"filestor/internal/spi"
	"filestor/internal/storageapi"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("configuration rejected", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	registry := metrics.NewRegistry(metrics.Config{
		Enabled:                 cfg.Metrics.Enabled,
		IncludeGoCollector:      cfg.Metrics.IncludeGoCollector,
		IncludeProcessCollector: cfg.Metrics.IncludeProcessCollector,
	})

	factory := document.NewBucketIDFactory(uint8(cfg.Node.DocumentUsedBits))
	sender := persistence.NewLoggingSender(logger)

	handler, err := filestor.NewHandler(
		filestor.Config{
			NumStripes:            cfg.Node.StripesPerDisk,
			GetNextMessageTimeout: cfg.Node.GetNextMessageTimeout(),
		},
		sender,
		registry.Handler,
		spi.AllUp(cfg.Node.DiskCount),
		factory,
		logger,
	)
	if err != nil {
		logger.Error("handler construction failed", "error", err)
		os.Exit(1)
	}

	provider := spi.NewMemProvider(cfg.Node.DiskCount)
	pool := persistence.NewPool(handler, provider, sender, logger, cfg.Node.WorkersPerDisk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	logger.Info("persistence workers started",
		"disks", cfg.Node.DiskCount,
		"workers_per_disk", cfg.Node.WorkersPerDisk,
		"stripes_per_disk", cfg.Node.StripesPerDisk)

	// Periodically publish the sampled gauges (queue depths, merge count).
	metricsTicker := time.NewTicker(cfg.Node.MetricsUpdateInterval())
	defer metricsTicker.Stop()
	go func() {
		for {
			select {
			case <-metricsTicker.C:
				handler.UpdateMetrics()
			case <-ctx.Done():
				return
			}
		}
	}()

	server := api.NewServer(handler, factory, registry.HTTPHandler(), api.ServerConfig{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout(),
		WriteTimeout: cfg.HTTP.WriteTimeout(),
		IdleTimeout:  cfg.HTTP.IdleTimeout(),
	}, logger)
	server.Start()

	logger.Info("filestord running", "addr", cfg.HTTP.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	// Stop ingest first, then wake and drain the workers. Queued work that
	// never dispatched is dropped; upstream retries re-drive it. Pending
	// merges answer ABORTED.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}

	handler.Close()
	pool.Stop()
	cancel()

	aborted := abortPendingMerges(handler)
	logger.Info("shutdown complete",
		"replies_sent", sender.Replies(),
		"merges_aborted", aborted)
}

// abortPendingMerges answers every tracked merge with ABORTED. The queues
// are already discarded at this point, so only merge bookkeeping can still
// owe replies.
func abortPendingMerges(h *filestor.Handler) int {
	result := storageapi.NewResult(storageapi.Aborted, "storage node is shutting down")
	buckets := h.Snapshot().ActiveMerges
	for _, bucket := range buckets {
		h.ClearMergeStatus(bucket, &result)
	}
	return len(buckets)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
