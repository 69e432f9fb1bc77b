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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reStrike-d-o-o/obslink/internal/config"
	"github.com/reStrike-d-o-o/obslink/internal/connection"
	"github.com/reStrike-d-o-o/obslink/internal/database"
	"github.com/reStrike-d-o-o/obslink/internal/history"
	"github.com/reStrike-d-o-o/obslink/internal/metrics"
	"github.com/reStrike-d-o-o/obslink/internal/model"
	"github.com/reStrike-d-o-o/obslink/internal/poller"
	"github.com/reStrike-d-o-o/obslink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/obslink.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting obslink",
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
		"connections", len(cfg.Connections),
		"history_enabled", cfg.History.Enabled,
	)

	// Create context with cancellation
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

	promRegistry := metrics.NewRegistry()

	// Optional status history store
	var writer *history.Writer
	if cfg.History.Enabled {
		logger.Info("connecting to history database",
			"host", cfg.History.DB.Host,
			"port", cfg.History.DB.Port,
			"database", cfg.History.DB.Name,
		)

		pool, err := database.Connect(ctx, cfg.History.DB)
		if err != nil {
			logger.Error("failed to connect to history database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		writer = history.NewWriter(history.Config{
			BatchSize:     cfg.History.BatchSize,
			FlushInterval: cfg.History.FlushInterval,
		}, pool, logger)
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start history writer", "error", err)
			os.Exit(1)
		}
		defer stopComponent(writer.Stop, "history writer", logger)
	}

	// Connection manager
	mgr := connection.NewManager(managerConfig(cfg), logger, promRegistry)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	defer stopComponent(mgr.Stop, "connection manager", logger)

	// Fan state change events out to the history writer.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case change := <-mgr.StateChanges():
				logger.Debug("state change",
					"connection", change.Name,
					"state", change.State,
					"detail", change.ErrorDetail,
				)
				if writer != nil {
					writer.RecordStateChange(change)
				}
			case snap := <-mgr.Snapshots():
				logger.Debug("status snapshot",
					"recording", snap.IsRecording,
					"streaming", snap.IsStreaming,
					"active_recorder", snap.ActiveRecorder,
					"connections", len(snap.Connections),
				)
			}
		}
	}()

	// Seed configured connections
	for _, cc := range cfg.Connections {
		if err := mgr.AddConnection(seedConnection(cc)); err != nil {
			logger.Error("failed to add connection", "connection", cc.Name, "error", err)
			os.Exit(1)
		}
	}

	// Status poller feeding the manager's snapshot and the history store
	handler := poller.SnapshotHandlerFunc(func(snap model.StatusSnapshot) error {
		mgr.PublishSnapshot(snap)
		if writer != nil {
			writer.RecordSnapshot(snap)
		}
		return nil
	})
	poll := poller.New(poller.Config{
		Interval:       cfg.Poller.Interval,
		RequestTimeout: cfg.Poller.RequestTimeout,
	}, mgr, handler, promRegistry, logger)
	if err := poll.Start(ctx); err != nil {
		logger.Error("failed to start poller", "error", err)
		os.Exit(1)
	}
	defer stopComponent(poll.Stop, "poller", logger)

	// Health and metrics server
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHTTPHandler(cfg, mgr),
	}
	go func() {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("obslink running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	logger.Info("obslink stopped")
}

// stopComponent runs a component's Stop with a bounded shutdown context.
func stopComponent(stop func(context.Context) error, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Error("failed to stop component", "component", name, "error", err)
	}
}

// managerConfig maps file configuration onto the manager defaults.
func managerConfig(cfg *config.Config) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.Reconnect.AutoReconnect = cfg.Reconnect.AutoReconnect
	mc.Reconnect.Delay = cfg.Reconnect.Delay
	mc.Reconnect.MaxAttempts = cfg.Reconnect.MaxAttempts
	if cfg.Reconnect.RetryOnAuthFailure != nil {
		mc.Reconnect.RetryOnAuthFailure = *cfg.Reconnect.RetryOnAuthFailure
	}
	return mc
}

// seedConnection maps one configured connection onto the manager's form.
func seedConnection(cc config.ConnectionConfig) connection.Config {
	return connection.Config{
		Name:           cc.Name,
		Host:           cc.Host,
		Port:           cc.Port,
		Password:       cc.Password,
		Protocol:       model.Protocol(cc.Protocol),
		Enabled:        cc.Enabled,
		AutoReconnect:  cc.AutoReconnect,
		ReconnectDelay: cc.ReconnectDelay,
		MaxAttempts:    cc.MaxAttempts,
	}
}

// createHTTPHandler serves health, status and Prometheus metrics.
func createHTTPHandler(cfg *config.Config, mgr *connection.Manager) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(cfg.Metrics.Path, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		infos := mgr.ListConnections()

		health := struct {
			Status      string `json:"status"`
			Connections int    `json:"connections"`
			Ready       int    `json:"ready"`
		}{
			Status:      "healthy",
			Connections: len(infos),
		}
		for _, info := range infos {
			if info.State.Ready() {
				health.Ready++
			}
		}
		if health.Connections > 0 && health.Ready == 0 {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/connections", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"connections": mgr.ListConnections(),
			"snapshot":    mgr.Snapshot(),
		})
	})

	return mux
}
