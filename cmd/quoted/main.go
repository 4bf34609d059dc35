package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/quotecore/internal/config"
	"github.com/rickgao/quotecore/internal/database"
	"github.com/rickgao/quotecore/internal/engine"
	"github.com/rickgao/quotecore/internal/metrics"
	"github.com/rickgao/quotecore/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting quoted",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.Warn("failed to load env file", "path", *envFile, "error", err)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "warning", w)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.Upstream.RestURL,
		"db_host", cfg.Database.Host,
		"db_name", cfg.Database.Name,
		"redis", cfg.Cache.RedisAddr != "",
		"kafka", len(cfg.Publisher.Brokers) > 0,
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	eng, err := engine.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(eng, cfg.Metrics.Path, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	res, err := eng.Start(ctx)
	if err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}
	if !res.OK {
		logger.Warn("running degraded", "subsystems", res.Degraded)
	}

	logger.Info("quoted running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("engine shutdown error", "error", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", "error", err)
	}

	logger.Info("quoted stopped")
}

// createHealthHandler serves liveness, diagnostics and Prometheus metrics.
func createHealthHandler(eng *engine.Engine, metricsPath string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report, cacheOK := eng.Health(ctx)
		st := eng.Status()

		health := struct {
			Status     string         `json:"status"`
			Degraded   []string       `json:"degraded,omitempty"`
			Components map[string]any `json:"components"`
		}{
			Status:     string(report.Status),
			Degraded:   st.Init.Degraded,
			Components: make(map[string]any),
		}

		health.Components["database"] = report
		health.Components["cache"] = map[string]any{
			"backend": st.Cache,
			"healthy": cacheOK,
		}
		if st.Stream != nil {
			health.Components["stream"] = st.Stream.State
		}
		health.Components["subscriptions"] = st.Registry

		if health.Status == string(database.HealthHealthy) && len(st.Init.Degraded) > 0 {
			health.Status = string(database.HealthDegraded)
		}

		w.Header().Set("Content-Type", "application/json")
		if report.Status == database.HealthUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("health response write failed", "error", err)
		}
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(eng.Status()); err != nil {
			logger.Debug("status response write failed", "error", err)
		}
	})

	mux.Handle(metricsPath, metrics.Handler(prometheus.DefaultGatherer))

	return mux
}
