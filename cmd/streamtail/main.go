// streamtail connects to the provider price stream and prints ticks to the
// console.
// Usage: go run ./cmd/streamtail --symbols AAPL,MSFT,EUR/USD
//
// Required environment variables:
//
//	TWELVE_DATA_API_KEY - provider API key
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/quotecore/internal/config"
	"github.com/rickgao/quotecore/internal/connection"
	"github.com/rickgao/quotecore/internal/model"
	"github.com/rickgao/quotecore/internal/queue"
)

// staticSymbols is a fixed symbol set that never changes.
type staticSymbols []string

func (s staticSymbols) Symbols() []string        { return s }
func (s staticSymbols) Changed() <-chan struct{} { return nil }

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	symbolList := flag.String("symbols", "AAPL", "comma-separated symbols to subscribe")
	verbose := flag.Bool("verbose", false, "print full tick JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := config.LoadDotEnv(); err != nil {
		logger.Warn("failed to load .env", "error", err)
	}
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Upstream.APIKey == "" {
		logger.Error("API key required for the price stream")
		logger.Info("Set environment variable: TWELVE_DATA_API_KEY")
		os.Exit(1)
	}

	var symbols staticSymbols
	for _, s := range strings.Split(*symbolList, ",") {
		if s = model.NormalizeSymbol(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		logger.Error("no symbols given")
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

	// Ticks are handed off so console output never stalls the read loop.
	ticks := queue.New[model.QuoteSnapshot](256, 10000)

	stream := connection.NewStream(connection.StreamConfig{
		Client: connection.ClientConfig{
			URL:    cfg.Upstream.WSURL,
			APIKey: cfg.Upstream.APIKey,
		},
		HeartbeatInterval:    cfg.Stream.HeartbeatInterval,
		HeartbeatTimeout:     cfg.Stream.HeartbeatTimeout,
		ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Stream.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
	}, symbols, func(s model.QuoteSnapshot) { ticks.Push(s) }, logger)

	stream.OnStateChange(func(from, to connection.State) {
		logger.Info("stream state", "from", from, "to", to)
		if to == connection.StateFailed {
			cancel()
		}
	})

	logger.Info("starting stream", "url", cfg.Upstream.WSURL, "symbols", []string(symbols))
	if err := stream.Start(ctx); err != nil {
		logger.Error("failed to start stream", "error", err)
		os.Exit(1)
	}

	go printTicks(ctx, ticks, *verbose)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := stream.Stats()
				qs := ticks.Stats()
				logger.Info("stats",
					"state", st.State,
					"subscribed", st.Subscribed,
					"ticks", st.Ticks,
					"dropped", st.Dropped,
					"reconnects", st.Reconnects,
					"queue", qs.Len,
					"queue_dropped", qs.Dropped,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := stream.Stop(shutdownCtx); err != nil {
		logger.Error("stream stop error", "error", err)
	}
	ticks.Close()

	logger.Info("shutdown complete")
}

func printTicks(ctx context.Context, q *queue.Queue[model.QuoteSnapshot], verbose bool) {
	for {
		tick, ok := q.Pop(ctx)
		if !ok {
			return
		}
		if verbose {
			data, _ := json.MarshalIndent(tick, "", "  ")
			fmt.Printf("[TICK] %s\n", data)
			continue
		}
		fmt.Printf("[TICK] symbol=%s price=%.4f change=%.4f vol=%d at=%s\n",
			tick.Symbol, tick.Price, tick.Change, tick.Volume, tick.Timestamp.Format(time.RFC3339))
	}
}
