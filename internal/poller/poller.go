package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/quotecore/internal/market"
	"github.com/rickgao/quotecore/internal/metrics"
	"github.com/rickgao/quotecore/internal/model"
)

//go:generate mockgen -package=poller -destination=mock_poller_test.go -source=poller.go

// QuoteSource fetches fresh quotes for a batch of symbols.
type QuoteSource interface {
	RefreshQuotes(ctx context.Context, symbols []string) (map[string]model.QuoteSnapshot, error)
}

// SymbolSource provides the symbols due for a refresh. Symbols updated by
// the stream within window are left out.
type SymbolSource interface {
	DueSymbols(window time.Duration) []string
}

// SnapshotHandler receives fetched snapshots.
type SnapshotHandler interface {
	HandleSnapshot(snapshot model.QuoteSnapshot) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(model.QuoteSnapshot) error

func (f SnapshotHandlerFunc) HandleSnapshot(s model.QuoteSnapshot) error {
	return f(s)
}

// Config holds scheduler configuration.
type Config struct {
	Interval    time.Duration // Tick interval (default: 5s)
	BatchSize   int           // Symbols per upstream call (default: 120)
	Concurrency int           // Max concurrent batches (default: 2)
	Timeout     time.Duration // Per-batch timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		BatchSize:   120,
		Concurrency: 2,
		Timeout:     5 * time.Second,
	}
}

// CycleStats summarizes one scheduler tick.
type CycleStats struct {
	Symbols     int
	Batches     int
	Delivered   int64
	Missing     int64
	Failed      int64
	RateLimited int64
	Duration    time.Duration
}

// Poller periodically refreshes subscribed symbols via the REST API.
type Poller struct {
	cfg     Config
	quotes  QuoteSource
	symbols SymbolSource
	handler SnapshotHandler
	logger  *slog.Logger

	cycles atomic.Uint64
	last   atomic.Pointer[CycleStats]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. Zero config fields take the defaults.
func New(cfg Config, quotes QuoteSource, symbols SymbolSource, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		quotes:  quotes,
		symbols: symbols,
		handler: handler,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start begins the scheduling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("update scheduler started",
		"interval", p.cfg.Interval,
		"batch_size", p.cfg.BatchSize,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the scheduler.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("update scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cycles returns the number of completed ticks.
func (p *Poller) Cycles() uint64 {
	return p.cycles.Load()
}

// LastCycle returns the stats of the most recent tick, if any.
func (p *Poller) LastCycle() (CycleStats, bool) {
	s := p.last.Load()
	if s == nil {
		return CycleStats{}, false
	}
	return *s, true
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll refreshes every due symbol in batches with bounded concurrency.
func (p *Poller) pollAll() CycleStats {
	start := time.Now()
	defer p.cycles.Add(1)

	symbols := p.symbols.DueSymbols(p.cfg.Interval)
	if len(symbols) == 0 {
		metrics.SchedulerCycles.WithLabelValues("idle").Inc()
		stats := CycleStats{}
		p.last.Store(&stats)
		return stats
	}

	batches := chunk(symbols, p.cfg.BatchSize)

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var delivered, missing, failed, limited atomic.Int64

	for _, batch := range batches {
		wg.Add(1)
		go func(batch []string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			got, err := p.pollBatch(batch)
			switch {
			case errors.Is(err, market.ErrRateLimited):
				limited.Add(1)
			case err != nil:
				p.logger.Warn("failed to refresh batch", "symbols", len(batch), "error", err)
				failed.Add(1)
			}
			delivered.Add(int64(got))
			missing.Add(int64(len(batch) - got))
		}(batch)
	}

	wg.Wait()

	stats := CycleStats{
		Symbols:     len(symbols),
		Batches:     len(batches),
		Delivered:   delivered.Load(),
		Missing:     missing.Load(),
		Failed:      failed.Load(),
		RateLimited: limited.Load(),
		Duration:    time.Since(start),
	}
	p.last.Store(&stats)

	outcome := "ok"
	switch {
	case stats.RateLimited > 0:
		outcome = "rate_limited"
	case stats.Failed > 0:
		outcome = "error"
	}
	metrics.SchedulerCycles.WithLabelValues(outcome).Inc()

	level := slog.LevelDebug
	if outcome != "ok" {
		level = slog.LevelInfo
	}
	p.logger.Log(p.ctx, level, "update cycle complete",
		"symbols", stats.Symbols,
		"batches", stats.Batches,
		"delivered", stats.Delivered,
		"missing", stats.Missing,
		"rate_limited", stats.RateLimited,
		"duration", stats.Duration,
	)
	return stats
}

// pollBatch fetches one batch and hands every returned snapshot to the
// handler. It returns the number handed off; partial results are delivered
// even when err is non-nil.
func (p *Poller) pollBatch(symbols []string) (int, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	quotes, err := p.quotes.RefreshQuotes(ctx, symbols)

	n := 0
	for _, sym := range symbols {
		snap, ok := quotes[sym]
		if !ok {
			continue
		}
		if p.handler != nil {
			if herr := p.handler.HandleSnapshot(snap); herr != nil {
				p.logger.Warn("snapshot handler failed", "symbol", sym, "error", herr)
				continue
			}
		}
		n++
	}
	return n, err
}

func chunk(symbols []string, size int) [][]string {
	var out [][]string
	for len(symbols) > size {
		out = append(out, symbols[:size:size])
		symbols = symbols[size:]
	}
	if len(symbols) > 0 {
		out = append(out, symbols)
	}
	return out
}
