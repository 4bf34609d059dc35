package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"github.com/rickgao/quotecore/internal/api"
	"github.com/rickgao/quotecore/internal/cache"
	"github.com/rickgao/quotecore/internal/config"
	"github.com/rickgao/quotecore/internal/connection"
	"github.com/rickgao/quotecore/internal/database"
	"github.com/rickgao/quotecore/internal/market"
	"github.com/rickgao/quotecore/internal/model"
	"github.com/rickgao/quotecore/internal/poller"
	"github.com/rickgao/quotecore/internal/publish"
	"github.com/rickgao/quotecore/internal/ratelimit"
	"github.com/rickgao/quotecore/internal/subscription"
	"github.com/rickgao/quotecore/internal/writer"
)

// Subsystems reported in InitResult.Degraded besides the database ones.
const (
	SubsystemStream = "stream"
	SubsystemCache  = "cache"
)

const (
	primeTimeout      = 5 * time.Second
	cacheWriteTimeout = time.Second
)

// ErrNotStarted is returned by Subscribe before Start or after Stop.
var ErrNotStarted = errors.New("engine not running")

// InitResult reports startup outcome. Degraded lists subsystems running in
// a reduced mode; startup never fails because of them.
type InitResult struct {
	OK       bool     `json:"ok"`
	Degraded []string `json:"degraded,omitempty"`
}

// Subscription is a live subscription handle. Updates delivers snapshots
// until Unsubscribe.
type Subscription struct {
	*subscription.Subscriber
}

// Engine is the market data distribution engine.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	db          *database.Manager
	cache       cache.Cache
	upstream    market.Upstream
	limiter     *ratelimit.Limiter
	market      *market.Service
	registry    *subscription.Registry
	scheduler   *poller.Poller
	stream      *connection.Stream
	writer      *writer.SnapshotWriter
	kafkaWriter publish.KafkaWriter
	publisher   *publish.Publisher

	mu        sync.Mutex
	running   bool
	stopped   bool
	startedAt time.Time
	initRes   InitResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine from cfg. Nothing connects until Start.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cache == nil {
		e.cache = cache.New(ctx, cfg.Cache, logger)
	}
	if e.upstream == nil {
		e.upstream = api.NewClient(
			cfg.Upstream.RestURL,
			cfg.Upstream.APIKey,
			api.WithLogger(logger),
			api.WithTimeout(cfg.Upstream.Timeout),
			api.WithRetries(cfg.Upstream.MaxRetries, 250*time.Millisecond),
		)
	}

	e.db = database.NewManager(cfg.Database, logger)
	e.limiter = ratelimit.NewPerMinute(cfg.Upstream.RateLimitPerMinute)
	e.market = market.NewService(market.Config{
		CallTimeout:   cfg.Upstream.Timeout,
		QuoteTTL:      cfg.Cache.ShortTTL,
		HistoricalTTL: cfg.Cache.MediumTTL,
		SearchTTL:     cfg.Cache.LongTTL,
	}, e.upstream, e.cache, e.limiter, logger)
	e.registry = subscription.NewRegistry(cfg.Subscribers.BufferSize, logger)

	e.scheduler = poller.New(poller.Config{
		Interval:    cfg.Scheduler.Interval,
		BatchSize:   cfg.Scheduler.BatchSize,
		Concurrency: cfg.Scheduler.Concurrency,
		Timeout:     cfg.Upstream.Timeout,
	}, e.market, e.registry, poller.SnapshotHandlerFunc(e.handleSnapshot), logger)

	if !cfg.Stream.Disabled {
		e.stream = connection.NewStream(connection.StreamConfig{
			Client: connection.ClientConfig{
				URL:    cfg.Upstream.WSURL,
				APIKey: cfg.Upstream.APIKey,
			},
			HeartbeatInterval:    cfg.Stream.HeartbeatInterval,
			HeartbeatTimeout:     cfg.Stream.HeartbeatTimeout,
			ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
			ReconnectMaxDelay:    cfg.Stream.ReconnectMaxDelay,
			MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		}, e.registry, e.handleTick, logger)
		e.stream.OnStateChange(func(from, to connection.State) {
			if to == connection.StateFailed {
				e.logger.Error("stream failed, call RestartStream to resume", "from", from)
			}
		})
	}

	if !cfg.Writer.Disabled {
		e.writer = writer.NewSnapshotWriter(writer.Config{
			BatchSize:       cfg.Writer.BatchSize,
			FlushInterval:   cfg.Writer.FlushInterval,
			BufferSize:      cfg.Writer.BufferSize,
			PersistInterval: cfg.Writer.PersistInterval,
		}, e.tenantBatchSender, logger)
	}

	pubCfg := publish.Config{
		Brokers:    cfg.Publisher.Brokers,
		Topic:      cfg.Publisher.Topic,
		BufferSize: cfg.Publisher.BufferSize,
	}
	if e.kafkaWriter == nil && pubCfg.Enabled() {
		e.kafkaWriter = publish.NewKafkaWriter(pubCfg)
	}
	if e.kafkaWriter != nil {
		e.publisher = publish.New(pubCfg, e.kafkaWriter, cfg.Instance.ID, logger)
	}

	return e, nil
}

// Start initializes the database and launches every worker. It only returns
// an error if the engine was already started or stopped; unavailable
// dependencies are reported through InitResult.
func (e *Engine) Start(ctx context.Context) (InitResult, error) {
	e.mu.Lock()
	if e.running || e.stopped {
		e.mu.Unlock()
		return InitResult{}, errors.New("engine already started")
	}
	e.running = true
	e.startedAt = time.Now()
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	dbRes := e.db.Initialize(ctx)
	degraded := append([]string(nil), dbRes.Degraded...)

	if err := e.db.Start(e.ctx); err != nil {
		e.logger.Error("database health loop failed to start", "error", err)
	}

	if c := cache.Backend(e.cache); e.cfg.Cache.RedisAddr != "" && c != "redis" {
		degraded = append(degraded, SubsystemCache)
	}

	if e.writer != nil {
		if err := e.writer.Start(e.ctx); err != nil {
			e.logger.Error("snapshot writer failed to start", "error", err)
		}
	}
	if e.publisher != nil {
		if err := e.publisher.Start(e.ctx); err != nil {
			e.logger.Error("snapshot publisher failed to start", "error", err)
		}
	}
	if err := e.scheduler.Start(e.ctx); err != nil {
		e.logger.Error("update scheduler failed to start", "error", err)
	}
	if e.stream != nil {
		if err := e.stream.Start(e.ctx); err != nil {
			e.logger.Warn("streaming disabled", "error", err)
			degraded = append(degraded, SubsystemStream)
		}
	}

	res := InitResult{OK: len(degraded) == 0, Degraded: degraded}
	e.mu.Lock()
	e.initRes = res
	e.mu.Unlock()

	e.logger.Info("engine started",
		"ok", res.OK,
		"degraded", res.Degraded,
		"cache", cache.Backend(e.cache),
	)
	return res, nil
}

// Stop shuts every worker down in reverse dependency order: ingestion
// first, then fan-out, then persistence, then pools. An engine that was
// never started still releases its cache and database manager.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	if !e.running {
		e.stopped = true
		e.mu.Unlock()
		return errors.Join(e.db.Shutdown(ctx), e.cache.Close())
	}
	e.running = false
	e.stopped = true
	e.mu.Unlock()

	e.logger.Info("stopping engine")

	var errs []error
	if e.stream != nil {
		errs = append(errs, e.stream.Stop(ctx))
	}
	errs = append(errs, e.scheduler.Stop(ctx))

	e.cancel()
	e.wg.Wait()
	e.registry.Close()

	if e.writer != nil {
		errs = append(errs, e.writer.Stop(ctx))
	}
	if e.publisher != nil {
		errs = append(errs, e.publisher.Stop(ctx))
	}
	errs = append(errs, e.db.Shutdown(ctx))
	errs = append(errs, e.cache.Close())

	err := errors.Join(errs...)
	if err != nil {
		e.logger.Warn("engine stopped with errors", "error", err)
	} else {
		e.logger.Info("engine stopped")
	}
	return err
}

// Subscribe registers interest in symbol for tenantID and primes the new
// subscriber with the cached or freshly fetched quote in the background.
func (e *Engine) Subscribe(ctx context.Context, symbol, tenantID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	e.wg.Add(1)
	e.mu.Unlock()

	sub, err := e.registry.Subscribe(symbol, tenantID)
	if err != nil {
		e.wg.Done()
		return nil, err
	}

	go e.prime(sub)

	return &Subscription{Subscriber: sub}, nil
}

// Unsubscribe removes the subscription and closes its update channel.
func (e *Engine) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	e.registry.Unsubscribe(s.Subscriber)
}

func (e *Engine) prime(sub *subscription.Subscriber) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(e.ctx, primeTimeout)
	defer cancel()

	snap, err := e.market.GetQuote(ctx, sub.Symbol())
	if err != nil {
		e.logger.Debug("subscription not primed", "symbol", sub.Symbol(), "error", err)
		return
	}
	if snap == nil {
		return
	}
	e.registry.Prime(sub, *snap)
}

// handleSnapshot receives scheduler results. The market service has already
// refreshed the cache.
func (e *Engine) handleSnapshot(snap model.QuoteSnapshot) error {
	e.dispatch(snap)
	return nil
}

// handleTick receives stream ticks.
func (e *Engine) handleTick(snap model.QuoteSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	e.market.CacheQuote(ctx, snap)
	cancel()

	e.dispatch(snap)
}

// dispatch fans snap out to subscribers, then persists it once per
// subscribed tenant and exports it.
func (e *Engine) dispatch(snap model.QuoteSnapshot) {
	d, ok := e.registry.Publish(snap)
	if !ok {
		return
	}
	if e.writer != nil {
		for _, tenant := range d.Tenants {
			e.writer.Enqueue(tenant, d.Snapshot)
		}
	}
	if e.publisher != nil {
		e.publisher.Publish(d.Snapshot)
	}
}

func (e *Engine) tenantBatchSender(ctx context.Context, tenantID string) (writer.BatchSender, error) {
	pool, err := e.db.Pool(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// GetQuote returns a cache-first quote. A nil snapshot with nil error means
// no data is available right now.
func (e *Engine) GetQuote(ctx context.Context, symbol string) (*model.QuoteSnapshot, error) {
	return e.market.GetQuote(ctx, symbol)
}

// GetQuotes returns cache-first quotes for several symbols.
func (e *Engine) GetQuotes(ctx context.Context, symbols []string) (map[string]model.QuoteSnapshot, error) {
	return e.market.GetQuotes(ctx, symbols)
}

// GetPrice returns an uncached price-only snapshot.
func (e *Engine) GetPrice(ctx context.Context, symbol string) (*model.QuoteSnapshot, error) {
	return e.market.GetPrice(ctx, symbol)
}

// GetHistorical returns OHLCV bars, oldest first.
func (e *Engine) GetHistorical(ctx context.Context, symbol, interval string, size int) ([]model.HistoricalBar, error) {
	return e.market.GetHistorical(ctx, symbol, interval, size)
}

// SearchSymbols returns symbol matches for query.
func (e *Engine) SearchSymbols(ctx context.Context, query string, limit int) ([]model.SymbolMatch, error) {
	return e.market.SearchSymbols(ctx, query, limit)
}

// Pool returns the connection pool bound to tenantID's schema.
func (e *Engine) Pool(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	return e.db.Pool(ctx, tenantID)
}

// Database returns a gorm handle bound to tenantID's schema.
func (e *Engine) Database(ctx context.Context, tenantID string) (*gorm.DB, error) {
	return e.db.Database(ctx, tenantID)
}

// TenantTx runs fn in a transaction on tenantID's pool.
func (e *Engine) TenantTx(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	return e.db.TenantTx(ctx, tenantID, fn)
}

// CreateTenant registers a tenant and provisions its schema.
func (e *Engine) CreateTenant(ctx context.Context, tenantID, name string) (model.TenantRecord, error) {
	return e.db.CreateTenant(ctx, tenantID, name)
}

// DeactivateTenant soft-deletes a tenant and closes its pool.
func (e *Engine) DeactivateTenant(ctx context.Context, tenantID string) error {
	return e.db.DeactivateTenant(ctx, tenantID)
}

// ListTenants returns every registered tenant.
func (e *Engine) ListTenants(ctx context.Context) ([]model.TenantRecord, error) {
	return e.db.ListTenants(ctx)
}

// RestartStream clears the stream's attempt counter and reconnects. It
// reports false when streaming is disabled.
func (e *Engine) RestartStream() bool {
	if e.stream == nil {
		return false
	}
	e.stream.Restart()
	return true
}
