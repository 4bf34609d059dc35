package market

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/quotecore/internal/api"
	"github.com/rickgao/quotecore/internal/cache"
	"github.com/rickgao/quotecore/internal/metrics"
	"github.com/rickgao/quotecore/internal/model"
)

// ErrRateLimited is returned when the local rate limiter rejects a call.
var ErrRateLimited = errors.New("upstream rate limit reached, try later")

// Upstream is the provider REST surface used by the service.
type Upstream interface {
	GetQuote(ctx context.Context, symbol string) (*api.QuoteResponse, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]api.QuoteResponse, error)
	GetPrice(ctx context.Context, symbol string) (*api.PriceResponse, error)
	GetTimeSeries(ctx context.Context, symbol string, opts api.TimeSeriesOptions) (*api.TimeSeriesResponse, error)
	SymbolSearch(ctx context.Context, query string, limit int) ([]api.APISymbol, error)
}

// Limiter gates upstream calls.
type Limiter interface {
	Allow() bool
}

// Config holds service settings.
type Config struct {
	CallTimeout   time.Duration
	QuoteTTL      time.Duration
	HistoricalTTL time.Duration
	SearchTTL     time.Duration
}

// DefaultConfig returns the standard TTL classes and a 5s call timeout.
func DefaultConfig() Config {
	return Config{
		CallTimeout:   5 * time.Second,
		QuoteTTL:      cache.TTLShort,
		HistoricalTTL: cache.TTLMedium,
		SearchTTL:     cache.TTLLong,
	}
}

// Service is the cache-first read path to the provider.
type Service struct {
	cfg      Config
	upstream Upstream
	cache    cache.Cache
	limiter  Limiter
	logger   *slog.Logger
	now      func() time.Time

	// Collapses concurrent misses for the same key into one upstream call.
	calls singleflight.Group
}

// NewService creates a Service.
func NewService(cfg Config, upstream Upstream, c cache.Cache, limiter Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = def.QuoteTTL
	}
	if cfg.HistoricalTTL <= 0 {
		cfg.HistoricalTTL = def.HistoricalTTL
	}
	if cfg.SearchTTL <= 0 {
		cfg.SearchTTL = def.SearchTTL
	}
	return &Service{
		cfg:      cfg,
		upstream: upstream,
		cache:    c,
		limiter:  limiter,
		logger:   logger.With("component", "market"),
		now:      time.Now,
	}
}

// allow consults the limiter, recording rejections.
func (s *Service) allow(endpoint string) bool {
	if s.limiter == nil || s.limiter.Allow() {
		return true
	}
	metrics.RateLimitRejections.Inc()
	metrics.UpstreamRequests.WithLabelValues(endpoint, "rate_limited").Inc()
	s.logger.Warn("upstream call rate limited", "endpoint", endpoint)
	return false
}

// shared runs fn once for every concurrent caller asking for key. fn gets a
// context bounded by CallTimeout that no single caller can cancel; each
// caller stops waiting when its own ctx ends.
func (s *Service) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.calls.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
		defer cancel()
		return fn(callCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetQuote returns the quote for symbol, or nil when none is available. It
// returns ctx.Err() if ctx ends before a shared upstream fetch completes.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*model.QuoteSnapshot, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, nil
	}

	if snap, ok := s.CachedQuote(ctx, symbol); ok {
		return snap, nil
	}

	v, err := s.shared(ctx, cache.QuoteKey(symbol), func(callCtx context.Context) (any, error) {
		if !s.allow("quote") {
			return nil, ErrRateLimited
		}

		resp, err := s.upstream.GetQuote(callCtx, symbol)
		if err != nil {
			s.logger.Error("fetch quote failed", "symbol", symbol, "error", err)
			return (*model.QuoteSnapshot)(nil), nil
		}
		snap, err := resp.ToSnapshot(s.now())
		if err != nil {
			s.logger.Warn("discarding malformed quote", "symbol", symbol, "error", err)
			return (*model.QuoteSnapshot)(nil), nil
		}
		s.storeQuote(callCtx, snap)
		return &snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.QuoteSnapshot), nil
}

// GetQuotes returns quotes for symbols, serving hits from the cache and
// fetching all misses in one upstream call. On ErrRateLimited the cached
// subset is still returned.
func (s *Service) GetQuotes(ctx context.Context, symbols []string) (map[string]model.QuoteSnapshot, error) {
	out := make(map[string]model.QuoteSnapshot, len(symbols))
	var misses []string
	for _, sym := range normalizeAll(symbols) {
		if snap, ok := s.CachedQuote(ctx, sym); ok {
			out[sym] = *snap
			continue
		}
		misses = append(misses, sym)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fresh, err := s.fetchQuotes(ctx, misses)
	for sym, snap := range fresh {
		out[sym] = snap
	}
	return out, err
}

// RefreshQuotes fetches symbols from upstream without consulting the cache
// and stores the results. Symbols absent from the response are omitted.
func (s *Service) RefreshQuotes(ctx context.Context, symbols []string) (map[string]model.QuoteSnapshot, error) {
	return s.fetchQuotes(ctx, normalizeAll(symbols))
}

func (s *Service) fetchQuotes(ctx context.Context, symbols []string) (map[string]model.QuoteSnapshot, error) {
	out := make(map[string]model.QuoteSnapshot, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	if !s.allow("quote") {
		return out, ErrRateLimited
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	resp, err := s.upstream.GetQuotes(callCtx, symbols)
	if err != nil {
		s.logger.Error("fetch quotes failed", "symbols", len(symbols), "error", err)
		return out, nil
	}

	now := s.now()
	for key, q := range resp {
		if q.Symbol == "" {
			q.Symbol = key
		}
		snap, err := q.ToSnapshot(now)
		if err != nil {
			s.logger.Warn("discarding malformed quote", "symbol", key, "error", err)
			continue
		}
		s.storeQuote(ctx, snap)
		out[snap.Symbol] = snap
	}
	return out, nil
}

// GetPrice returns a price-only snapshot straight from upstream. The result
// is not cached since it lacks the change and volume fields.
func (s *Service) GetPrice(ctx context.Context, symbol string) (*model.QuoteSnapshot, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, nil
	}
	if !s.allow("price") {
		return nil, ErrRateLimited
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	resp, err := s.upstream.GetPrice(callCtx, symbol)
	if err != nil {
		s.logger.Error("fetch price failed", "symbol", symbol, "error", err)
		return nil, nil
	}
	snap, err := resp.ToSnapshot(symbol, s.now())
	if err != nil {
		s.logger.Warn("discarding malformed price", "symbol", symbol, "error", err)
		return nil, nil
	}
	return &snap, nil
}

// GetHistorical returns up to size bars at interval, oldest first.
func (s *Service) GetHistorical(ctx context.Context, symbol, interval string, size int) ([]model.HistoricalBar, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, nil
	}
	if interval == "" {
		interval = "1day"
	}
	if size <= 0 {
		size = 30
	}

	key := cache.HistoricalKey(symbol, interval, size)
	var bars []model.HistoricalBar
	if cache.GetJSON(ctx, s.cache, key, &bars) {
		return bars, nil
	}

	v, err := s.shared(ctx, key, func(callCtx context.Context) (any, error) {
		if !s.allow("time_series") {
			return nil, ErrRateLimited
		}

		resp, err := s.upstream.GetTimeSeries(callCtx, symbol, api.TimeSeriesOptions{Interval: interval, OutputSize: size})
		if err != nil {
			s.logger.Error("fetch historical failed", "symbol", symbol, "interval", interval, "error", err)
			return []model.HistoricalBar(nil), nil
		}
		bars := resp.Bars()
		if len(bars) > 0 {
			s.store(callCtx, key, bars, s.cfg.HistoricalTTL)
		}
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.HistoricalBar), nil
}

// SearchSymbols returns up to limit instruments matching query.
func (s *Service) SearchSymbols(ctx context.Context, query string, limit int) ([]model.SymbolMatch, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	key := cache.SearchKey(query, limit)
	var matches []model.SymbolMatch
	if cache.GetJSON(ctx, s.cache, key, &matches) {
		return matches, nil
	}

	v, err := s.shared(ctx, key, func(callCtx context.Context) (any, error) {
		if !s.allow("symbol_search") {
			return nil, ErrRateLimited
		}

		found, err := s.upstream.SymbolSearch(callCtx, query, limit)
		if err != nil {
			s.logger.Error("symbol search failed", "query", query, "error", err)
			return []model.SymbolMatch(nil), nil
		}
		matches := make([]model.SymbolMatch, 0, len(found))
		for i := range found {
			matches = append(matches, found[i].ToModel())
		}
		if len(matches) > 0 {
			s.store(callCtx, key, matches, s.cfg.SearchTTL)
		}
		return matches, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.SymbolMatch), nil
}

// CachedQuote returns the cached quote for symbol without calling upstream.
func (s *Service) CachedQuote(ctx context.Context, symbol string) (*model.QuoteSnapshot, bool) {
	var snap model.QuoteSnapshot
	if !cache.GetJSON(ctx, s.cache, cache.QuoteKey(model.NormalizeSymbol(symbol)), &snap) {
		return nil, false
	}
	return &snap, true
}

// CacheQuote stores a snapshot from another ingestion path, such as the
// stream, under the live quote key.
func (s *Service) CacheQuote(ctx context.Context, snap model.QuoteSnapshot) {
	s.storeQuote(ctx, snap)
}

func (s *Service) storeQuote(ctx context.Context, snap model.QuoteSnapshot) {
	s.store(ctx, cache.QuoteKey(snap.Symbol), snap, s.cfg.QuoteTTL)
}

func (s *Service) store(ctx context.Context, key string, v any, ttl time.Duration) {
	if err := cache.SetJSON(ctx, s.cache, key, v, ttl); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// normalizeAll upper-cases and de-duplicates symbols, dropping empties.
func normalizeAll(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = model.NormalizeSymbol(sym)
		if sym != "" && !slices.Contains(out, sym) {
			out = append(out, sym)
		}
	}
	return out
}
