package engine

import (
	"context"
	"slices"
	"time"

	"github.com/rickgao/quotecore/internal/cache"
	"github.com/rickgao/quotecore/internal/connection"
	"github.com/rickgao/quotecore/internal/database"
	"github.com/rickgao/quotecore/internal/poller"
	"github.com/rickgao/quotecore/internal/publish"
	"github.com/rickgao/quotecore/internal/version"
	"github.com/rickgao/quotecore/internal/writer"
)

// Status is the diagnostic view served on /status.
type Status struct {
	Version     version.Info            `json:"version"`
	Running     bool                    `json:"running"`
	Uptime      string                  `json:"uptime,omitempty"`
	Init        InitResult              `json:"init"`
	Database    database.Status         `json:"database"`
	Cache       string                  `json:"cache"`
	Stream      *connection.StreamStats `json:"stream,omitempty"`
	Registry    RegistryStatus          `json:"registry"`
	Scheduler   SchedulerStatus         `json:"scheduler"`
	Writer      *writer.Stats           `json:"writer,omitempty"`
	Publisher   *publish.Stats          `json:"publisher,omitempty"`
	RateLimiter RateLimiterStatus       `json:"rate_limiter"`
	Config      ConfigSummary           `json:"config"`
}

// RegistryStatus counts live subscriptions.
type RegistryStatus struct {
	Symbols     int `json:"symbols"`
	Subscribers int `json:"subscribers"`
}

// SchedulerStatus reports the update scheduler.
type SchedulerStatus struct {
	Cycles    uint64             `json:"cycles"`
	LastCycle *poller.CycleStats `json:"last_cycle,omitempty"`
}

// RateLimiterStatus reports the remaining upstream call allowance.
type RateLimiterStatus struct {
	Remaining  int    `json:"remaining"`
	RetryAfter string `json:"retry_after,omitempty"`
}

// ConfigSummary is the non-secret subset of the configuration.
type ConfigSummary struct {
	Instance          string   `json:"instance"`
	Database          string   `json:"database"`
	RestURL           string   `json:"rest_url"`
	StreamEnabled     bool     `json:"stream_enabled"`
	SchedulerInterval string   `json:"scheduler_interval"`
	RateLimit         int      `json:"rate_limit_per_minute"`
	CacheAddr         string   `json:"cache_addr,omitempty"`
	WriterEnabled     bool     `json:"writer_enabled"`
	PublisherTopic    string   `json:"publisher_topic,omitempty"`
	Brokers           []string `json:"brokers,omitempty"`
}

// Status returns a point-in-time view of every subsystem.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		Version: version.Get(),
		Running: e.running,
		Init:    InitResult{OK: e.initRes.OK, Degraded: slices.Clone(e.initRes.Degraded)},
	}
	if e.running {
		st.Uptime = time.Since(e.startedAt).Truncate(time.Second).String()
	}
	e.mu.Unlock()

	st.Database = e.db.Status()
	st.Cache = cache.Backend(e.cache)
	st.Registry = RegistryStatus{
		Symbols:     e.registry.Len(),
		Subscribers: e.registry.SubscriberCount(),
	}
	st.Scheduler.Cycles = e.scheduler.Cycles()
	if last, ok := e.scheduler.LastCycle(); ok {
		st.Scheduler.LastCycle = &last
	}
	if e.stream != nil {
		ss := e.stream.Stats()
		st.Stream = &ss
	}
	if e.writer != nil {
		ws := e.writer.Stats()
		st.Writer = &ws
	}
	if e.publisher != nil {
		ps := e.publisher.Stats()
		st.Publisher = &ps
	}
	st.RateLimiter.Remaining = e.limiter.Remaining()
	if d := e.limiter.RetryAfter(); d > 0 {
		st.RateLimiter.RetryAfter = d.String()
	}
	st.Config = e.summary()
	return st
}

func (e *Engine) summary() ConfigSummary {
	db := e.cfg.Database
	s := ConfigSummary{
		Instance:          e.cfg.Instance.ID,
		Database:          db.User + "@" + db.Host + "/" + db.Name,
		RestURL:           e.cfg.Upstream.RestURL,
		StreamEnabled:     e.stream != nil,
		SchedulerInterval: e.cfg.Scheduler.Interval.String(),
		RateLimit:         e.cfg.Upstream.RateLimitPerMinute,
		CacheAddr:         e.cfg.Cache.RedisAddr,
		WriterEnabled:     e.writer != nil,
	}
	if e.publisher != nil {
		s.PublisherTopic = e.cfg.Publisher.Topic
		s.Brokers = slices.Clone(e.cfg.Publisher.Brokers)
	}
	return s
}

// Health checks database and cache connectivity without evicting pools;
// eviction belongs to the background health loop.
func (e *Engine) Health(ctx context.Context) (database.HealthReport, bool) {
	return e.db.ReportConnections(ctx), e.cache.HealthCheck(ctx)
}
