package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "quotecore"
	DefaultDBHost               = "localhost"
	DefaultDBPort               = 5432
	DefaultDBName               = "renx_db"
	DefaultDBUser               = "renx_admin"
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 20
	DefaultTenantMaxConns       = 10
	DefaultConnectTimeout       = 2 * time.Second
	DefaultHealthInterval       = 5 * time.Minute
	DefaultRestURL              = "https://api.twelvedata.com"
	DefaultWSURL                = "wss://ws.twelvedata.com/v1/quotes/price"
	DefaultUpstreamTimeout      = 5 * time.Second
	DefaultMaxRetries           = 1
	DefaultRateLimitPerMinute   = 60
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatTimeout     = 75 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultSchedulerInterval    = 5 * time.Second
	DefaultSchedulerBatchSize   = 120
	DefaultSchedulerConcurrency = 2
	DefaultCacheKeyPrefix       = "renx:"
	DefaultShortTTL             = 300 * time.Second
	DefaultMediumTTL            = 900 * time.Second
	DefaultLongTTL              = 3600 * time.Second
	DefaultSubscriberBuffer     = 16
	DefaultWriterBatchSize      = 500
	DefaultWriterFlushInterval  = 2 * time.Second
	DefaultWriterBufferSize     = 1024
	DefaultPersistInterval      = time.Minute
	DefaultPublisherTopic       = "quotes.snapshots"
	DefaultPublisherBuffer      = 4096
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Database defaults
	db := &c.Database
	if db.Host == "" {
		db.Host = DefaultDBHost
	}
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.Name == "" {
		db.Name = DefaultDBName
	}
	if db.User == "" {
		db.User = DefaultDBUser
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.TenantMaxConns == 0 {
		db.TenantMaxConns = DefaultTenantMaxConns
	}
	if db.ConnectTimeout == 0 {
		db.ConnectTimeout = DefaultConnectTimeout
	}
	if db.HealthInterval == 0 {
		db.HealthInterval = DefaultHealthInterval
	}

	// Upstream defaults
	if c.Upstream.RestURL == "" {
		c.Upstream.RestURL = DefaultRestURL
	}
	if c.Upstream.WSURL == "" {
		c.Upstream.WSURL = DefaultWSURL
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = DefaultMaxRetries
	}
	if c.Upstream.RateLimitPerMinute == 0 {
		c.Upstream.RateLimitPerMinute = DefaultRateLimitPerMinute
	}

	// Stream defaults
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Stream.HeartbeatTimeout == 0 {
		c.Stream.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	// Scheduler defaults
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = DefaultSchedulerInterval
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = DefaultSchedulerBatchSize
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = DefaultSchedulerConcurrency
	}

	// Cache defaults
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}
	if c.Cache.ShortTTL == 0 {
		c.Cache.ShortTTL = DefaultShortTTL
	}
	if c.Cache.MediumTTL == 0 {
		c.Cache.MediumTTL = DefaultMediumTTL
	}
	if c.Cache.LongTTL == 0 {
		c.Cache.LongTTL = DefaultLongTTL
	}

	if c.Subscribers.BufferSize == 0 {
		c.Subscribers.BufferSize = DefaultSubscriberBuffer
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultWriterBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultWriterFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultWriterBufferSize
	}
	if c.Writer.PersistInterval == 0 {
		c.Writer.PersistInterval = DefaultPersistInterval
	}

	// Publisher defaults
	if c.Publisher.Topic == "" {
		c.Publisher.Topic = DefaultPublisherTopic
	}
	if c.Publisher.BufferSize == 0 {
		c.Publisher.BufferSize = DefaultPublisherBuffer
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
