package config

import "time"

// Config is the root configuration for a quotecore instance.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Database    DBConfig          `yaml:"database"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Stream      StreamConfig      `yaml:"stream"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Cache       CacheConfig       `yaml:"cache"`
	Subscribers SubscribersConfig `yaml:"subscribers"`
	Writer      WriterConfig      `yaml:"writer"`
	Publisher   PublisherConfig   `yaml:"publisher"`
	Metrics     MetricsConfig     `yaml:"metrics"`

	// Warnings collects non-fatal problems found while loading
	// (e.g. a malformed DATABASE_URL that was replaced by DB_* variables).
	Warnings []string `yaml:"-"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// DBConfig holds the relational database connection.
type DBConfig struct {
	URL            string        `yaml:"url"` // Overrides the discrete fields when well-formed
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Name           string        `yaml:"name"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	SSLMode        string        `yaml:"ssl_mode"`
	MaxConns       int           `yaml:"max_conns"`
	MinConns       int           `yaml:"min_conns"`
	TenantMaxConns int           `yaml:"tenant_max_conns"` // Upper bound per tenant pool
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// UpstreamConfig holds market data provider settings.
type UpstreamConfig struct {
	RestURL            string        `yaml:"rest_url"`
	WSURL              string        `yaml:"ws_url"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
}

// StreamConfig holds streaming channel settings.
type StreamConfig struct {
	Disabled             bool          `yaml:"disabled"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// SchedulerConfig holds periodic update settings.
type SchedulerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
}

// CacheConfig holds cache backend settings. An empty RedisAddr selects the
// in-memory cache.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	ShortTTL      time.Duration `yaml:"short_ttl"`
	MediumTTL     time.Duration `yaml:"medium_ttl"`
	LongTTL       time.Duration `yaml:"long_ttl"`
}

// SubscribersConfig holds fan-out settings.
type SubscribersConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// WriterConfig holds snapshot persistence settings.
type WriterConfig struct {
	Disabled        bool          `yaml:"disabled"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	BufferSize      int           `yaml:"buffer_size"`
	PersistInterval time.Duration `yaml:"persist_interval"`
}

// PublisherConfig holds Kafka export settings. No brokers disables it.
type PublisherConfig struct {
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	BufferSize int      `yaml:"buffer_size"`
}

// MetricsConfig holds health/metrics server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
