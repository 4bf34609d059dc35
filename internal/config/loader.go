package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a YAML config file and expands environment variables.
// An empty path yields an empty config so the service can run from
// environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config, fills gaps from the environment and applies
// default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies env fallbacks and defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv fills empty fields from environment variables.
func (c *Config) applyEnv(getenv func(string) string) {
	db := &c.Database
	if db.URL == "" {
		db.URL = getenv("DATABASE_URL")
	}
	if db.URL != "" {
		parsed, err := ParseDatabaseURL(db.URL)
		if err != nil {
			c.Warnings = append(c.Warnings,
				fmt.Sprintf("database url ignored, falling back to DB_* variables: %v", err))
		} else {
			mergeDB(db, parsed)
		}
	}

	setString(&db.Host, getenv("DB_HOST"))
	setString(&db.Name, getenv("DB_NAME"))
	setString(&db.User, getenv("DB_USER"))
	setString(&db.Password, getenv("DB_PASSWORD"))
	c.setInt(&db.Port, "DB_PORT", getenv("DB_PORT"))
	c.setInt(&db.MaxConns, "DB_MAX_CONNECTIONS", getenv("DB_MAX_CONNECTIONS"))
	if db.SSLMode == "" {
		if v := getenv("DB_SSL"); v != "" {
			if on, err := strconv.ParseBool(v); err == nil && on {
				db.SSLMode = "require"
			} else if err == nil {
				db.SSLMode = "disable"
			} else {
				c.Warnings = append(c.Warnings, fmt.Sprintf("DB_SSL=%q is not a boolean", v))
			}
		}
	}

	setString(&c.Upstream.APIKey, getenv("TWELVE_DATA_API_KEY"))
	setString(&c.Upstream.RestURL, getenv("TWELVE_DATA_REST_URL"))
	setString(&c.Upstream.WSURL, getenv("TWELVE_DATA_WS_URL"))

	if c.Cache.RedisAddr == "" {
		if host := getenv("REDIS_HOST"); host != "" {
			port := getenv("REDIS_PORT")
			if port == "" {
				port = "6379"
			}
			c.Cache.RedisAddr = host + ":" + port
		}
	}
	setString(&c.Cache.RedisPassword, getenv("REDIS_PASSWORD"))
	setString(&c.Cache.KeyPrefix, getenv("REDIS_KEY_PREFIX"))
	c.setInt(&c.Cache.RedisDB, "REDIS_DB", getenv("REDIS_DB"))

	if len(c.Publisher.Brokers) == 0 {
		if v := getenv("KAFKA_BROKERS"); v != "" {
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.Publisher.Brokers = append(c.Publisher.Brokers, b)
				}
			}
		}
	}
}

// ParseDatabaseURL parses a postgres:// URL into discrete fields.
func ParseDatabaseURL(raw string) (DBConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return DBConfig{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DBConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return DBConfig{}, errors.New("missing host")
	}

	db := DBConfig{
		Host: u.Hostname(),
		Name: strings.TrimPrefix(u.Path, "/"),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return DBConfig{}, fmt.Errorf("invalid port %q", p)
		}
		db.Port = port
	}
	if u.User != nil {
		db.User = u.User.Username()
		db.Password, _ = u.User.Password()
	}

	q := u.Query()
	switch {
	case q.Get("sslmode") != "":
		db.SSLMode = q.Get("sslmode")
	case q.Get("ssl") == "true":
		db.SSLMode = "require"
	}

	return db, nil
}

// mergeDB copies parsed URL fields over the discrete ones.
func mergeDB(dst *DBConfig, src DBConfig) {
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.User != "" {
		dst.User = src.User
	}
	if src.Password != "" {
		dst.Password = src.Password
	}
	if src.SSLMode != "" {
		dst.SSLMode = src.SSLMode
	}
}

func setString(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func (c *Config) setInt(dst *int, name, v string) {
	if *dst != 0 || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not an integer", name, v))
		return
	}
	*dst = n
}
