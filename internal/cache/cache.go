// Package cache provides the key/TTL store consulted by every read path.
//
// A Redis backend is used when configured and reachable; otherwise, and
// whenever Redis errors at runtime, an in-memory store serves instead.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TTL classes.
const (
	TTLShort  = 300 * time.Second  // live quotes
	TTLMedium = 900 * time.Second  // historical bars
	TTLLong   = 3600 * time.Second // symbol search
)

// Cache is a byte-oriented key/value store with per-entry TTL.
// A read past an entry's TTL is a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) bool
	Close() error
}

// QuoteKey is the key for a live quote.
func QuoteKey(symbol string) string {
	return "market:" + symbol
}

// HistoricalKey is the key for a historical bar series.
func HistoricalKey(symbol, interval string, size int) string {
	return fmt.Sprintf("historical:%s:%s:%d", symbol, interval, size)
}

// SearchKey is the key for a symbol search result.
func SearchKey(query string, limit int) string {
	return fmt.Sprintf("search:%s:%d", strings.ToLower(strings.TrimSpace(query)), limit)
}

// GetJSON reads key and decodes it into v. Undecodable entries are misses.
func GetJSON(ctx context.Context, c Cache, key string, v any) bool {
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
