package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/rickgao/quotecore/internal/metrics"
)

// DefaultJanitorInterval is how often expired memory entries are purged.
const DefaultJanitorInterval = time.Minute

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process cache. Expired entries are misses immediately and
// are purged by a background janitor.
type Memory struct {
	now func() time.Time

	mu    sync.RWMutex
	items map[string]memEntry

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewMemory creates a memory cache and starts its janitor. A non-positive
// interval disables the janitor.
func NewMemory(janitorInterval time.Duration) *Memory {
	m := &Memory{
		now:   time.Now,
		items: make(map[string]memEntry),
		stop:  make(chan struct{}),
	}
	if janitorInterval > 0 {
		m.wg.Add(1)
		go m.janitor(janitorInterval)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || !m.now().Before(e.expiresAt) {
		metrics.CacheRequests.WithLabelValues("memory", "miss").Inc()
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues("memory", "hit").Inc()
	return bytes.Clone(e.value), true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLShort
	}
	m.mu.Lock()
	m.items[key] = memEntry{value: bytes.Clone(value), expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) HealthCheck(context.Context) bool { return true }

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Purge removes expired entries and returns how many were removed.
func (m *Memory) Purge() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, e := range m.items {
		if !now.Before(e.expiresAt) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

// Close stops the janitor.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
	return nil
}

func (m *Memory) janitor(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Purge()
		}
	}
}
