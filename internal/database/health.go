package database

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/quotecore/internal/metrics"
	"github.com/rickgao/quotecore/internal/model"
)

// HealthStatus summarizes a health check.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// PoolHealth is the liveness result for one pool.
type PoolHealth struct {
	Tenant  string `json:"tenant"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthReport is the result of CheckConnections.
type HealthReport struct {
	Status    HealthStatus `json:"status"`
	Default   PoolHealth   `json:"default"`
	Tenants   []PoolHealth `json:"tenants,omitempty"`
	Evicted   []string     `json:"evicted,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// CheckConnections runs a liveness query on the default pool and every
// tenant pool concurrently. Unhealthy tenant pools are evicted so the next
// Pool call recreates them; failures never affect other tenants. The report
// becomes Status().LastHealth.
func (m *Manager) CheckConnections(ctx context.Context) HealthReport {
	return m.checkConnections(ctx, true)
}

// ReportConnections runs the same liveness queries as CheckConnections
// without evicting pools or touching LastHealth. It backs request-driven
// health endpoints.
func (m *Manager) ReportConnections(ctx context.Context) HealthReport {
	return m.checkConnections(ctx, false)
}

func (m *Manager) checkConnections(ctx context.Context, evict bool) HealthReport {
	m.mu.RLock()
	def := m.defaultPool
	isolationDegraded := !m.isolation
	pools := make(map[string]*pgxpool.Pool, len(m.tenantPools))
	for id, tp := range m.tenantPools {
		pools[id] = tp.pool
	}
	m.mu.RUnlock()

	report := HealthReport{
		Default:   PoolHealth{Tenant: model.DefaultTenantID},
		CheckedAt: time.Now(),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)

	if def != nil {
		g.Go(func() error {
			err := checkPool(ctx, def)
			mu.Lock()
			defer mu.Unlock()
			report.Default.Healthy = err == nil
			if err != nil {
				report.Default.Error = err.Error()
				m.logger.Error("default pool health check failed", "error", err)
			}
			return nil
		})
	} else {
		report.Default.Error = ErrNotInitialized.Error()
	}

	for id, pool := range pools {
		g.Go(func() error {
			err := checkPool(ctx, pool)
			ph := PoolHealth{Tenant: id, Healthy: err == nil}
			if err != nil {
				ph.Error = err.Error()
				m.logger.Error("tenant pool health check failed", "tenant", id, "error", err)
			}
			mu.Lock()
			report.Tenants = append(report.Tenants, ph)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	tenantsDown := false
	for _, ph := range report.Tenants {
		if ph.Healthy {
			continue
		}
		tenantsDown = true
		if evict {
			m.evictPool(ph.Tenant)
			report.Evicted = append(report.Evicted, ph.Tenant)
		}
	}

	switch {
	case !report.Default.Healthy:
		report.Status = HealthUnhealthy
	case tenantsDown || isolationDegraded:
		report.Status = HealthDegraded
	default:
		report.Status = HealthHealthy
	}

	if !evict {
		return report
	}

	metrics.DBHealthChecks.WithLabelValues(string(report.Status)).Inc()
	m.lastHealth.Store(&report)

	m.logger.Debug("database health check",
		"status", report.Status,
		"tenant_pools", len(pools),
		"evicted", len(report.Evicted),
	)
	return report
}

func checkPool(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return liveness(ctx, pool)
}
