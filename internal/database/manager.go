package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/quotecore/internal/config"
	"github.com/rickgao/quotecore/internal/metrics"
	"github.com/rickgao/quotecore/internal/model"
)

// Subsystems reported in InitResult.Degraded.
const (
	SubsystemDatabase        = "database"
	SubsystemTenantIsolation = "tenant_isolation"
)

const (
	idleTimeout        = 30 * time.Second
	healthCheckTimeout = 5 * time.Second
	poolCreateTimeout  = 10 * time.Second
)

// InitResult reports the outcome of Initialize.
type InitResult struct {
	OK       bool
	Degraded []string
}

// Manager owns the default pool and one pool per tenant schema.
type Manager struct {
	cfg    config.DBConfig
	logger *slog.Logger

	mu          sync.RWMutex
	defaultPool *pgxpool.Pool
	tenantPools map[string]*tenantPool
	initialized bool
	isolation   bool
	closed      bool
	degraded    []string

	// Collapses racing lazy pool creations for the same tenant.
	poolGroup singleflight.Group

	schemaMu sync.RWMutex
	schemas  map[string]string

	gormMu  sync.Mutex
	gormDBs map[string]*gormHandle

	lastHealth atomic.Pointer[HealthReport]

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers sync.WaitGroup

	// Overridable for tests.
	lookupSchema func(ctx context.Context, tenantID string) (string, error)
	openPool     func(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error)
}

type tenantPool struct {
	schema    string
	pool      *pgxpool.Pool
	createdAt time.Time
}

// NewManager creates a Manager. No connection is made until Initialize.
func NewManager(cfg config.DBConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:         cfg,
		logger:      logger.With("component", "database"),
		tenantPools: make(map[string]*tenantPool),
		schemas:     make(map[string]string),
		gormDBs:     make(map[string]*gormHandle),
		openPool:    pgxpool.NewWithConfig,
	}
	m.lookupSchema = m.querySchema
	return m
}

// Initialize opens the default pool and provisions the tenant registry.
// It never fails hard: an unreachable database or missing privileges are
// reported through InitResult.Degraded.
func (m *Manager) Initialize(ctx context.Context) InitResult {
	m.mu.RLock()
	done := m.initialized
	m.mu.RUnlock()
	if done {
		return m.initResult()
	}

	pool, err := m.connectDefault(ctx)
	if err != nil {
		m.logger.Error("database unavailable, continuing degraded", "error", err)
		m.mu.Lock()
		m.degraded = addSubsystem(m.degraded, SubsystemDatabase)
		m.mu.Unlock()
		return m.initResult()
	}

	isolation := true
	if err := m.provisionManagement(ctx, pool); err != nil {
		isolation = false
		if IsPermissionDenied(err) {
			m.logger.Warn("insufficient privileges for tenant management, running without tenant isolation", "error", err)
		} else {
			m.logger.Error("provision tenant management failed, running without tenant isolation", "error", err)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		pool.Close()
		return InitResult{Degraded: []string{SubsystemDatabase}}
	}
	m.defaultPool = pool
	m.initialized = true
	m.isolation = isolation
	m.degraded = slices.DeleteFunc(m.degraded, func(s string) bool { return s == SubsystemDatabase })
	if !isolation {
		m.degraded = addSubsystem(m.degraded, SubsystemTenantIsolation)
	}
	m.mu.Unlock()

	if isolation {
		m.warmSchemaCache(ctx)
	}

	res := m.initResult()
	m.logger.Info("database initialized",
		"host", m.cfg.Host,
		"database", m.cfg.Name,
		"tenant_isolation", isolation,
		"degraded", res.Degraded,
	)
	return res
}

func (m *Manager) initResult() InitResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return InitResult{
		OK:       m.initialized && len(m.degraded) == 0,
		Degraded: slices.Clone(m.degraded),
	}
}

func (m *Manager) connectDefault(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := m.poolConfig()
	if err != nil {
		return nil, err
	}
	poolCfg.MinConns = int32(m.cfg.MinConns)
	poolCfg.MaxConns = int32(m.cfg.MaxConns)

	pool, err := m.openPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := liveness(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func (m *Manager) poolConfig() (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(m.cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MaxConnIdleTime = idleTimeout
	return poolCfg, nil
}

// tenantPoolConfig builds the pool config for a tenant schema. Every new
// connection is scoped to the schema before it is handed out.
func (m *Manager) tenantPoolConfig(schema string) (*pgxpool.Config, error) {
	poolCfg, err := m.poolConfig()
	if err != nil {
		return nil, err
	}
	poolCfg.MinConns = 0
	poolCfg.MaxConns = int32(min(m.cfg.TenantMaxConns, m.cfg.MaxConns))
	if poolCfg.MaxConns < 1 {
		poolCfg.MaxConns = 1
	}

	stmt := searchPathSQL(schema)
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("set search_path: %w", err)
		}
		return nil
	}
	return poolCfg, nil
}

func (m *Manager) provisionManagement(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{
		managementSchemaSQL,
		tenantsTableSQL,
		insertDefaultTenantSQL,
		fmt.Sprintf(quoteSnapshotsSQL, "public"),
		fmt.Sprintf(quoteSnapshotsIndexSQL, "public"),
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) warmSchemaCache(ctx context.Context) {
	m.mu.RLock()
	pool := m.defaultPool
	m.mu.RUnlock()

	rows, err := pool.Query(ctx, selectActiveSchemasSQL)
	if err != nil {
		m.logger.Warn("warm tenant schema cache failed", "error", err)
		return
	}

	var id, schema string
	n := 0
	_, err = pgx.ForEachRow(rows, []any{&id, &schema}, func() error {
		m.storeSchema(id, schema)
		n++
		return nil
	})
	if err != nil {
		m.logger.Warn("warm tenant schema cache failed", "error", err)
		return
	}
	m.logger.Debug("tenant schema cache warmed", "tenants", n)
}

// Pool returns the pool serving tenantID. Reserved tenants, and every tenant
// while isolation is disabled, get the default pool. Other tenants get a
// lazily created pool scoped to their schema.
func (m *Manager) Pool(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	m.mu.RLock()
	closed := m.closed
	def := m.defaultPool
	isolation := m.isolation
	tp := m.tenantPools[tenantID]
	m.mu.RUnlock()

	switch {
	case closed:
		return nil, ErrClosed
	case def == nil:
		return nil, ErrNotInitialized
	case model.IsReservedTenant(tenantID) || !isolation:
		return def, nil
	case tp != nil:
		return tp.pool, nil
	}

	// The pool outlives any one caller, so creation runs detached from the
	// callers' cancellation; each caller still stops waiting on its own ctx.
	ch := m.poolGroup.DoChan(tenantID, func() (any, error) {
		m.mu.RLock()
		tp := m.tenantPools[tenantID]
		m.mu.RUnlock()
		if tp != nil {
			return tp.pool, nil
		}
		createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), poolCreateTimeout)
		defer cancel()
		return m.createTenantPool(createCtx, tenantID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*pgxpool.Pool), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) createTenantPool(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	schema, err := m.TenantSchema(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	poolCfg, err := m.tenantPoolConfig(schema)
	if err != nil {
		return nil, err
	}

	pool, err := m.openPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create tenant pool %s: %w", tenantID, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		pool.Close()
		return nil, ErrClosed
	}
	m.tenantPools[tenantID] = &tenantPool{schema: schema, pool: pool, createdAt: time.Now()}
	count := len(m.tenantPools)
	m.mu.Unlock()

	metrics.TenantPools.Set(float64(count))
	m.logger.Info("tenant pool created",
		"tenant", tenantID,
		"schema", schema,
		"max_conns", poolCfg.MaxConns,
	)
	return pool, nil
}

// evictPool removes a tenant pool and closes it in the background.
func (m *Manager) evictPool(tenantID string) {
	m.mu.Lock()
	tp := m.tenantPools[tenantID]
	delete(m.tenantPools, tenantID)
	count := len(m.tenantPools)
	m.mu.Unlock()

	if tp == nil {
		return
	}
	metrics.TenantPools.Set(float64(count))
	m.dropGorm(tenantID)

	// Close waits for acquired connections to be released.
	m.closers.Add(1)
	go func() {
		defer m.closers.Done()
		tp.pool.Close()
	}()
}

// Start launches the periodic health check loop.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.healthLoop()

	m.logger.Info("database health loop started", "interval", m.cfg.HealthInterval)
	return nil
}

func (m *Manager) healthLoop() {
	defer m.wg.Done()

	interval := m.cfg.HealthInterval
	if interval <= 0 {
		interval = config.DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			initialized := m.initialized
			m.mu.RUnlock()
			if !initialized {
				m.Initialize(m.ctx)
			}
			m.CheckConnections(m.ctx)
		}
	}
}

// Shutdown stops the health loop and closes every pool in parallel.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down database manager")

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("database health loop stop timed out")
	}

	m.mu.Lock()
	m.closed = true
	pools := make([]*pgxpool.Pool, 0, len(m.tenantPools)+1)
	for _, tp := range m.tenantPools {
		pools = append(pools, tp.pool)
	}
	if m.defaultPool != nil {
		pools = append(pools, m.defaultPool)
	}
	m.tenantPools = make(map[string]*tenantPool)
	m.defaultPool = nil
	m.mu.Unlock()

	m.gormMu.Lock()
	m.gormDBs = make(map[string]*gormHandle)
	m.gormMu.Unlock()

	var g errgroup.Group
	for _, p := range pools {
		g.Go(func() error {
			p.Close()
			return nil
		})
	}
	g.Go(func() error {
		m.closers.Wait()
		return nil
	})

	closed := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(closed)
	}()
	select {
	case <-closed:
		metrics.TenantPools.Set(0)
		m.logger.Info("database manager stopped", "pools_closed", len(pools))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close pools: %w", ctx.Err())
	}
}

// PoolStats is a snapshot of one pool's connection counts.
type PoolStats struct {
	Schema   string `json:"schema"`
	Total    int32  `json:"total"`
	Idle     int32  `json:"idle"`
	Acquired int32  `json:"acquired"`
	Max      int32  `json:"max"`
}

// Status describes the manager for diagnostics.
type Status struct {
	Initialized     bool                 `json:"initialized"`
	TenantIsolation bool                 `json:"tenant_isolation"`
	Degraded        []string             `json:"degraded,omitempty"`
	Default         *PoolStats           `json:"default_pool,omitempty"`
	Tenants         map[string]PoolStats `json:"tenant_pools"`
	CachedSchemas   int                  `json:"cached_schemas"`
	LastHealth      *HealthReport        `json:"last_health,omitempty"`
}

// Status returns a snapshot of pool and initialization state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := Status{
		Initialized:     m.initialized,
		TenantIsolation: m.isolation,
		Degraded:        slices.Clone(m.degraded),
		Tenants:         make(map[string]PoolStats, len(m.tenantPools)),
	}
	if m.defaultPool != nil {
		ps := statsOf("public", m.defaultPool)
		st.Default = &ps
	}
	for id, tp := range m.tenantPools {
		st.Tenants[id] = statsOf(tp.schema, tp.pool)
	}
	m.mu.RUnlock()

	m.schemaMu.RLock()
	st.CachedSchemas = len(m.schemas)
	m.schemaMu.RUnlock()

	st.LastHealth = m.lastHealth.Load()
	return st
}

func statsOf(schema string, p *pgxpool.Pool) PoolStats {
	s := p.Stat()
	return PoolStats{
		Schema:   schema,
		Total:    s.TotalConns(),
		Idle:     s.IdleConns(),
		Acquired: s.AcquiredConns(),
		Max:      s.MaxConns(),
	}
}

func liveness(ctx context.Context, pool *pgxpool.Pool) error {
	var one int
	return pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func addSubsystem(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}

// errOrNotFound maps no-row results to ErrTenantNotFound.
func errOrNotFound(tenantID string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return err
}
