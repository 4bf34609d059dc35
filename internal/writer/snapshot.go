package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/quotecore/internal/metrics"
	"github.com/rickgao/quotecore/internal/model"
	"github.com/rickgao/quotecore/internal/queue"
)

const insertSnapshotSQL = `
	INSERT INTO quote_snapshots (symbol, price, change, change_percent, volume, source, seq, quoted_at, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (symbol, quoted_at) DO NOTHING
`

// flushParallelism bounds concurrent per-tenant batch inserts.
const flushParallelism = 4

// BatchSender is the subset of *pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PoolFunc resolves the connection pool for a tenant.
type PoolFunc func(ctx context.Context, tenantID string) (BatchSender, error)

// Config holds writer configuration.
type Config struct {
	BatchSize       int           // Rows per flush (default: 500)
	FlushInterval   time.Duration // Max time between flushes (default: 2s)
	BufferSize      int           // Initial queue capacity (default: 1024)
	PersistInterval time.Duration // Min spacing per (tenant, symbol) (default: 1m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       500,
		FlushInterval:   2 * time.Second,
		BufferSize:      1024,
		PersistInterval: time.Minute,
	}
}

// Item is one snapshot destined for a tenant's schema.
type Item struct {
	Tenant   string
	Snapshot model.QuoteSnapshot
}

// Stats holds writer counters.
type Stats struct {
	Throttled int64       `json:"throttled"`
	Inserts   int64       `json:"inserts"`
	Conflicts int64       `json:"conflicts"`
	Errors    int64       `json:"errors"`
	Flushes   int64       `json:"flushes"`
	Queue     queue.Stats `json:"queue"`
}

type snapshotRow struct {
	Symbol        string
	Price         decimal.Decimal
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	Volume        int64
	Source        string
	Seq           int64
	QuotedAt      time.Time
	ReceivedAt    time.Time
}

type throttleKey struct {
	tenant string
	symbol string
}

// SnapshotWriter batches quote snapshots into tenant schemas.
type SnapshotWriter struct {
	cfg    Config
	pools  PoolFunc
	logger *slog.Logger
	now    func() time.Time

	input *queue.Queue[Item]

	// lastPersist is only touched by the consume goroutine.
	lastPersist map[throttleKey]time.Time

	batch   map[string][]snapshotRow
	pending int
	batchMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSnapshotWriter creates a writer. Zero config fields take the defaults.
func NewSnapshotWriter(cfg Config, pools PoolFunc, logger *slog.Logger) *SnapshotWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PersistInterval < 0 {
		cfg.PersistInterval = 0
	}
	return &SnapshotWriter{
		cfg:         cfg,
		pools:       pools,
		logger:      logger.With("component", "snapshot_writer"),
		now:         time.Now,
		input:       queue.New[Item](cfg.BufferSize, cfg.BufferSize*16),
		lastPersist: make(map[throttleKey]time.Time),
		batch:       make(map[string][]snapshotRow),
	}
}

// Enqueue hands a snapshot to the writer without blocking. It reports false
// once the writer is stopped.
func (w *SnapshotWriter) Enqueue(tenantID string, snap model.QuoteSnapshot) bool {
	if tenantID == "" {
		tenantID = model.DefaultTenantID
	}
	ok, dropped := w.input.Push(Item{Tenant: tenantID, Snapshot: snap})
	if dropped {
		w.logger.Warn("writer queue full, dropped oldest snapshot")
	}
	return ok
}

// Start begins consuming snapshots and writing to the database.
func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("snapshot writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"persist_interval", w.cfg.PersistInterval,
	)
	return nil
}

// Stop drains queued snapshots and performs a final flush bounded by ctx.
func (w *SnapshotWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping snapshot writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("snapshot writer stop timed out")
		return ctx.Err()
	}

	for _, item := range w.input.Drain(0) {
		w.handleItem(item)
	}
	w.flush(ctx)

	w.logger.Info("snapshot writer stopped")
	return nil
}

// Stats returns current counters.
func (w *SnapshotWriter) Stats() Stats {
	w.batchMu.Lock()
	s := w.stats
	w.batchMu.Unlock()
	s.Queue = w.input.Stats()
	return s
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *SnapshotWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		item, ok := w.input.Pop(w.ctx)
		if !ok {
			return
		}
		// After cancellation the final flush in Stop picks the batch up.
		if w.handleItem(item) && w.ctx.Err() == nil {
			w.flush(w.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *SnapshotWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// handleItem throttles and adds an item to its tenant's batch. It reports
// whether the batch reached BatchSize.
func (w *SnapshotWriter) handleItem(item Item) bool {
	now := w.now()
	key := throttleKey{tenant: item.Tenant, symbol: item.Snapshot.Symbol}
	if last, ok := w.lastPersist[key]; ok && now.Sub(last) < w.cfg.PersistInterval {
		w.batchMu.Lock()
		w.stats.Throttled++
		w.batchMu.Unlock()
		return false
	}
	w.lastPersist[key] = now

	row := transform(item.Snapshot, now)

	w.batchMu.Lock()
	w.batch[item.Tenant] = append(w.batch[item.Tenant], row)
	w.pending++
	full := w.pending >= w.cfg.BatchSize
	w.batchMu.Unlock()
	return full
}

// transform converts a snapshot to a row. Prices are rounded to the column scale.
func transform(s model.QuoteSnapshot, receivedAt time.Time) snapshotRow {
	quotedAt := s.Timestamp
	if quotedAt.IsZero() {
		quotedAt = receivedAt
	}
	source := string(s.Source)
	if source == "" {
		source = string(model.SourceREST)
	}
	return snapshotRow{
		Symbol:        s.Symbol,
		Price:         decimal.NewFromFloat(s.Price).Round(6),
		Change:        decimal.NewFromFloat(s.Change).Round(6),
		ChangePercent: decimal.NewFromFloat(s.ChangePercent).Round(6),
		Volume:        s.Volume,
		Source:        source,
		Seq:           int64(s.Seq),
		QuotedAt:      quotedAt.UTC(),
		ReceivedAt:    receivedAt.UTC(),
	}
}

// flush writes every pending tenant batch. Tenants fail independently.
func (w *SnapshotWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if w.pending == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batches := w.batch
	w.batch = make(map[string][]snapshotRow)
	w.pending = 0
	w.batchMu.Unlock()

	start := time.Now()

	var g errgroup.Group
	g.SetLimit(flushParallelism)
	for tenant, rows := range batches {
		g.Go(func() error {
			w.flushTenant(ctx, tenant, rows)
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Debug("flushed snapshots",
		"tenants", len(batches),
		"duration", time.Since(start),
	)
}

func (w *SnapshotWriter) flushTenant(ctx context.Context, tenant string, rows []snapshotRow) {
	conflicts, err := w.insertTenant(ctx, tenant, rows)
	if err != nil {
		w.logger.Error("batch insert failed", "tenant", tenant, "count", len(rows), "error", err)
		metrics.WriterFlushes.WithLabelValues("error").Inc()
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return
	}

	inserted := len(rows) - conflicts
	metrics.WriterFlushes.WithLabelValues("ok").Inc()
	metrics.WriterRows.Add(float64(inserted))

	w.batchMu.Lock()
	w.stats.Inserts += int64(inserted)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()
}

// insertTenant inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *SnapshotWriter) insertTenant(ctx context.Context, tenant string, rows []snapshotRow) (conflicts int, err error) {
	if w.pools == nil {
		return 0, fmt.Errorf("no pool provider")
	}
	db, err := w.pools(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("resolve pool: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSnapshotSQL,
			r.Symbol, r.Price, r.Change, r.ChangePercent, r.Volume, r.Source, r.Seq, r.QuotedAt, r.ReceivedAt)
	}

	results := db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
