package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/rickgao/quotecore/internal/model"
)

// fakeSender records queued statements per tenant.
type fakeSender struct {
	tenant string
	sink   *fakeDB
}

func (s *fakeSender) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()

	var conflicts []bool
	for _, q := range b.QueuedQueries {
		key := q.Arguments[0].(string) + "|" + q.Arguments[7].(time.Time).String()
		seen := s.sink.keys[s.tenant][key]
		if !seen {
			if s.sink.keys[s.tenant] == nil {
				s.sink.keys[s.tenant] = make(map[string]bool)
			}
			s.sink.keys[s.tenant][key] = true
			s.sink.rows[s.tenant] = append(s.sink.rows[s.tenant], q.Arguments)
		}
		conflicts = append(conflicts, seen)
	}
	return &fakeResults{conflicts: conflicts}
}

type fakeResults struct {
	conflicts []bool
	i         int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	c := r.conflicts[r.i]
	r.i++
	if c {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row         { return nil }
func (r *fakeResults) Close() error              { return nil }

type fakeDB struct {
	mu     sync.Mutex
	rows   map[string][][]any
	keys   map[string]map[string]bool
	failOn string
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string][][]any), keys: make(map[string]map[string]bool)}
}

func (db *fakeDB) pools(_ context.Context, tenant string) (BatchSender, error) {
	if tenant == db.failOn {
		return nil, errors.New("tenant not found")
	}
	return &fakeSender{tenant: tenant, sink: db}, nil
}

func (db *fakeDB) count(tenant string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.rows[tenant])
}

func TestTransform(t *testing.T) {
	quoted := time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC)
	received := quoted.Add(time.Second)

	row := transform(model.QuoteSnapshot{
		Symbol:        "AAPL",
		Price:         190.1234567,
		Change:        1.5,
		ChangePercent: 0.79,
		Volume:        1000,
		Timestamp:     quoted,
		Source:        model.SourceStream,
		Seq:           42,
	}, received)

	if row.Symbol != "AAPL" {
		t.Errorf("Symbol = %s, want AAPL", row.Symbol)
	}
	if !row.Price.Equal(decimal.RequireFromString("190.123457")) {
		t.Errorf("Price = %s, want 190.123457", row.Price)
	}
	if !row.Change.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Change = %s, want 1.5", row.Change)
	}
	if row.Volume != 1000 {
		t.Errorf("Volume = %d, want 1000", row.Volume)
	}
	if row.Source != "stream" {
		t.Errorf("Source = %s, want stream", row.Source)
	}
	if row.Seq != 42 {
		t.Errorf("Seq = %d, want 42", row.Seq)
	}
	if !row.QuotedAt.Equal(quoted) {
		t.Errorf("QuotedAt = %v, want %v", row.QuotedAt, quoted)
	}
	if !row.ReceivedAt.Equal(received) {
		t.Errorf("ReceivedAt = %v, want %v", row.ReceivedAt, received)
	}
}

func TestTransform_Defaults(t *testing.T) {
	received := time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC)
	row := transform(model.QuoteSnapshot{Symbol: "MSFT"}, received)

	if !row.QuotedAt.Equal(received) {
		t.Errorf("QuotedAt = %v, want receive time %v", row.QuotedAt, received)
	}
	if row.Source != "rest" {
		t.Errorf("Source = %s, want rest", row.Source)
	}
}

func TestSnapshotWriter_ThrottlesPerTenantSymbol(t *testing.T) {
	db := newFakeDB()
	w := NewSnapshotWriter(Config{PersistInterval: time.Minute}, db.pools, nil)

	now := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	w.handleItem(Item{Tenant: "t1", Snapshot: model.QuoteSnapshot{Symbol: "AAPL", Price: 1}})
	w.handleItem(Item{Tenant: "t1", Snapshot: model.QuoteSnapshot{Symbol: "AAPL", Price: 2}})
	w.handleItem(Item{Tenant: "t2", Snapshot: model.QuoteSnapshot{Symbol: "AAPL", Price: 3}})

	now = now.Add(time.Minute)
	w.handleItem(Item{Tenant: "t1", Snapshot: model.QuoteSnapshot{Symbol: "AAPL", Price: 4}})

	stats := w.Stats()
	if stats.Throttled != 1 {
		t.Errorf("Throttled = %d, want 1", stats.Throttled)
	}
	if len(w.batch["t1"]) != 2 {
		t.Errorf("t1 batch = %d rows, want 2", len(w.batch["t1"]))
	}
	if len(w.batch["t2"]) != 1 {
		t.Errorf("t2 batch = %d rows, want 1", len(w.batch["t2"]))
	}
}

func TestSnapshotWriter_FlushPerTenant(t *testing.T) {
	db := newFakeDB()
	w := NewSnapshotWriter(Config{PersistInterval: 0}, db.pools, nil)

	quoted := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)
	w.handleItem(Item{Tenant: "t1", Snapshot: model.QuoteSnapshot{Symbol: "AAPL", Timestamp: quoted}})
	w.handleItem(Item{Tenant: "t1", Snapshot: model.QuoteSnapshot{Symbol: "MSFT", Timestamp: quoted}})
	w.handleItem(Item{Tenant: "t2", Snapshot: model.QuoteSnapshot{Symbol: "AAPL", Timestamp: quoted}})
	// Same (symbol, quoted_at) as the first row: a conflict.
	w.handleItem(Item{Tenant: "t1", Snapshot: model.QuoteSnapshot{Symbol: "AAPL", Timestamp: quoted}})

	w.flush(context.Background())

	if got := db.count("t1"); got != 2 {
		t.Errorf("t1 rows = %d, want 2", got)
	}
	if got := db.count("t2"); got != 1 {
		t.Errorf("t2 rows = %d, want 1", got)
	}

	stats := w.Stats()
	if stats.Inserts != 3 {
		t.Errorf("Inserts = %d, want 3", stats.Inserts)
	}
	if stats.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", stats.Conflicts)
	}
	if stats.Flushes != 2 {
		t.Errorf("Flushes = %d, want 2", stats.Flushes)
	}
}

func TestSnapshotWriter_TenantFailureIsIsolated(t *testing.T) {
	db := newFakeDB()
	db.failOn = "gone"
	w := NewSnapshotWriter(Config{}, db.pools, nil)

	w.handleItem(Item{Tenant: "gone", Snapshot: model.QuoteSnapshot{Symbol: "AAPL"}})
	w.handleItem(Item{Tenant: "t1", Snapshot: model.QuoteSnapshot{Symbol: "AAPL"}})
	w.flush(context.Background())

	if got := db.count("t1"); got != 1 {
		t.Errorf("t1 rows = %d, want 1", got)
	}
	if got := w.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestSnapshotWriter_BatchSizeTriggersFlush(t *testing.T) {
	db := newFakeDB()
	w := NewSnapshotWriter(Config{BatchSize: 2}, db.pools, nil)

	if w.handleItem(Item{Tenant: "t1", Snapshot: model.QuoteSnapshot{Symbol: "A"}}) {
		t.Error("first item should not fill the batch")
	}
	if !w.handleItem(Item{Tenant: "t1", Snapshot: model.QuoteSnapshot{Symbol: "B"}}) {
		t.Error("second item should fill the batch")
	}
}

func TestSnapshotWriter_StartStop(t *testing.T) {
	db := newFakeDB()
	w := NewSnapshotWriter(Config{FlushInterval: 20 * time.Millisecond}, db.pools, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	w.Enqueue("t1", model.QuoteSnapshot{Symbol: "AAPL", Price: 190.12})
	w.Enqueue("", model.QuoteSnapshot{Symbol: "MSFT", Price: 410})

	deadline := time.Now().Add(time.Second)
	for db.count("t1") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := db.count("t1"); got != 1 {
		t.Errorf("t1 rows = %d, want 1", got)
	}
	if got := db.count(model.DefaultTenantID); got != 1 {
		t.Errorf("default rows = %d, want 1", got)
	}
	if w.Enqueue("t1", model.QuoteSnapshot{Symbol: "AAPL"}) {
		t.Error("Enqueue after Stop returned true")
	}
}

func TestSnapshotWriter_StopFlushesPending(t *testing.T) {
	db := newFakeDB()
	w := NewSnapshotWriter(Config{FlushInterval: time.Hour}, db.pools, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for _, sym := range []string{"A", "B", "C"} {
		w.Enqueue("t1", model.QuoteSnapshot{Symbol: sym})
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := db.count("t1"); got != 3 {
		t.Errorf("t1 rows = %d, want 3", got)
	}
}
