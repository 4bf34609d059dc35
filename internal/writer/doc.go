// Package writer persists quote snapshots into each tenant's schema.
//
// The snapshot writer consumes (tenant, snapshot) items from a growable
// queue, keeps at most one row per (tenant, symbol) per persist interval,
// and batch-inserts rows with pgx.Batch into the unqualified
// quote_snapshots table on the tenant's pool. The pool's search_path
// decides which schema receives the rows.
//
// Writes are append-only; duplicate (symbol, quoted_at) rows are ignored.
package writer
