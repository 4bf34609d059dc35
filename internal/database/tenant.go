package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/quotecore/internal/model"
)

// TenantSchema resolves the schema for an active tenant, consulting the
// schema cache first. Unknown or inactive tenants yield ErrTenantNotFound;
// there is no fallback to the default schema.
func (m *Manager) TenantSchema(ctx context.Context, tenantID string) (string, error) {
	if model.IsReservedTenant(tenantID) {
		return "public", nil
	}

	m.schemaMu.RLock()
	schema, ok := m.schemas[tenantID]
	m.schemaMu.RUnlock()
	if ok {
		return schema, nil
	}

	schema, err := m.lookupSchema(ctx, tenantID)
	if err != nil {
		return "", err
	}
	m.storeSchema(tenantID, schema)
	return schema, nil
}

// InvalidateSchema drops a cached schema lookup.
func (m *Manager) InvalidateSchema(tenantID string) {
	m.schemaMu.Lock()
	delete(m.schemas, tenantID)
	m.schemaMu.Unlock()
}

func (m *Manager) storeSchema(tenantID, schema string) {
	m.schemaMu.Lock()
	m.schemas[tenantID] = schema
	m.schemaMu.Unlock()
}

func (m *Manager) querySchema(ctx context.Context, tenantID string) (string, error) {
	pool, err := m.Pool(ctx, model.ManagementTenantID)
	if err != nil {
		return "", err
	}

	var schema string
	if err := pool.QueryRow(ctx, selectSchemaSQL, tenantID).Scan(&schema); err != nil {
		return "", errOrNotFound(tenantID, fmt.Errorf("lookup tenant schema: %w", err))
	}
	return schema, nil
}

// managementPool returns the default pool for tenant administration.
func (m *Manager) managementPool(ctx context.Context) (*pgxpool.Pool, error) {
	m.mu.RLock()
	isolation := m.isolation
	m.mu.RUnlock()

	pool, err := m.Pool(ctx, model.ManagementTenantID)
	if err != nil {
		return nil, err
	}
	if !isolation {
		return nil, ErrIsolationDisabled
	}
	return pool, nil
}

// CreateTenant registers a tenant and provisions its schema and business
// tables in one transaction. The schema cache entry is invalidated whether
// or not the transaction commits.
func (m *Manager) CreateTenant(ctx context.Context, tenantID, name string) (model.TenantRecord, error) {
	if model.IsReservedTenant(tenantID) || !model.ValidTenantID(tenantID) {
		return model.TenantRecord{}, fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	if name == "" {
		name = tenantID
	}

	db, err := m.managementPool(ctx)
	if err != nil {
		return model.TenantRecord{}, err
	}
	defer m.InvalidateSchema(tenantID)

	rec := model.TenantRecord{
		TenantID:   tenantID,
		Name:       name,
		SchemaName: model.SchemaName(tenantID),
		Active:     true,
	}

	err = pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, insertTenantSQL+" RETURNING created_at, updated_at",
			rec.TenantID, rec.Name, rec.SchemaName,
		).Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		for _, stmt := range tenantDDL(rec.SchemaName) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("provision schema %s: %w", rec.SchemaName, err)
			}
		}
		return nil
	})
	if err != nil {
		if isDuplicate(err) {
			return model.TenantRecord{}, fmt.Errorf("%w: %s", ErrTenantExists, tenantID)
		}
		m.logger.Error("create tenant failed", "tenant", tenantID, "error", err)
		return model.TenantRecord{}, err
	}

	m.logger.Info("tenant created", "tenant", tenantID, "schema", rec.SchemaName)
	return rec, nil
}

// DeactivateTenant soft-deletes a tenant and closes its pool. The schema and
// its data are kept.
func (m *Manager) DeactivateTenant(ctx context.Context, tenantID string) error {
	if model.IsReservedTenant(tenantID) {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}

	db, err := m.managementPool(ctx)
	if err != nil {
		return err
	}

	tag, err := db.Exec(ctx, deactivateTenantSQL, tenantID)
	if err != nil {
		return fmt.Errorf("deactivate tenant: %w", err)
	}
	m.InvalidateSchema(tenantID)
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	m.evictPool(tenantID)
	m.logger.Info("tenant deactivated", "tenant", tenantID)
	return nil
}

// ListTenants returns every registered tenant, active or not.
func (m *Manager) ListTenants(ctx context.Context) ([]model.TenantRecord, error) {
	db, err := m.managementPool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, listTenantsSQL)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	tenants, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.TenantRecord])
	if err != nil {
		return nil, fmt.Errorf("scan tenants: %w", err)
	}
	return tenants, nil
}

// TenantTx runs fn in a transaction on the tenant's pool. The transaction
// commits when fn returns nil and rolls back otherwise.
func (m *Manager) TenantTx(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	pool, err := m.Pool(ctx, tenantID)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, pool, fn)
}
