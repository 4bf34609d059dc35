package database

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

const managementSchemaSQL = `CREATE SCHEMA IF NOT EXISTS tenant_management`

const tenantsTableSQL = `
CREATE TABLE IF NOT EXISTS tenant_management.tenants (
	tenant_id   TEXT PRIMARY KEY,
	tenant_name TEXT NOT NULL,
	schema_name TEXT NOT NULL UNIQUE,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const insertDefaultTenantSQL = `
INSERT INTO tenant_management.tenants (tenant_id, tenant_name, schema_name)
VALUES ('default', 'Default', 'public')
ON CONFLICT (tenant_id) DO NOTHING`

const insertTenantSQL = `
INSERT INTO tenant_management.tenants (tenant_id, tenant_name, schema_name)
VALUES ($1, $2, $3)`

const selectSchemaSQL = `
SELECT schema_name FROM tenant_management.tenants
WHERE tenant_id = $1 AND active`

const selectActiveSchemasSQL = `
SELECT tenant_id, schema_name FROM tenant_management.tenants
WHERE active`

const listTenantsSQL = `
SELECT tenant_id, tenant_name, schema_name, active, created_at, updated_at
FROM tenant_management.tenants
ORDER BY tenant_id`

const deactivateTenantSQL = `
UPDATE tenant_management.tenants
SET active = FALSE, updated_at = NOW()
WHERE tenant_id = $1 AND active`

// quoteSnapshotsSQL is the per-tenant business table. Snapshot writes use
// the unqualified name so search_path selects the schema.
const quoteSnapshotsSQL = `
CREATE TABLE IF NOT EXISTS %s.quote_snapshots (
	symbol         TEXT NOT NULL,
	price          NUMERIC(20, 6) NOT NULL,
	change         NUMERIC(20, 6) NOT NULL,
	change_percent NUMERIC(12, 6) NOT NULL,
	volume         BIGINT NOT NULL,
	source         TEXT NOT NULL,
	seq            BIGINT NOT NULL,
	quoted_at      TIMESTAMPTZ NOT NULL,
	received_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (symbol, quoted_at)
)`

const quoteSnapshotsIndexSQL = `
CREATE INDEX IF NOT EXISTS quote_snapshots_received_idx
ON %s.quote_snapshots (received_at DESC)`

// quoteIdent returns a safely quoted identifier.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// searchPathSQL scopes a connection to schema, falling back to public.
func searchPathSQL(schema string) string {
	return fmt.Sprintf("SET search_path TO %s, public", quoteIdent(schema))
}

// tenantDDL returns the statements that provision a tenant schema.
func tenantDDL(schema string) []string {
	q := quoteIdent(schema)
	return []string{
		"CREATE SCHEMA " + q,
		fmt.Sprintf(quoteSnapshotsSQL, q),
		fmt.Sprintf(quoteSnapshotsIndexSQL, q),
	}
}
