// Package database manages PostgreSQL connection pools with schema-level
// tenant isolation.
//
// The default pool serves the "default" and "tenant_management" tenants and
// holds the tenant registry (tenant_management.tenants). Every other tenant
// gets its own lazily created pool whose connections run
// SET search_path TO tenant_<id>, public before first use, so unqualified
// table names resolve to the tenant's schema.
//
// If the database role cannot create the management schema, the manager
// runs degraded: tenant isolation is disabled and every tenant is served by
// the default pool.
package database
