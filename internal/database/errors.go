package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrTenantNotFound is returned when a tenant has no active registry row.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantExists is returned by CreateTenant for a duplicate id.
	ErrTenantExists = errors.New("tenant already exists")

	// ErrInvalidTenant is returned for reserved or malformed tenant ids.
	ErrInvalidTenant = errors.New("invalid tenant id")

	// ErrNotInitialized is returned when the default pool is unavailable.
	ErrNotInitialized = errors.New("database not initialized")

	// ErrIsolationDisabled is returned by tenant administration calls while
	// the manager runs without tenant isolation.
	ErrIsolationDisabled = errors.New("tenant isolation disabled")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("database manager closed")
)

// PostgreSQL error codes.
const (
	codeInsufficientPrivilege = "42501"
	codeUniqueViolation       = "23505"
	codeDuplicateSchema       = "42P06"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsPermissionDenied reports whether err is an insufficient-privilege error.
func IsPermissionDenied(err error) bool {
	return pgCode(err) == codeInsufficientPrivilege
}

func isDuplicate(err error) bool {
	code := pgCode(err)
	return code == codeUniqueViolation || code == codeDuplicateSchema
}
