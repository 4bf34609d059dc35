package model

import (
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Market Data Types
// -----------------------------------------------------------------------------

// Source identifies which ingestion path produced a snapshot.
type Source string

const (
	SourceREST   Source = "rest"
	SourceStream Source = "stream"
)

// QuoteSnapshot is the latest known value of a market quote.
// Values are never mutated after construction; a newer snapshot replaces an older one.
type QuoteSnapshot struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
	Source        Source    `json:"source,omitempty"`

	// Seq is assigned by the subscription registry on publish.
	// Zero means the snapshot has not passed through the registry.
	Seq uint64 `json:"seq,omitempty"`
}

// HistoricalBar is one OHLCV candle.
type HistoricalBar struct {
	Datetime time.Time `json:"datetime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
}

// SymbolMatch is a symbol search result.
type SymbolMatch struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Exchange string `json:"exchange"`
	Country  string `json:"country,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// NormalizeSymbol trims and upper-cases a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// -----------------------------------------------------------------------------
// Tenant Types
// -----------------------------------------------------------------------------

// Reserved tenant identifiers served by the default pool.
const (
	DefaultTenantID    = "default"
	ManagementTenantID = "tenant_management"
)

// TenantRecord is a row of tenant_management.tenants.
type TenantRecord struct {
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	SchemaName string    `json:"schema_name"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsReservedTenant reports whether id is served by the default pool.
func IsReservedTenant(id string) bool {
	return id == "" || id == DefaultTenantID || id == ManagementTenantID
}

// SchemaName derives the schema for a tenant: "tenant_" + id without dashes.
func SchemaName(tenantID string) string {
	return "tenant_" + strings.ReplaceAll(strings.ToLower(tenantID), "-", "")
}

// ValidTenantID reports whether id is usable as a tenant identifier.
// Allowed: 1-48 chars of [a-z0-9_-], starting with a letter or digit.
func ValidTenantID(id string) bool {
	if len(id) == 0 || len(id) > 48 {
		return false
	}
	for i, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case (r == '-' || r == '_') && i > 0:
		default:
			return false
		}
	}
	return true
}
