// Package model defines shared data types used across quotecore.
//
// Conventions:
//   - Symbols: upper-case, trimmed (see NormalizeSymbol)
//   - Prices: float64 in quote currency units
//   - Timestamps: time.Time in UTC
//   - Tenant IDs: lower-case strings, schema names derived by SchemaName
package model
