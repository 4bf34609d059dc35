// Package config loads service configuration from YAML with environment
// variable expansion, applies defaults, and falls back to discrete
// environment variables (DATABASE_URL, DB_*, TWELVE_DATA_*, REDIS_*) for
// anything the file leaves empty.
package config
