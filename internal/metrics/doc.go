// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Cache hit/miss rates per backend
//   - Upstream request outcomes and rate-limit rejections
//   - Stream state, reconnects and tick rates
//   - Subscriber deliveries and drops
//   - Database pool counts and health checks
//   - Writer and publisher throughput
package metrics
