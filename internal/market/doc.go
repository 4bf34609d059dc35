// Package market serves quotes, historical bars and symbol search through
// the cache, calling the upstream provider only on a miss and only when the
// rate limiter allows it.
//
// Upstream failures never propagate as errors: they are logged and the
// caller gets an empty result. The one distinct condition is
// ErrRateLimited, returned when the local limiter rejects the call.
// Failed or empty upstream results are never cached.
package market
