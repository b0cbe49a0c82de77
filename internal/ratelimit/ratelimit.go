// Package ratelimit provides a pluggable rate limiting interface.
//
// The server ships an in-memory token bucket (MemoryLimiter); a distributed
// implementation can be substituted behind the Limiter interface when the
// server runs as more than one instance.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. The key is opaque —
	// callers construct it with a scope prefix ("ingest:<agent_id>",
	// "query:<agent_id>", "auth:<client_ip>") so each route group gets an
	// independent bucket. A returned error signals a limiter malfunction;
	// callers treat errors as fail-open rather than blocking traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
