// Package limiter provides per-tenant, plan-aware rate limiting that is shared
// across service instances through Redis, with an in-process variant for
// tests and single-instance deployments.
//
// The primary entry point is the RateLimiter interface, implemented by Gate:
//
//	dec, err := gate.Check(ctx, tenantID, limiter.PlanPro)
//
// The returned Decision says whether the request may proceed, how many
// requests remain in the tenant's window, and when the window resets.
//
// # Overview
//
// Each tenant owns one fixed window counter:
//
//   - The first request of a window creates the record with count 1 and a
//     reset time of now + Window.
//   - Every further request in the same window adds 1.
//   - Once now passes the reset time the record is replaced by a fresh window.
//
// The Quota-th request of a window is the last one allowed; every request
// after it is denied until the window rolls over.
//
// # Core Types
//
// Policy defines the quota of a plan:
//
//   - Quota: requests allowed per window
//   - Window: window length
//
// PolicyTable maps plans (free, pro, enterprise by default) to policies.
// Quotas and windows never decrease with plan rank, and looking up a plan
// that is not in the table returns ErrUnknownPlan rather than a default.
//
// # Backends
//
// Gate delegates all counting to a CounterStore. Two implementations exist:
//
//   - RedisStore: counters live in Redis. A Lua script performs the
//     read/rollover/increment/expire cycle atomically, so concurrent callers
//     on any number of instances observe a gap-free sequence of counts.
//
//   - MemoryStore: counters live in a mutex-protected map. A background
//     sweeper drops elapsed windows until Close is called.
//
// NewRedisLimiter and NewMemoryLimiter build a Gate over each.
//
// # Error Policy
//
// RedisStore fails open. If Redis is unreachable, slow or returns something
// it cannot parse, Increment allows the request, reports the full quota as
// remaining and sets Degraded. Peek reports an unused window. Reset and
// ListActiveKeys are administrative and return the error instead.
//
// A window record whose fields are not integers is corrupt. Increment and
// Peek both fail open on it and leave it in place until Reset or expiry.
//
// The store connects lazily and reconnects with bounded exponential backoff.
// Callers arriving during a dial wait for it; after a failed dial they fail
// open until the cool-down ends. Healthy reports whether it is currently
// degraded.
//
// # Storage Details
//
// RedisStore keys are "{prefix}{tenant}" with the default prefix
// "ratelimit:tenant:". Each key is a hash with two fields:
//
//   - "count": requests seen in the window
//   - "reset_at": window end in milliseconds since epoch
//
// Keys expire when their window ends, so idle tenants leave nothing behind.
//
// # HTTP
//
// Headers and ApplyTo produce the X-RateLimit-Limit, X-RateLimit-Remaining,
// X-RateLimit-Reset and Retry-After headers. Denied requests get a 429 with
// a JSON body:
//
//	{"error":"Too Many Requests","message":"...","retryAfter":42}
//
// Middleware wires a Gate in front of an http.Handler.
//
// # Configuration
//
// Limiters are configured using functional options:
//
//	gate := limiter.NewRedisLimiter(client,
//		limiter.WithPrefix("crm:rl:"),
//		limiter.WithTimeout(50*time.Millisecond),
//		limiter.WithRecorder(limiter.NewPrometheusRecorder(reg)),
//	)
//
// Supported options:
//
//   - WithPrefix(string): Redis key prefix.
//   - WithTimeout(time.Duration): per-command Redis timeout (default 100ms).
//   - WithRetry(RetryPolicy): reconnect attempts and backoff bounds.
//   - WithRecorder(MetricsRecorder): metrics backend.
//   - WithLogger(*slog.Logger): structured logger.
//   - WithPolicies(*PolicyTable): plan table.
//   - WithClock(clock.Clock): time source for window arithmetic.
//   - WithCleanupInterval(time.Duration): MemoryStore sweep interval.
package limiter
