package limiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manenim/tenant-rate-limiter/pkg/clock"
)

// Gate combines a policy table with a CounterStore to decide whether a
// tenant's request may proceed.
type Gate struct {
	policies *PolicyTable
	store    CounterStore
	backend  string

	clock    clock.Clock
	logger   *slog.Logger
	recorder MetricsRecorder
}

// NewGate builds a Gate over an arbitrary store. backend labels metrics.
func NewGate(store CounterStore, backend string, opts ...Option) *Gate {
	o := buildOptions(opts)
	return &Gate{
		policies: o.policies,
		store:    store,
		backend:  backend,
		clock:    o.clock,
		logger:   o.logger,
		recorder: o.recorder,
	}
}

// NewRedisLimiter returns a Gate whose counters live in Redis and are shared
// by every instance using the same client configuration.
func NewRedisLimiter(client redis.UniversalClient, opts ...Option) *Gate {
	return NewGate(NewRedisStore(client, opts...), "redis", opts...)
}

// NewMemoryLimiter returns a Gate whose counters live in this process.
func NewMemoryLimiter(opts ...Option) *Gate {
	return NewGate(NewMemoryStore(opts...), "memory", opts...)
}

// Check counts one request for tenantID and reports whether it is allowed.
// The only errors are ErrEmptyTenant and ErrUnknownPlan; backend failures
// yield an allowed, Degraded decision.
func (g *Gate) Check(ctx context.Context, tenantID string, plan Plan) (Decision, error) {
	if tenantID == "" {
		return Decision{}, ErrEmptyTenant
	}
	policy, err := g.policies.PolicyFor(plan)
	if err != nil {
		return Decision{}, err
	}

	res := g.store.Increment(ctx, tenantID, policy.Quota, policy.Window)

	result := "allowed"
	if !res.Allowed {
		result = "denied"
	}
	g.recorder.Add(MetricCall, 1, map[string]string{"backend": g.backend, "result": result})

	return Decision{
		Allowed:   res.Allowed,
		Limit:     policy.Quota,
		Remaining: max(0, policy.Quota-res.Count),
		ResetAt:   res.ResetAt,
		Degraded:  res.Degraded,
	}, nil
}

// Status reports tenantID's usage without counting a request.
func (g *Gate) Status(ctx context.Context, tenantID string, plan Plan) (Status, error) {
	if tenantID == "" {
		return Status{}, ErrEmptyTenant
	}
	policy, err := g.policies.PolicyFor(plan)
	if err != nil {
		return Status{}, err
	}

	u := g.store.Peek(ctx, tenantID, policy.Quota, policy.Window)
	return Status{
		Used:      u.Used,
		Limit:     policy.Quota,
		Remaining: u.Remaining,
		ResetAt:   u.ResetAt,
		Degraded:  u.Degraded,
	}, nil
}

// Reset restores tenantID's full quota immediately.
func (g *Gate) Reset(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return ErrEmptyTenant
	}
	if err := g.store.Reset(ctx, tenantID); err != nil {
		return err
	}
	g.logger.Info("rate limit reset", "tenant", tenantID)
	return nil
}

// ListActiveKeys lists tenants with a live window whose ID starts with prefix.
func (g *Gate) ListActiveKeys(ctx context.Context, prefix string) ([]string, error) {
	return g.store.ListActiveKeys(ctx, prefix)
}

// Healthy reports whether the backing store is fully operational.
func (g *Gate) Healthy() bool { return g.store.Healthy() }

// Connect eagerly establishes the backend connection.
func (g *Gate) Connect(ctx context.Context) error { return g.store.Connect(ctx) }

// Close releases the backing store.
func (g *Gate) Close() error { return g.store.Close() }

// Policies exposes the plan table the gate enforces.
func (g *Gate) Policies() *PolicyTable { return g.policies }

// Backend names the store implementation ("redis" or "memory").
func (g *Gate) Backend() string { return g.backend }

// HeadersFor renders the rate limit response headers relative to now.
func (g *Gate) HeadersFor(limit, remaining int64, resetAt time.Time) map[string]string {
	return Headers(limit, remaining, resetAt, g.clock.Now())
}

// RejectionResponse builds the 429 payload for a window ending at resetAt.
func (g *Gate) RejectionResponse(resetAt time.Time) Rejection {
	return NewRejection(resetAt, g.clock.Now())
}

var _ RateLimiter = (*Gate)(nil)
