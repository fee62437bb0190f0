package limiter

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownPlan is returned when a plan has no entry in the policy table.
	ErrUnknownPlan = errors.New("limiter: unknown plan")

	// ErrInvalidPolicy is returned by NewPolicyTable for non-positive or
	// out-of-order policies.
	ErrInvalidPolicy = errors.New("limiter: invalid policy")

	// ErrEmptyTenant is returned when a tenant ID is empty.
	ErrEmptyTenant = errors.New("limiter: empty tenant id")

	// ErrEmptyPlan is returned by HeaderResolver when the request names no
	// plan.
	ErrEmptyPlan = errors.New("limiter: empty plan")

	// ErrBackendUnavailable is returned by administrative operations while
	// the counter backend is unreachable.
	ErrBackendUnavailable = errors.New("limiter: backend unavailable")
)

// Plan is a subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Policy is the quota granted to a plan: Quota requests per Window.
type Policy struct {
	Quota  int64
	Window time.Duration
}

// WindowResult is what a CounterStore reports after an increment.
type WindowResult struct {
	// Allowed is false when the count was already at or above quota before
	// this increment.
	Allowed bool
	// Count is the post-increment count. It is 0 when Degraded is set.
	Count int64
	// ResetAt is when the current window ends.
	ResetAt time.Time
	// Degraded is set when the backend failed and the store failed open.
	Degraded bool
}

// Usage is a read-only view of a tenant's window.
type Usage struct {
	Used      int64
	Remaining int64
	ResetAt   time.Time
	Degraded  bool
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	Degraded  bool
}

// Status is the outcome of a read-only status query.
type Status struct {
	Used      int64
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	Degraded  bool
}

// CounterStore owns the per-tenant window records.
//
// Increment and Peek never return errors: backend failures are absorbed and
// reported through the Degraded flag. Reset and ListActiveKeys are
// administrative and propagate failures.
type CounterStore interface {
	Increment(ctx context.Context, key string, quota int64, window time.Duration) WindowResult
	Peek(ctx context.Context, key string, quota int64, window time.Duration) Usage
	Reset(ctx context.Context, key string) error
	ListActiveKeys(ctx context.Context, prefix string) ([]string, error)
	Healthy() bool
	Connect(ctx context.Context) error
	Close() error
}

// RateLimiter is the request-facing API shared by the Redis-backed and the
// in-process limiters.
type RateLimiter interface {
	Check(ctx context.Context, tenantID string, plan Plan) (Decision, error)
	Status(ctx context.Context, tenantID string, plan Plan) (Status, error)
	Reset(ctx context.Context, tenantID string) error
}
