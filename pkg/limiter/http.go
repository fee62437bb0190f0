package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response header names. Clients depend on these exact spellings.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers renders the rate limit headers. Retry-After is only present when
// remaining is zero.
func Headers(limit, remaining int64, resetAt, now time.Time) map[string]string {
	remaining = max(0, remaining)
	h := map[string]string{
		HeaderLimit:     strconv.FormatInt(limit, 10),
		HeaderRemaining: strconv.FormatInt(remaining, 10),
		HeaderReset:     strconv.FormatInt(resetAt.Unix(), 10),
	}
	if remaining == 0 {
		h[HeaderRetryAfter] = strconv.FormatInt(retryAfterSeconds(resetAt, now), 10)
	}
	return h
}

// retryAfterSeconds is ceil((resetAt-now) in ms / 1000), never negative.
func retryAfterSeconds(resetAt, now time.Time) int64 {
	ms := resetAt.Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(ms) / 1000))
}

// RejectionBody is the JSON body of a 429 response.
type RejectionBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

// Rejection is the canonical denial.
type Rejection struct {
	StatusCode int
	Body       RejectionBody
}

// NewRejection builds the 429 rejection for a window ending at resetAt.
func NewRejection(resetAt, now time.Time) Rejection {
	secs := retryAfterSeconds(resetAt, now)
	return Rejection{
		StatusCode: http.StatusTooManyRequests,
		Body: RejectionBody{
			Error:      "Too Many Requests",
			Message:    fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", secs),
			RetryAfter: secs,
		},
	}
}

// Write sends the rejection to w.
func (r Rejection) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.StatusCode)
	_ = json.NewEncoder(w).Encode(r.Body)
}

// ApplyTo runs Check and decorates w. When allowed, the rate limit headers
// are set and the caller continues writing the response. When denied, the
// headers and the 429 rejection are written and the caller must stop.
func (g *Gate) ApplyTo(ctx context.Context, w http.ResponseWriter, tenantID string, plan Plan) (Decision, error) {
	dec, err := g.Check(ctx, tenantID, plan)
	if err != nil {
		return dec, err
	}

	for k, v := range g.HeadersFor(dec.Limit, dec.Remaining, dec.ResetAt) {
		w.Header().Set(k, v)
	}
	if !dec.Allowed {
		g.RejectionResponse(dec.ResetAt).Write(w)
	}
	return dec, nil
}

// TenantResolver extracts the tenant and plan of an inbound request.
type TenantResolver interface {
	Resolve(r *http.Request) (tenantID string, plan Plan, err error)
}

// TenantResolverFunc adapts a function to TenantResolver.
type TenantResolverFunc func(r *http.Request) (string, Plan, error)

func (f TenantResolverFunc) Resolve(r *http.Request) (string, Plan, error) { return f(r) }

// HeaderResolver reads the tenant and plan from request headers.
type HeaderResolver struct {
	TenantHeader string
	PlanHeader   string
}

// DefaultHeaderResolver reads X-Tenant-ID and X-Plan.
func DefaultHeaderResolver() HeaderResolver {
	return HeaderResolver{TenantHeader: "X-Tenant-ID", PlanHeader: "X-Plan"}
}

func (h HeaderResolver) Resolve(r *http.Request) (string, Plan, error) {
	tenant := strings.TrimSpace(r.Header.Get(h.TenantHeader))
	if tenant == "" {
		return "", "", ErrEmptyTenant
	}
	plan := Plan(strings.ToLower(strings.TrimSpace(r.Header.Get(h.PlanHeader))))
	if plan == "" {
		return "", "", ErrEmptyPlan
	}
	return tenant, plan, nil
}

// Middleware rate limits every request passing through it.
//
// Requests the resolver rejects, such as those without a tenant or plan, get
// 400. A plan missing from the policy table is a configuration bug and gets
// 500. Backend failures never block traffic.
func Middleware(g *Gate, resolver TenantResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, plan, err := resolver.Resolve(r)
			if errors.Is(err, ErrEmptyPlan) {
				http.Error(w, "Unable to determine plan", http.StatusBadRequest)
				return
			}
			if err != nil {
				http.Error(w, "Unable to determine tenant", http.StatusBadRequest)
				return
			}

			dec, err := g.ApplyTo(r.Context(), w, tenant, plan)
			if errors.Is(err, ErrEmptyTenant) {
				http.Error(w, "Unable to determine tenant", http.StatusBadRequest)
				return
			}
			if err != nil {
				logger.Error("no rate limit policy for plan", "tenant", tenant, "plan", plan, "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if !dec.Allowed {
				logger.Info("tenant rate limited", "tenant", tenant, "plan", plan, "reset_at", dec.ResetAt)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
