package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/manenim/tenant-rate-limiter/pkg/limiter"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicies(t *testing.T) *limiter.PolicyTable {
	t.Helper()
	table, err := limiter.NewPolicyTable(
		limiter.PlanPolicy{Plan: limiter.PlanFree, Policy: limiter.Policy{Quota: 3, Window: time.Minute}},
		limiter.PlanPolicy{Plan: limiter.PlanPro, Policy: limiter.Policy{Quota: 10, Window: time.Minute}},
	)
	require.NoError(t, err)
	return table
}

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	gate := limiter.NewMemoryLimiter(
		limiter.WithPolicies(testPolicies(t)),
		limiter.WithCleanupInterval(0),
		limiter.WithLogger(discardLogger()),
	)
	t.Cleanup(func() { gate.Close() })

	reg := prometheus.NewRegistry()
	return New(gate, WithRegistry(reg), WithLogger(discardLogger()), WithVersion("test")), reg
}

func do(t *testing.T, h http.Handler, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPing_RateLimited(t *testing.T) {
	srv, reg := newTestServer(t)
	h := srv.Handler()
	hdr := map[string]string{"X-Tenant-ID": "acme", "X-Plan": "free"}

	for i := 1; i <= 3; i++ {
		rec := do(t, h, http.MethodGet, "/v1/ping", hdr)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)

		var body PingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "acme", body.Tenant)
		assert.Equal(t, "3", rec.Header().Get(limiter.HeaderLimit))
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}

	rec := do(t, h, http.MethodGet, "/v1/ping", hdr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get(limiter.HeaderRetryAfter))

	var rej limiter.RejectionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rej))
	assert.Equal(t, "Too Many Requests", rej.Error)
	assert.Equal(t, int64(60), rej.RetryAfter)

	assert.Equal(t, float64(3), testutil.ToFloat64(srv.metrics.RequestsTotal.WithLabelValues("ping", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(srv.metrics.RequestsTotal.WithLabelValues("ping", "limited")))

	// Other tenants are unaffected.
	rec = do(t, h, http.MethodGet, "/v1/ping", map[string]string{"X-Tenant-ID": "globex", "X-Plan": "free"})
	assert.Equal(t, http.StatusOK, rec.Code)

	count, err := testutil.GatherAndCount(reg, "ratelimitd_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPing_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/v1/ping", map[string]string{"X-Plan": "free"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/ping", map[string]string{"X-Tenant-ID": "acme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/ping", map[string]string{"X-Tenant-ID": "acme", "X-Plan": "enterprise"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestID_Propagated(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestLoggerFromContext_Default(t *testing.T) {
	assert.Equal(t, slog.Default(), LoggerFromContext(context.Background()))
}

func TestAdmin_UsageAndReset(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	hdr := map[string]string{"X-Tenant-ID": "acme", "X-Plan": "pro"}

	for range 4 {
		do(t, h, http.MethodGet, "/v1/ping", hdr)
	}

	rec := do(t, h, http.MethodGet, "/admin/tenants/acme/usage?plan=pro", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var usage UsageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, "acme", usage.Tenant)
	assert.Equal(t, int64(4), usage.Used)
	assert.Equal(t, int64(10), usage.Limit)
	assert.Equal(t, int64(6), usage.Remaining)
	assert.False(t, usage.Degraded)

	rec = do(t, h, http.MethodDelete, "/admin/tenants/acme/usage", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/admin/tenants/acme/usage?plan=pro", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, int64(0), usage.Used)
	assert.Equal(t, int64(10), usage.Remaining)
}

func TestAdmin_UsageBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/admin/tenants/acme/usage", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/admin/tenants/acme/usage?plan=gold", nil).Code)
}

func TestAdmin_ListTenants(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for _, tenant := range []string{"org_b", "org_a", "user_1"} {
		do(t, h, http.MethodGet, "/v1/ping", map[string]string{"X-Tenant-ID": tenant, "X-Plan": "free"})
	}

	rec := do(t, h, http.MethodGet, "/admin/tenants?prefix=org_", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body TenantsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"org_a", "org_b"}, body.Tenants)

	rec = do(t, h, http.MethodGet, "/admin/tenants?prefix=none", nil)
	assert.JSONEq(t, `{"tenants":[]}`, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","backend":"memory","version":"test"}`, rec.Body.String())
}

func TestHealthz_DegradedBackendStillServes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	gate := limiter.NewRedisLimiter(client,
		limiter.WithPolicies(testPolicies(t)),
		limiter.WithRetry(limiter.RetryPolicy{MaxAttempts: 1, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
		limiter.WithLogger(discardLogger()),
	)
	t.Cleanup(func() { gate.Close() })
	srv := New(gate, WithLogger(discardLogger()))
	h := srv.Handler()

	for range 5 {
		rec := do(t, h, http.MethodGet, "/v1/ping", map[string]string{"X-Tenant-ID": "acme", "X-Plan": "free"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get(limiter.HeaderRemaining))
	}

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","backend":"redis"}`, rec.Body.String())

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/admin/tenants", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodDelete, "/admin/tenants/acme/usage", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, reg := newTestServer(t)
	limiter.NewPrometheusRecorder(reg)
	h := srv.Handler()

	do(t, h, http.MethodGet, "/v1/ping", map[string]string{"X-Tenant-ID": "acme", "X-Plan": "free"})

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `ratelimitd_http_requests_total{route="ping",status="ok"} 1`))
}

func TestServer_StartAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, ln)
	}()

	client := &http.Client{Timeout: 2 * time.Second}
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get("http://" + ln.Addr().String() + "/healthz")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return within 5 seconds after cancel")
	}
}
