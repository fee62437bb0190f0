package limiter

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/manenim/tenant-rate-limiter/pkg/clock"
)

// MockRecorder captures metrics in memory for assertion
type MockRecorder struct {
	mu       sync.Mutex
	Counters map[string]float64
	Timings  map[string][]float64
	Tags     map[string][]map[string]string
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{
		Counters: make(map[string]float64),
		Timings:  make(map[string][]float64),
		Tags:     make(map[string][]map[string]string),
	}
}

func (m *MockRecorder) Add(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name] += value
	m.Tags[name] = append(m.Tags[name], tags)
}

func (m *MockRecorder) Observe(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], value)
}

func TestRedisLimiter_Metrics(t *testing.T) {
	_, client := newMiniredis(t)
	mock := NewMockRecorder()
	limiter := newTestRedisLimiter(t, client, clock.NewManual(epoch), WithRecorder(mock))

	if _, err := limiter.Check(context.Background(), "tenant_1", PlanFree); err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	// Check "ratelimit.call" Counter
	if val, ok := mock.Counters[MetricCall]; !ok || val != 1 {
		t.Errorf("Expected 'ratelimit.call' counter to be 1, got %v", val)
	}
	if tags := mock.Tags[MetricCall][0]; tags["backend"] != "redis" || tags["result"] != "allowed" {
		t.Errorf("unexpected call tags %v", tags)
	}

	// Check "ratelimit.latency" Histogram
	if timings, ok := mock.Timings[MetricLatency]; !ok || len(timings) != 1 {
		t.Error("Expected 1 latency observation")
	} else if timings[0] <= 0 {
		t.Errorf("Expected positive latency, got %v", timings[0])
	}

	if val := mock.Counters[MetricReconnect]; val != 1 {
		t.Errorf("Expected one dial, got %v", val)
	}
	if val := mock.Counters[MetricFailOpen]; val != 0 {
		t.Errorf("Expected no fail-open, got %v", val)
	}
}

func TestRedisLimiter_FailOpenMetrics(t *testing.T) {
	mr, client := newMiniredis(t)
	mr.Close()
	mock := NewMockRecorder()
	limiter := newTestRedisLimiter(t, client, clock.NewManual(epoch), WithRecorder(mock))

	for range 3 {
		limiter.Check(context.Background(), "tenant_1", PlanFree)
	}

	if val := mock.Counters[MetricFailOpen]; val != 3 {
		t.Errorf("fail_open = %v, want 3", val)
	}
	// Both dial attempts of the first call fail; later calls are in cool-down.
	if val := mock.Counters[MetricReconnect]; val != float64(fastRetry.MaxAttempts) {
		t.Errorf("reconnect attempts = %v, want %d", val, fastRetry.MaxAttempts)
	}
}

func TestMemoryLimiter_Metrics(t *testing.T) {
	mock := NewMockRecorder()
	limiter := NewMemoryLimiter(WithRecorder(mock), WithPolicies(smallPolicies(t)), WithCleanupInterval(0))
	defer limiter.Close()

	for range 6 {
		limiter.Check(context.Background(), "tenant_1", PlanFree)
	}

	if val := mock.Counters[MetricCall]; val != 6 {
		t.Errorf("calls = %v, want 6", val)
	}
	last := mock.Tags[MetricCall][5]
	if last["backend"] != "memory" || last["result"] != "denied" {
		t.Errorf("last call tags = %v, want memory/denied", last)
	}
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.Add(MetricCall, 1, map[string]string{"backend": "redis", "result": "allowed"})
	rec.Add(MetricCall, 1, map[string]string{"backend": "redis", "result": "allowed"})
	rec.Add(MetricCall, 1, map[string]string{"backend": "redis", "result": "denied"})
	rec.Add(MetricFailOpen, 1, map[string]string{"backend": "redis", "op": "increment"})
	rec.Add(MetricReconnect, 1, map[string]string{"backend": "redis", "outcome": "error"})
	rec.Add("unknown.metric", 1, nil)
	rec.Observe(MetricLatency, 0.002, map[string]string{"backend": "redis", "op": "increment"})

	if got := testutil.ToFloat64(rec.Calls.WithLabelValues("redis", "allowed")); got != 2 {
		t.Errorf("calls{allowed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(rec.Calls.WithLabelValues("redis", "denied")); got != 1 {
		t.Errorf("calls{denied} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.FailOpen.WithLabelValues("redis", "increment")); got != 1 {
		t.Errorf("fail_open = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.Reconnects.WithLabelValues("redis", "error")); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(rec.Latency); got != 1 {
		t.Errorf("latency series = %d, want 1", got)
	}
}

type fakeHealth struct{ healthy bool }

func (f *fakeHealth) Healthy() bool { return f.healthy }

func TestHealthGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := &fakeHealth{healthy: true}
	gauge := HealthGauge(reg, h)

	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}

	h.healthy = false
	expected := `
# HELP ratelimit_backend_healthy 1 when the counter backend is reachable, 0 while failing open
# TYPE ratelimit_backend_healthy gauge
ratelimit_backend_healthy 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "ratelimit_backend_healthy"); err != nil {
		t.Error(err)
	}
}
