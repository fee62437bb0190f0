package limiter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder is a MetricsRecorder backed by Prometheus collectors.
// Unknown metric names are dropped; missing tags are recorded as "".
type PrometheusRecorder struct {
	Calls      *prometheus.CounterVec
	Latency    *prometheus.HistogramVec
	FailOpen   *prometheus.CounterVec
	Reconnects *prometheus.CounterVec
}

// NewPrometheusRecorder creates and registers the limiter collectors with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	return &PrometheusRecorder{
		Calls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ratelimit",
				Name:      "calls_total",
				Help:      "Rate limit decisions by backend and result",
			},
			[]string{"backend", "result"}, // result=allowed/denied
		),
		Latency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ratelimit",
				Name:      "store_latency_seconds",
				Help:      "Counter store operation latency in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"backend", "op"},
		),
		FailOpen: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ratelimit",
				Name:      "fail_open_total",
				Help:      "Store operations answered with full quota because the backend failed",
			},
			[]string{"backend", "op"},
		),
		Reconnects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ratelimit",
				Name:      "reconnects_total",
				Help:      "Backend dial attempts by outcome",
			},
			[]string{"backend", "outcome"}, // outcome=ok/error
		),
	}
}

func (p *PrometheusRecorder) Add(name string, value float64, tags map[string]string) {
	switch name {
	case MetricCall:
		p.Calls.WithLabelValues(tags["backend"], tags["result"]).Add(value)
	case MetricFailOpen:
		p.FailOpen.WithLabelValues(tags["backend"], tags["op"]).Add(value)
	case MetricReconnect:
		p.Reconnects.WithLabelValues(tags["backend"], tags["outcome"]).Add(value)
	}
}

func (p *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	if name == MetricLatency {
		p.Latency.WithLabelValues(tags["backend"], tags["op"]).Observe(value)
	}
}

// HealthGauge registers a gauge reporting 1 while store is healthy.
func HealthGauge(reg prometheus.Registerer, store interface{ Healthy() bool }) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "ratelimit",
			Name:      "backend_healthy",
			Help:      "1 when the counter backend is reachable, 0 while failing open",
		},
		func() float64 {
			if store.Healthy() {
				return 1
			}
			return 0
		},
	)
}
