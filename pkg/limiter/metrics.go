package limiter

// Metric names emitted through MetricsRecorder.
const (
	MetricCall      = "ratelimit.call"
	MetricLatency   = "ratelimit.latency"
	MetricFailOpen  = "ratelimit.fail_open"
	MetricReconnect = "ratelimit.reconnect"
)

// MetricsRecorder is the hook limiters use to report counters and timings.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// NoOpMetricsRecorder is a placeholder that does nothing.
// It ensures we never have to check 'if r.recorder != nil' in our hot path.
type NoOpMetricsRecorder struct{}

func (n *NoOpMetricsRecorder) Add(name string, value float64, tags map[string]string)     {}
func (n *NoOpMetricsRecorder) Observe(name string, value float64, tags map[string]string) {}
