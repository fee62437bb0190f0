package limiter

import (
	"log/slog"
	"time"

	"github.com/manenim/tenant-rate-limiter/pkg/clock"
)

const (
	defaultPrefix          = "ratelimit:tenant:"
	defaultTimeout         = 100 * time.Millisecond
	defaultCleanupInterval = time.Minute
)

// RetryPolicy bounds how the Redis store re-establishes its connection.
// The delay starts at MinBackoff and doubles per failed attempt up to
// MaxBackoff. After MaxAttempts failures the store stays degraded for
// MaxBackoff before dialing again.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy is used when WithRetry is not given.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinBackoff:  50 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

type options struct {
	prefix          string
	timeout         time.Duration
	recorder        MetricsRecorder
	logger          *slog.Logger
	clock           clock.Clock
	policies        *PolicyTable
	retry           RetryPolicy
	cleanupInterval time.Duration
}

func defaultOptions() options {
	return options{
		prefix:          defaultPrefix,
		timeout:         defaultTimeout,
		recorder:        &NoOpMetricsRecorder{},
		logger:          slog.Default(),
		clock:           clock.System(),
		retry:           DefaultRetryPolicy(),
		cleanupInterval: defaultCleanupInterval,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.policies == nil {
		o.policies = DefaultPolicies()
	}
	return o
}

// Option configures limiters and stores.
type Option func(*options)

// WithPrefix sets the key prefix used by the Redis store
// (default "ratelimit:tenant:").
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithTimeout sets the per-command timeout for Redis operations
// (default 100ms). Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithRecorder injects a metrics backend.
func WithRecorder(r MetricsRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces the wall clock used for window arithmetic.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithPolicies replaces the default plan table.
func WithPolicies(t *PolicyTable) Option {
	return func(o *options) {
		o.policies = t
	}
}

// WithRetry sets the reconnect policy of the Redis store.
func WithRetry(p RetryPolicy) Option {
	return func(o *options) {
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		if p.MinBackoff <= 0 {
			p.MinBackoff = DefaultRetryPolicy().MinBackoff
		}
		if p.MaxBackoff < p.MinBackoff {
			p.MaxBackoff = p.MinBackoff
		}
		o.retry = p
	}
}

// WithCleanupInterval sets how often the in-process store sweeps expired
// windows. Zero disables the sweeper.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) {
		o.cleanupInterval = d
	}
}
