package limiter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/manenim/tenant-rate-limiter/pkg/clock"
)

//go:embed fixed_window.lua
var fixedWindowSource string

var fixedWindowScript = redis.NewScript(fixedWindowSource)

var errMalformedReply = errors.New("malformed script reply")

// RedisStore is a CounterStore shared by every instance pointed at the same
// Redis. The read/rollover/increment/expire cycle runs as one Lua script, so
// concurrent callers always observe a gap-free sequence of counts.
//
// The store connects lazily. While Redis is unreachable, Increment and Peek
// fail open and Healthy reports false.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	retry   RetryPolicy

	clock    clock.Clock
	logger   *slog.Logger
	recorder MetricsRecorder
	warn     *rate.Sometimes

	connected atomic.Bool
	dialSem   chan struct{} // held while dialing
	retryAt   time.Time     // guarded by dialSem
}

// NewRedisStore wraps client. No I/O happens until the first operation or an
// explicit Connect.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	o := buildOptions(opts)
	return &RedisStore{
		client:   client,
		prefix:   o.prefix,
		timeout:  o.timeout,
		retry:    o.retry,
		clock:    o.clock,
		logger:   o.logger,
		recorder: o.recorder,
		warn:     &rate.Sometimes{First: 1, Interval: 10 * time.Second},
		dialSem:  make(chan struct{}, 1),
	}
}

// Connect pings Redis and loads the script, retrying with backoff.
func (r *RedisStore) Connect(ctx context.Context) error {
	if err := r.lockDial(ctx); err != nil {
		return err
	}
	defer r.unlockDial()
	return r.dial(ctx)
}

// Healthy reports whether the last interaction with Redis succeeded.
func (r *RedisStore) Healthy() bool {
	return r.connected.Load()
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	r.connected.Store(false)
	return r.client.Close()
}

// Increment counts one request for key in its current window. On any
// backend failure it reports the request as allowed with an untouched
// window.
func (r *RedisStore) Increment(ctx context.Context, key string, quota int64, window time.Duration) WindowResult {
	start := time.Now()
	defer r.observe("increment", start)

	now := r.clock.Now()
	failOpen := WindowResult{Allowed: true, ResetAt: now.Add(window), Degraded: true}

	if err := r.ensureConnected(ctx); err != nil {
		r.failOpen(ctx, "increment", key, err)
		return failOpen
	}

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := fixedWindowScript.Run(opCtx, r.client, []string{r.prefix + key},
		quota,                 // ARGV[1]
		window.Milliseconds(), // ARGV[2]
		now.UnixMilli(),       // ARGV[3]
	).Result()
	if err != nil {
		r.failOpen(ctx, "increment", key, err)
		return failOpen
	}

	allowed, count, resetAt, err := parseWindowReply(res)
	if err != nil {
		r.failOpen(ctx, "increment", key, err)
		return failOpen
	}

	return WindowResult{
		Allowed: allowed,
		Count:   count,
		ResetAt: time.UnixMilli(resetAt),
	}
}

// Peek reads key's window without counting a request. On backend failure
// it reports an unused window.
func (r *RedisStore) Peek(ctx context.Context, key string, quota int64, window time.Duration) Usage {
	start := time.Now()
	defer r.observe("peek", start)

	now := r.clock.Now()
	fresh := Usage{Remaining: quota, ResetAt: now.Add(window)}

	if err := r.ensureConnected(ctx); err != nil {
		r.failOpen(ctx, "peek", key, err)
		fresh.Degraded = true
		return fresh
	}

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	vals, err := r.client.HMGet(opCtx, r.prefix+key, "count", "reset_at").Result()
	if err != nil {
		r.failOpen(ctx, "peek", key, err)
		fresh.Degraded = true
		return fresh
	}
	if vals[0] == nil && vals[1] == nil {
		return fresh
	}

	count, err1 := parseInt(vals[0])
	resetAt, err2 := parseInt(vals[1])
	if err := errors.Join(err1, err2); err != nil {
		r.failOpen(ctx, "peek", key, err)
		fresh.Degraded = true
		return fresh
	}
	if now.UnixMilli() > resetAt {
		return fresh
	}

	return Usage{
		Used:      count,
		Remaining: max(0, quota-count),
		ResetAt:   time.UnixMilli(resetAt),
	}
}

// Reset deletes key's window.
func (r *RedisStore) Reset(ctx context.Context, key string) error {
	if err := r.ensureConnected(ctx); err != nil {
		return fmt.Errorf("reset %q: %w", key, err)
	}

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Del(opCtx, r.prefix+key).Err(); err != nil {
		r.noteError(ctx, err)
		return fmt.Errorf("reset %q: %w", key, err)
	}
	return nil
}

// ListActiveKeys scans for live windows whose key starts with prefix and
// returns them without the store prefix, sorted.
func (r *RedisStore) ListActiveKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	pattern := escapeGlob(r.prefix+prefix) + "*"
	var keys []string
	var cursor uint64
	for {
		opCtx, cancel := r.withTimeout(ctx)
		batch, next, err := r.client.Scan(opCtx, cursor, pattern, 100).Result()
		cancel()
		if err != nil {
			r.noteError(ctx, err)
			return nil, fmt.Errorf("list keys: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, r.prefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	sort.Strings(keys)
	return dedupe(keys), nil
}

// ensureConnected dials on first use and after a transport failure. Callers
// arriving while a dial is in flight wait for its outcome, bounded by their
// ctx. After a failed dial they fail fast until the cool-down ends.
func (r *RedisStore) ensureConnected(ctx context.Context) error {
	if r.connected.Load() {
		return nil
	}
	if err := r.lockDial(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	defer r.unlockDial()

	if r.connected.Load() {
		return nil
	}
	if r.clock.Now().Before(r.retryAt) {
		return ErrBackendUnavailable
	}
	if err := r.dial(ctx); err != nil {
		if ctx.Err() == nil {
			r.retryAt = r.clock.Now().Add(r.retry.MaxBackoff)
		}
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return nil
}

func (r *RedisStore) lockDial(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case r.dialSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RedisStore) unlockDial() {
	<-r.dialSem
}

// dial must be called with dialSem held.
func (r *RedisStore) dial(ctx context.Context) error {
	delay := r.retry.MinBackoff
	for attempt := 1; ; attempt++ {
		err := r.ping(ctx)
		if err == nil {
			r.connected.Store(true)
			r.retryAt = time.Time{}
			r.recorder.Add(MetricReconnect, 1, map[string]string{"backend": "redis", "outcome": "ok"})
			if attempt > 1 {
				r.logger.Info("redis connection established", "attempts", attempt)
			}
			return nil
		}
		r.recorder.Add(MetricReconnect, 1, map[string]string{"backend": "redis", "outcome": "error"})
		r.logger.Debug("redis dial failed", "attempt", attempt, "error", err)

		if attempt >= r.retry.MaxAttempts {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, r.retry.MaxBackoff)
	}
}

func (r *RedisStore) ping(ctx context.Context) error {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Ping(opCtx).Err(); err != nil {
		return err
	}
	return fixedWindowScript.Load(opCtx, r.client).Err()
}

func (r *RedisStore) failOpen(ctx context.Context, op, key string, err error) {
	r.noteError(ctx, err)
	r.recorder.Add(MetricFailOpen, 1, map[string]string{"backend": "redis", "op": op})
	r.warn.Do(func() {
		r.logger.Warn("rate limit backend failed, allowing request",
			"op", op,
			"key", key,
			"error", err)
	})
}

// noteError marks the store disconnected when err came from the transport
// rather than from the caller giving up or from Redis rejecting a command.
func (r *RedisStore) noteError(ctx context.Context, err error) {
	if ctx.Err() != nil || errors.Is(err, ErrBackendUnavailable) || errors.Is(err, errMalformedReply) {
		return
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return
	}
	if r.connected.CompareAndSwap(true, false) {
		r.logger.Warn("redis connection lost", "error", err)
	}
}

func (r *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *RedisStore) observe(op string, start time.Time) {
	r.recorder.Observe(MetricLatency, time.Since(start).Seconds(), map[string]string{"backend": "redis", "op": op})
}

func parseWindowReply(res interface{}) (allowed bool, count, resetAt int64, err error) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return false, 0, 0, fmt.Errorf("%w: %v", errMalformedReply, res)
	}
	a, okA := values[0].(int64)
	c, okC := values[1].(int64)
	t, okT := values[2].(int64)
	if !okA || !okC || !okT || c < 1 {
		return false, 0, 0, fmt.Errorf("%w: %v", errMalformedReply, res)
	}
	return a == 1, c, t, nil
}

func parseInt(val interface{}) (int64, error) {
	switch v := val.(type) {
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errMalformedReply, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %T", errMalformedReply, val)
	}
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// dedupe removes adjacent duplicates; SCAN may return a key more than once.
func dedupe(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, k := range sorted[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}

var _ CounterStore = (*RedisStore)(nil)
