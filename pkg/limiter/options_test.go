package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/manenim/tenant-rate-limiter/pkg/clock"
)

func TestRedisLimiter_Options(t *testing.T) {
	ctx := context.Background()

	t.Run("WithPrefix", func(t *testing.T) {
		mr, client := newMiniredis(t)
		prefix := "custom_app:"
		limiter := newTestRedisLimiter(t, client, clock.NewManual(epoch), WithPrefix(prefix))

		if _, err := limiter.Check(ctx, "tenant_1", PlanFree); err != nil {
			t.Fatalf("Check failed: %v", err)
		}

		// Verify the key uses the custom prefix
		if !mr.Exists(prefix + "tenant_1") {
			t.Errorf("Expected key %s to exist, but it does not", prefix+"tenant_1")
		}
		if mr.Exists(defaultPrefix + "tenant_1") {
			t.Error("default prefix used despite WithPrefix")
		}

		keys, err := limiter.ListActiveKeys(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) != 1 || keys[0] != "tenant_1" {
			t.Errorf("keys = %v, want [tenant_1]", keys)
		}
	})

	t.Run("WithTimeout", func(t *testing.T) {
		o := buildOptions([]Option{WithTimeout(10 * time.Millisecond)})
		if o.timeout != 10*time.Millisecond {
			t.Errorf("timeout = %v, want 10ms", o.timeout)
		}
		if buildOptions(nil).timeout != defaultTimeout {
			t.Error("default timeout not applied")
		}
	})

	t.Run("WithRetry normalizes", func(t *testing.T) {
		o := buildOptions([]Option{WithRetry(RetryPolicy{MaxAttempts: 0, MinBackoff: 0, MaxBackoff: time.Millisecond})})
		if o.retry.MaxAttempts != 1 {
			t.Errorf("MaxAttempts = %d, want 1", o.retry.MaxAttempts)
		}
		if o.retry.MinBackoff != DefaultRetryPolicy().MinBackoff {
			t.Errorf("MinBackoff = %v", o.retry.MinBackoff)
		}
		if o.retry.MaxBackoff != o.retry.MinBackoff {
			t.Errorf("MaxBackoff = %v, want clamped to MinBackoff", o.retry.MaxBackoff)
		}
	})

	t.Run("nil values keep defaults", func(t *testing.T) {
		o := buildOptions([]Option{WithRecorder(nil), WithLogger(nil), WithClock(nil)})
		if o.recorder == nil || o.logger == nil || o.clock == nil {
			t.Error("nil option replaced a default")
		}
		if o.policies == nil {
			t.Error("policies not defaulted")
		}
	})
}
