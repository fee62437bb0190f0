package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/manenim/tenant-rate-limiter/internal/config"
	"github.com/manenim/tenant-rate-limiter/pkg/limiter"
)

// buildGate creates the gate selected by cfg.Limiter.Backend.
func buildGate(cfg *config.Config, logger *slog.Logger, recorder limiter.MetricsRecorder) (*limiter.Gate, error) {
	policies, err := cfg.PolicyTable()
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}

	opts := []limiter.Option{
		limiter.WithPolicies(policies),
		limiter.WithLogger(logger),
		limiter.WithRecorder(recorder),
		limiter.WithPrefix(cfg.Limiter.KeyPrefix),
		limiter.WithTimeout(cfg.Limiter.CommandTimeoutDuration()),
		limiter.WithCleanupInterval(cfg.Limiter.CleanupIntervalDuration()),
		limiter.WithRetry(cfg.Redis.RetryPolicy()),
	}

	switch cfg.Limiter.Backend {
	case "redis":
		return limiter.NewRedisLimiter(redis.NewClient(cfg.Redis.Options()), opts...), nil
	case "memory":
		return limiter.NewMemoryLimiter(opts...), nil
	default:
		return nil, fmt.Errorf("unknown limiter backend %q", cfg.Limiter.Backend)
	}
}

// loadConfig loads and validates the configuration, letting --dev override
// the file before validation.
func loadConfig(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
