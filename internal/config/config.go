// Package config provides configuration types for ratelimitd.
//
// Configuration comes from a YAML file, RATELIMITD_* environment variables
// and CLI flags, in increasing order of precedence. Durations are written
// as Go duration strings ("100ms", "1m").
package config

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manenim/tenant-rate-limiter/pkg/limiter"
)

// Config is the top-level configuration for ratelimitd.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Limiter selects the counter backend and how tenants are identified.
	Limiter LimiterConfig `yaml:"limiter" mapstructure:"limiter"`

	// Redis configures the shared counter store. Only used when
	// limiter.backend is "redis".
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// Plans lists the plans in ascending rank. Quotas and windows must not
	// decrease from one plan to the next.
	// Defaults to free/pro/enterprise when empty.
	Plans []PlanConfig `yaml:"plans" mapstructure:"plans" validate:"omitempty,dive"`

	// DevMode runs against the in-process backend with debug logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the listen address (e.g. ":8080").
	// Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required"`

	// LogLevel is one of debug, info, warn, error. Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
}

// LimiterConfig configures the rate limit gate.
type LimiterConfig struct {
	// Backend is "redis" (shared across instances) or "memory".
	// Defaults to "redis".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=redis memory"`

	// KeyPrefix namespaces Redis keys. Defaults to "ratelimit:tenant:".
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`

	// CommandTimeout bounds each Redis command. Defaults to "100ms".
	CommandTimeout string `yaml:"command_timeout" mapstructure:"command_timeout" validate:"omitempty,duration"`

	// CleanupInterval is how often the memory backend drops elapsed windows.
	// Defaults to "1m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// TenantHeader carries the tenant ID. Defaults to "X-Tenant-ID".
	TenantHeader string `yaml:"tenant_header" mapstructure:"tenant_header" validate:"required"`

	// PlanHeader carries the tenant's plan. Defaults to "X-Plan".
	PlanHeader string `yaml:"plan_header" mapstructure:"plan_header" validate:"required"`
}

// RedisConfig configures the go-redis client and reconnect policy.
type RedisConfig struct {
	// Addr is host:port of the Redis server. Defaults to "localhost:6379".
	Addr     string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"min=0"`

	PoolSize     int `yaml:"pool_size" mapstructure:"pool_size" validate:"min=0"`
	MinIdleConns int `yaml:"min_idle_conns" mapstructure:"min_idle_conns" validate:"min=0"`

	DialTimeout  string `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"omitempty,duration"`
	ReadTimeout  string `yaml:"read_timeout" mapstructure:"read_timeout" validate:"omitempty,duration"`
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"omitempty,duration"`

	// MaxRetries is the per-command retry count of go-redis; -1 disables
	// retries.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"min=-1"`

	// ConnectAttempts, MinBackoff and MaxBackoff bound reconnection after
	// the server was lost. Defaults: 3, "50ms", "2s".
	ConnectAttempts int    `yaml:"connect_attempts" mapstructure:"connect_attempts" validate:"min=0"`
	MinBackoff      string `yaml:"min_backoff" mapstructure:"min_backoff" validate:"omitempty,duration"`
	MaxBackoff      string `yaml:"max_backoff" mapstructure:"max_backoff" validate:"omitempty,duration"`
}

// PlanConfig is one row of the plan table.
type PlanConfig struct {
	Name   string `yaml:"name" mapstructure:"name" validate:"required"`
	Quota  int64  `yaml:"quota" mapstructure:"quota" validate:"min=1"`
	Window string `yaml:"window" mapstructure:"window" validate:"required,duration"`
}

// SetDefaults fills in optional fields. Values already set are kept.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Limiter.Backend == "" {
		c.Limiter.Backend = "redis"
	}
	if c.Limiter.KeyPrefix == "" {
		c.Limiter.KeyPrefix = "ratelimit:tenant:"
	}
	if c.Limiter.CommandTimeout == "" {
		c.Limiter.CommandTimeout = "100ms"
	}
	if c.Limiter.CleanupInterval == "" {
		c.Limiter.CleanupInterval = "1m"
	}
	if c.Limiter.TenantHeader == "" {
		c.Limiter.TenantHeader = "X-Tenant-ID"
	}
	if c.Limiter.PlanHeader == "" {
		c.Limiter.PlanHeader = "X-Plan"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.DialTimeout == "" {
		c.Redis.DialTimeout = "1s"
	}
	if c.Redis.ReadTimeout == "" {
		c.Redis.ReadTimeout = "200ms"
	}
	if c.Redis.WriteTimeout == "" {
		c.Redis.WriteTimeout = "200ms"
	}
	if c.Redis.ConnectAttempts == 0 {
		c.Redis.ConnectAttempts = 3
	}
	if c.Redis.MinBackoff == "" {
		c.Redis.MinBackoff = "50ms"
	}
	if c.Redis.MaxBackoff == "" {
		c.Redis.MaxBackoff = "2s"
	}

	if len(c.Plans) == 0 {
		c.Plans = []PlanConfig{
			{Name: string(limiter.PlanFree), Quota: 100, Window: "1m"},
			{Name: string(limiter.PlanPro), Quota: 1000, Window: "1m"},
			{Name: string(limiter.PlanEnterprise), Quota: 10000, Window: "1m"},
		}
	}
}

// SetDevDefaults switches to the in-process backend and debug logging so
// the server runs without Redis.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Limiter.Backend = "memory"
	c.Server.LogLevel = "debug"
}

// PolicyTable builds the plan table from Plans.
func (c *Config) PolicyTable() (*limiter.PolicyTable, error) {
	entries := make([]limiter.PlanPolicy, 0, len(c.Plans))
	for _, p := range c.Plans {
		window, err := time.ParseDuration(p.Window)
		if err != nil {
			return nil, err
		}
		entries = append(entries, limiter.PlanPolicy{
			Plan:   limiter.Plan(p.Name),
			Policy: limiter.Policy{Quota: p.Quota, Window: window},
		})
	}
	return limiter.NewPolicyTable(entries...)
}

// Options returns the go-redis client options.
func (r RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:         r.Addr,
		Username:     r.Username,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
		DialTimeout:  duration(r.DialTimeout),
		ReadTimeout:  duration(r.ReadTimeout),
		WriteTimeout: duration(r.WriteTimeout),
		MaxRetries:   r.MaxRetries,
	}
}

// RetryPolicy returns the reconnect policy of the Redis store.
func (r RedisConfig) RetryPolicy() limiter.RetryPolicy {
	return limiter.RetryPolicy{
		MaxAttempts: r.ConnectAttempts,
		MinBackoff:  duration(r.MinBackoff),
		MaxBackoff:  duration(r.MaxBackoff),
	}
}

// ShutdownTimeoutDuration returns ShutdownTimeout parsed.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration { return duration(s.ShutdownTimeout) }

// CommandTimeoutDuration returns CommandTimeout parsed.
func (l LimiterConfig) CommandTimeoutDuration() time.Duration { return duration(l.CommandTimeout) }

// CleanupIntervalDuration returns CleanupInterval parsed.
func (l LimiterConfig) CleanupIntervalDuration() time.Duration { return duration(l.CleanupInterval) }

// duration parses a value that Validate has already checked; an empty or
// invalid string yields 0.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
