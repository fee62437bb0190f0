package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for ratelimitd.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself never matches.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig will return ConfigFileNotFoundError, which callers tolerate.
		viper.SetConfigName("ratelimitd")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: RATELIMITD_REDIS_ADDR
	viper.SetEnvPrefix("RATELIMITD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".ratelimitd"),
		"/etc/ratelimitd",
	})
}

// findConfigFileInPaths returns the first ratelimitd.yaml or .yml found in
// paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "ratelimitd"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every scalar key so that, for example,
// RATELIMITD_LIMITER_BACKEND overrides limiter.backend.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.shutdown_timeout")

	_ = viper.BindEnv("limiter.backend")
	_ = viper.BindEnv("limiter.key_prefix")
	_ = viper.BindEnv("limiter.command_timeout")
	_ = viper.BindEnv("limiter.cleanup_interval")
	_ = viper.BindEnv("limiter.tenant_header")
	_ = viper.BindEnv("limiter.plan_header")

	_ = viper.BindEnv("redis.addr")
	_ = viper.BindEnv("redis.username")
	_ = viper.BindEnv("redis.password")
	_ = viper.BindEnv("redis.db")
	_ = viper.BindEnv("redis.pool_size")
	_ = viper.BindEnv("redis.min_idle_conns")
	_ = viper.BindEnv("redis.dial_timeout")
	_ = viper.BindEnv("redis.read_timeout")
	_ = viper.BindEnv("redis.write_timeout")
	_ = viper.BindEnv("redis.max_retries")
	_ = viper.BindEnv("redis.connect_attempts")
	_ = viper.BindEnv("redis.min_backoff")
	_ = viper.BindEnv("redis.max_backoff")

	// Note: plans is an array and can only be set from the config file.

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns a validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
