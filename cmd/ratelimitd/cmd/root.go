// Package cmd provides the CLI commands for ratelimitd.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manenim/tenant-rate-limiter/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ratelimitd",
	Short: "ratelimitd - per-tenant rate limiting service",
	Long: `ratelimitd enforces per-tenant request quotas derived from each tenant's
subscription plan. Counters live in Redis so every instance shares them.

Quick start:
  1. Start Redis on localhost:6379 (or run with --dev for an in-process store)
  2. Run: ratelimitd serve
  3. curl -H 'X-Tenant-ID: acme' -H 'X-Plan: free' localhost:8080/v1/ping

Configuration:
  Config is loaded from ratelimitd.yaml in the current directory,
  $HOME/.ratelimitd/, or /etc/ratelimitd/.

  Environment variables can override config values with the RATELIMITD_ prefix.
  Example: RATELIMITD_REDIS_ADDR=redis.internal:6379`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ratelimitd.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
