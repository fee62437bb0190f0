package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/manenim/tenant-rate-limiter/internal/config"
	"github.com/manenim/tenant-rate-limiter/internal/server"
	"github.com/manenim/tenant-rate-limiter/pkg/limiter"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server.

Routes:
  GET    /v1/ping                        rate limited endpoint
  GET    /admin/tenants?prefix=          tenants with a live window
  GET    /admin/tenants/{tenant}/usage   current usage (requires ?plan=)
  DELETE /admin/tenants/{tenant}/usage   restore a tenant's full quota
  GET    /healthz                        liveness and backend state
  GET    /metrics                        Prometheus metrics`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (in-process store, debug logging)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(devMode)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Server.LogLevel)
	logger.Debug("log level configured", "level", cfg.Server.LogLevel)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gate, err := buildGate(cfg, logger, limiter.NewPrometheusRecorder(reg))
	if err != nil {
		return err
	}
	defer gate.Close()
	limiter.HealthGauge(reg, gate)

	// Signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	// The gate fails open until Redis answers, so a failed first dial is
	// only worth a warning.
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Redis.RetryPolicy().MaxBackoff*2)
	if err := gate.Connect(connectCtx); err != nil {
		logger.Warn("rate limit backend not reachable, failing open until it is", "backend", gate.Backend(), "error", err)
	}
	cancel()

	srv := server.New(gate,
		server.WithAddr(cfg.Server.HTTPAddr),
		server.WithLogger(logger),
		server.WithRegistry(reg),
		server.WithResolver(limiter.HeaderResolver{
			TenantHeader: cfg.Limiter.TenantHeader,
			PlanHeader:   cfg.Limiter.PlanHeader,
		}),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeoutDuration()),
		server.WithVersion(Version),
	)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
