package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/manenim/tenant-rate-limiter/pkg/limiter"
)

var (
	statusPlan string
	keysPrefix string
)

var statusCmd = &cobra.Command{
	Use:   "status <tenant>",
	Short: "Show a tenant's usage in its current window",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset <tenant>",
	Short: "Restore a tenant's full quota immediately",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List tenants with a live window",
	Args:  cobra.NoArgs,
	RunE:  runKeys,
}

func init() {
	statusCmd.Flags().StringVar(&statusPlan, "plan", string(limiter.PlanFree), "plan whose quota applies")
	keysCmd.Flags().StringVar(&keysPrefix, "prefix", "", "only list tenants whose ID starts with prefix")
	rootCmd.AddCommand(statusCmd, resetCmd, keysCmd)
}

// errMemoryBackend is returned by admin commands, which cannot reach the
// counters of another process.
var errMemoryBackend = errors.New("admin commands require limiter.backend=redis")

// adminGate connects to the configured Redis for a one-shot admin command.
func adminGate(ctx context.Context) (*limiter.Gate, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, err
	}
	if cfg.Limiter.Backend != "redis" {
		return nil, errMemoryBackend
	}

	logger := newLogger(cfg.Server.LogLevel)
	gate, err := buildGate(cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	if err := gate.Connect(ctx); err != nil {
		gate.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return gate, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	gate, err := adminGate(cmd.Context())
	if err != nil {
		return err
	}
	defer gate.Close()

	st, err := gate.Status(cmd.Context(), args[0], limiter.Plan(statusPlan))
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), args[0], limiter.Plan(statusPlan), st)
	return nil
}

func printStatus(out io.Writer, tenant string, plan limiter.Plan, st limiter.Status) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Tenant:\t%s\n", tenant)
	fmt.Fprintf(tw, "Plan:\t%s\n", plan)
	fmt.Fprintf(tw, "Used:\t%d / %d\n", st.Used, st.Limit)
	fmt.Fprintf(tw, "Remaining:\t%d\n", st.Remaining)
	fmt.Fprintf(tw, "Resets:\t%s\n", st.ResetAt.UTC().Format(time.RFC3339))
	if st.Degraded {
		fmt.Fprintf(tw, "Warning:\tbackend unavailable, values are defaults\n")
	}
	tw.Flush()
}

func runReset(cmd *cobra.Command, args []string) error {
	gate, err := adminGate(cmd.Context())
	if err != nil {
		return err
	}
	defer gate.Close()

	if err := gate.Reset(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", args[0])
	return nil
}

func runKeys(cmd *cobra.Command, args []string) error {
	gate, err := adminGate(cmd.Context())
	if err != nil {
		return err
	}
	defer gate.Close()

	keys, err := gate.ListActiveKeys(cmd.Context(), keysPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
	return nil
}
