package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/bootstrap"
	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/observability"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "problemctl",
	Short: "Operate the recurring-incident problem engine",
	Long: `problemctl runs detection sweeps and inspects problems directly against the
service database. Schedule "problemctl detect" from cron or a Kubernetes CronJob
to run the periodic sweep.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	registerCommands(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(
		detectCmd(),
		listCmd(),
		showCmd(),
		recomputeCmd(),
		linkCmd(),
		analyticsCmd(),
		tokenCmd(),
	)
}

// withEngine loads configuration, builds the engine, and runs fn against it.
func withEngine(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, e *bootstrap.Engine) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	engine, err := bootstrap.NewEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error("engine unavailable", zap.Error(err))
		return err
	}
	defer engine.Close()
	return fn(ctx, cfg, engine)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
