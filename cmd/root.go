package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/config"
	"github.com/sells-group/exposure-cli/internal/store"
	"github.com/sells-group/exposure-cli/internal/survey"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "exposure-cli",
	Short: "Household exposure feature pipelines",
	Long:  "Computes household hazard distances and counts, ERA5-Land weather exposure by region, and WorldPop age/sex aggregates by admin unit.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// openStore opens the export task ledger.
func openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
}

// loadHouseholds reads the configured survey file without dropped ids.
func loadHouseholds() (*survey.Table, error) {
	t, err := survey.Load(cfg.Survey.Path, survey.Options{
		IDColumn:  cfg.Survey.IDColumn,
		LonColumn: cfg.Survey.LonColumn,
		LatColumn: cfg.Survey.LatColumn,
		Sheet:     cfg.Survey.Sheet,
	})
	if err != nil {
		return nil, err
	}
	if len(cfg.Survey.DropIDs) > 0 {
		t = survey.DropIDs(t, t.IDColumn, cfg.Survey.DropIDs)
	}
	zap.L().Info("loaded households", zap.String("path", cfg.Survey.Path), zap.Int("households", t.Len()))
	return t, nil
}
