package cmd

import (
	"encoding/json"
	"fmt"
	"log"

	"cdc-reconciler/core/reconcile"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reconcileFull   bool
	reconcileDryRun bool
)

// reconcileCmd runs a single reconciliation pass and exits.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass for the registered table",
	Long: `Runs a single extract-dedupe-merge-advance pass and prints the run
report as JSON. Use --full to ignore the committed watermark and rebuild the
target from the source baseline, or --dry-run to plan without writing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApplication()
		if err != nil {
			log.Fatalf("Failed to initialize application: %v", err)
		}
		logg := app.logger
		defer logg.Sync()

		opts := reconcile.RunOptions{ForceFull: reconcileFull, DryRun: reconcileDryRun}
		reports, err := app.engine.RunAll(cmd.Context(), app.specs, opts)
		for _, report := range reports {
			if report == nil {
				continue
			}
			body, jsonErr := json.MarshalIndent(report, "", "  ")
			if jsonErr != nil {
				logg.Error("Failed to encode run report", zap.Error(jsonErr))
				continue
			}
			fmt.Println(string(body))
		}
		return err
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileFull, "full", false, "ignore the committed watermark and reconcile from the epoch")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "extract and plan without writing or advancing")
	RootCmd.AddCommand(reconcileCmd)
}
