package cmd

import (
	"encoding/json"
	"fmt"
	"log"

	"cdc-reconciler/core/reconcile"

	"github.com/spf13/cobra"
)

// auditCmd runs a read-only drift audit and exits non-zero on critical drift.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit drift between source and target",
	Long: `Compares the source aggregate (row count, head commit sequence)
against the target aggregate without mutating anything. Exits with an error
when any table's drift is critical, so the command can back a health check.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApplication()
		if err != nil {
			log.Fatalf("Failed to initialize application: %v", err)
		}
		defer app.logger.Sync()

		var critical bool
		for _, spec := range app.specs {
			drift, err := app.auditor.Audit(cmd.Context(), spec)
			if err != nil {
				return err
			}
			body, err := json.MarshalIndent(drift, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			if drift.Level == reconcile.DriftCritical {
				critical = true
			}
		}

		if critical {
			return fmt.Errorf("critical drift detected")
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(auditCmd)
}
