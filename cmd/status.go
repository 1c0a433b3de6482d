package cmd

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// statusCmd prints the committed watermark states.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show committed watermark states",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApplication()
		if err != nil {
			log.Fatalf("Failed to initialize application: %v", err)
		}
		defer app.logger.Sync()

		states, err := app.watermarks.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(states) == 0 {
			fmt.Println("no tables have been reconciled yet")
			return nil
		}

		body, err := json.MarshalIndent(states, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
}
