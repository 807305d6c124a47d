package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/intentops/intent-eval/internal/feedback"
	"github.com/intentops/intent-eval/internal/report"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Compute evaluation metrics over closed records",
	Long:  `Reads closed prediction records from the store for the given window, computes evaluation metrics, and renders the report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		window, _ := cmd.Flags().GetDuration("window")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		database, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		until := time.Now().UTC()
		since := until.Add(-window)
		store := feedback.NewStore(database)

		metrics, records, err := evaluateWindow(cmd.Context(), cfg, store, since, until)
		if err != nil {
			return err
		}

		out, err := report.Render(metrics, nil, report.Format(format))
		if err != nil {
			return err
		}

		if output != "" {
			if err := os.WriteFile(output, out, 0o644); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Evaluated %d records, report written to %s\n", len(records), output)
			return nil
		}

		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	evaluateCmd.Flags().Duration("window", 24*time.Hour, "how far back to read closed records")
	evaluateCmd.Flags().String("format", "markdown", "output format: markdown, json or html")
	evaluateCmd.Flags().String("output", "", "write the report to a file instead of stdout")
	rootCmd.AddCommand(evaluateCmd)
}
