package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/intentops/intent-eval/internal/calibration"
	"github.com/intentops/intent-eval/internal/feedback"
	"github.com/intentops/intent-eval/internal/notifications"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run one evaluate-then-calibrate pass",
	Long: `Evaluates closed records from the given window and applies the
calibration policy: alerts on degraded metrics and bounded edits to the
sample library, preceded by a verified backup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		window, _ := cmd.Flags().GetDuration("window")

		database, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		lib, mirror, err := openLibrary(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		dispatcher := notifications.NewDispatcher(notifications.NewStore(database), cfg.Schedule.WebhookURL)
		runStore := calibration.NewRunStore(database)
		calibrator := calibration.NewCalibrator(cfg.Calibration, lib, mirror, runStore, dispatcher)
		run := makeRunFunc(cfg, feedback.NewStore(database), calibrator)

		report, runErr := run(cmd.Context(), window)

		fmt.Printf("Calibration run %s\n", report.ID)
		fmt.Printf("Library: %d -> %d samples (%d removed, %d added)\n",
			report.LibrarySizeBefore, report.LibrarySizeAfter, report.Removed, report.Added)
		if report.BackupPath != "" {
			fmt.Printf("Backup: %s\n", report.BackupPath)
		}
		for _, a := range report.Alerts {
			fmt.Printf("[%s] %s\n", a.Severity, a.Message)
		}
		for _, r := range report.Recommendations {
			if r.Intent != "" {
				fmt.Printf("recommend (intent %s): %s\n", r.Intent, r.Suggestion)
			} else {
				fmt.Printf("recommend: %s\n", r.Suggestion)
			}
		}
		for _, action := range report.Actions {
			if verbose {
				fmt.Printf("action: %s\n", action)
			}
		}

		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Run failed: %v\n", runErr)
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	calibrateCmd.Flags().Duration("window", 24*time.Hour, "how far back to read closed records")
	rootCmd.AddCommand(calibrateCmd)
}
