package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/intentops/intent-eval/internal/calibration"
	"github.com/intentops/intent-eval/internal/evaluation"
	"github.com/intentops/intent-eval/internal/feedback"
	"github.com/intentops/intent-eval/internal/notifications"
	"github.com/intentops/intent-eval/internal/report"
	"github.com/intentops/intent-eval/internal/samplelib"
	"github.com/intentops/intent-eval/internal/scheduler"
	"github.com/intentops/intent-eval/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the feedback collection and calibration server",
	Long: `Starts the HTTP server that accepts prediction records and feedback
from the serving layer, serves evaluation reports, and runs calibration
on demand or on the configured schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		recordStore := feedback.NewStore(database)
		collector := feedback.NewCollector(recordStore, cfg.Collector)

		lib, mirror, err := openLibrary(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		log.Printf("sample library loaded: %d samples", lib.Size())

		dispatcher := notifications.NewDispatcher(notifications.NewStore(database), cfg.Schedule.WebhookURL)
		runStore := calibration.NewRunStore(database)
		calibrator := calibration.NewCalibrator(cfg.Calibration, lib, mirror, runStore, dispatcher)
		runCalibration := makeRunFunc(cfg, recordStore, calibrator)

		srv := server.New(cfg.Server, database)
		feedback.RegisterRoutes(srv.Router(), collector)
		samplelib.RegisterRoutes(srv.Router(), lib, mirror)
		calibration.RegisterRoutes(srv.Router(), runCalibration, runStore, cfg.Schedule.Window)
		report.RegisterRoutes(srv.Router(), func(ctx context.Context, since, until time.Time) (evaluation.Metrics, error) {
			metrics, _, err := evaluateWindow(ctx, cfg, recordStore, since, until)
			return metrics, err
		})

		sched := scheduler.New(cfg.Schedule, runCalibration)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case sig := <-sigCh:
			log.Printf("received %s, shutting down", sig)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
		sched.Stop()

		// Drains remaining open records as expired and flushes them.
		if err := collector.Close(); err != nil {
			log.Printf("collector shutdown: %v", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
