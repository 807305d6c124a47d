package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/intentops/intent-eval/internal/calibration"
	"github.com/intentops/intent-eval/internal/config"
)

func noopRun(ctx context.Context, window time.Duration) (calibration.Report, error) {
	return calibration.Report{}, nil
}

func TestStartWithEmptyCronIsDisabled(t *testing.T) {
	s := New(config.ScheduleConfig{Cron: ""}, noopRun)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}

func TestStartRejectsInvalidCron(t *testing.T) {
	s := New(config.ScheduleConfig{Cron: "not a cron"}, noopRun)
	if err := s.Start(); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	s.Stop()
}

func TestStartAndStop(t *testing.T) {
	s := New(config.ScheduleConfig{Cron: "0 3 * * *", Window: 24 * time.Hour}, noopRun)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestRunOncePassesWindow(t *testing.T) {
	var gotWindow time.Duration
	run := func(ctx context.Context, window time.Duration) (calibration.Report, error) {
		gotWindow = window
		return calibration.Report{}, nil
	}

	s := New(config.ScheduleConfig{Cron: "* * * * *", Window: 6 * time.Hour}, run)
	s.runOnce()

	if gotWindow != 6*time.Hour {
		t.Errorf("window = %v, want 6h", gotWindow)
	}
}

func TestRunOnceToleratesRunInProgress(t *testing.T) {
	run := func(ctx context.Context, window time.Duration) (calibration.Report, error) {
		return calibration.Report{}, calibration.ErrRunInProgress
	}

	s := New(config.ScheduleConfig{Cron: "* * * * *", Window: time.Hour}, run)
	// Must not panic or propagate; the in-progress run wins.
	s.runOnce()
}
