// Package scheduler runs periodic evaluate-then-calibrate passes on a cron
// schedule.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/intentops/intent-eval/internal/calibration"
	"github.com/intentops/intent-eval/internal/config"
)

// Scheduler triggers calibration runs on a 5-field cron expression.
type Scheduler struct {
	cfg     config.ScheduleConfig
	run     calibration.RunFunc
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// New creates a Scheduler. Call Start to begin; an empty cron expression
// makes Start a no-op.
func New(cfg config.ScheduleConfig, run calibration.RunFunc) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		run:  run,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start parses the schedule and launches the background loop. An invalid
// expression is reported as an error rather than silently disabling runs.
func (s *Scheduler) Start() error {
	if s.cfg.Cron == "" {
		log.Println("scheduled calibration disabled (schedule.cron not set)")
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(s.cfg.Cron)
	if err != nil {
		return err
	}

	log.Printf("calibration scheduled (cron: %s, window: %s)", s.cfg.Cron, s.cfg.Window)

	s.running = true
	go s.loop(sched)
	return nil
}

func (s *Scheduler) loop(sched cron.Schedule) {
	defer close(s.done)

	for {
		now := time.Now()
		next := sched.Next(now)
		log.Printf("next scheduled calibration at %s", next.Format("Mon Jan 2 15:04"))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.runOnce()
	}
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := s.run(ctx, s.cfg.Window)
	switch {
	case errors.Is(err, calibration.ErrRunInProgress):
		log.Println("scheduled calibration skipped: a run is already in progress")
	case err != nil:
		log.Printf("scheduled calibration failed: %v", err)
	default:
		log.Printf("scheduled calibration complete: %d removed, %d added, %d alerts",
			report.Removed, report.Added, len(report.Alerts))
	}
}

// Stop halts the loop. Safe to call when the schedule was empty or Start
// was never called.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.running {
		<-s.done
	}
}
