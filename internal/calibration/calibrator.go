package calibration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intentops/intent-eval/internal/config"
	"github.com/intentops/intent-eval/internal/evaluation"
	"github.com/intentops/intent-eval/internal/feedback"
	"github.com/intentops/intent-eval/internal/samplelib"
)

// ErrRunInProgress is returned when a calibration run is requested while
// another is still executing. Runs are serialized to preserve the
// backup-then-mutate guarantee.
var ErrRunInProgress = errors.New("calibration run already in progress")

// AlertSink receives a run's alerts for out-of-band delivery. Delivery
// failures are logged, never fatal to the run.
type AlertSink interface {
	Enqueue(ctx context.Context, runID string, alerts []Alert) error
}

// Calibrator applies the calibration policy to a metrics snapshot and the
// records behind it. It is the only writer of the sample library.
type Calibrator struct {
	cfg    config.CalibrationConfig
	lib    *samplelib.Library
	mirror *samplelib.Mirror
	runs   *RunStore
	sink   AlertSink

	mu      sync.Mutex
	running bool
}

// NewCalibrator creates a Calibrator. mirror, runs and sink may each be
// nil; the corresponding step is skipped.
func NewCalibrator(cfg config.CalibrationConfig, lib *samplelib.Library, mirror *samplelib.Mirror, runs *RunStore, sink AlertSink) *Calibrator {
	return &Calibrator{
		cfg:    cfg,
		lib:    lib,
		mirror: mirror,
		runs:   runs,
		sink:   sink,
	}
}

// Run executes one calibration pass: evaluate alerts, select quality and
// problem samples, and when either set is non-empty, backup then mutate
// the library. The returned report is also persisted to the run store.
// A second concurrent call fails with ErrRunInProgress.
func (c *Calibrator) Run(ctx context.Context, metrics evaluation.Metrics, records []feedback.PredictionRecord) (Report, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return Report{}, ErrRunInProgress
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	report := Report{
		ID:                uuid.NewString(),
		StartedAt:         time.Now().UTC(),
		LibrarySizeBefore: c.lib.Size(),
		Actions:           []string{},
		Alerts:            c.evaluateAlerts(metrics),
		Recommendations:   c.recommend(metrics),
	}

	quality := c.selectQualitySamples(records)
	problems := selectProblemSamples(records)

	runErr := c.mutate(ctx, &report, quality, problems)
	if runErr != nil {
		report.Failed = true
		report.Error = runErr.Error()
	}
	report.LibrarySizeAfter = c.lib.Size()
	report.FinishedAt = time.Now().UTC()

	c.finish(ctx, report)
	return report, runErr
}

// finish persists the run and hands alerts to the sink. Both are best
// effort; the report itself has already been produced.
func (c *Calibrator) finish(ctx context.Context, report Report) {
	if c.runs != nil {
		if err := c.runs.SaveRun(ctx, report); err != nil {
			log.Printf("failed to persist calibration run %s: %v", report.ID, err)
		}
	}
	if c.sink != nil && len(report.Alerts) > 0 {
		if err := c.sink.Enqueue(ctx, report.ID, report.Alerts); err != nil {
			log.Printf("failed to enqueue alerts for run %s: %v", report.ID, err)
		}
	}
}

func (c *Calibrator) evaluateAlerts(m evaluation.Metrics) []Alert {
	alerts := []Alert{}

	if m.IntentAccuracy < c.cfg.AccuracyFloor {
		alerts = append(alerts, Alert{
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("intent accuracy %.3f is below the floor %.2f", m.IntentAccuracy, c.cfg.AccuracyFloor),
			Metric:   metricValue(m.IntentAccuracy),
		})
	}

	for _, intent := range sortedIntents(m.PerIntent) {
		prf := m.PerIntent[intent]
		if prf.Support > 0 && prf.F1 < c.cfg.F1WarnThreshold {
			alerts = append(alerts, Alert{
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("intent %s F1 %.3f is below %.2f", intent, prf.F1, c.cfg.F1WarnThreshold),
				Metric:   metricValue(prf.F1),
			})
		}
	}

	if m.ECE > c.cfg.ECEMax {
		alerts = append(alerts, Alert{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("expected calibration error %.3f exceeds %.2f", m.ECE, c.cfg.ECEMax),
			Metric:   metricValue(m.ECE),
		})
	}

	return alerts
}

func (c *Calibrator) recommend(m evaluation.Metrics) []Recommendation {
	recs := []Recommendation{}

	for _, intent := range sortedIntents(m.PerIntent) {
		prf := m.PerIntent[intent]
		if prf.Support == 0 || prf.F1 >= c.cfg.F1RecommendThreshold {
			continue
		}
		if prf.Precision < prf.Recall {
			recs = append(recs, Recommendation{
				Intent:     intent,
				Issue:      fmt.Sprintf("F1 %.3f with precision below recall", prf.F1),
				Suggestion: "add boundary samples that disambiguate this intent from its neighbors",
			})
		} else {
			recs = append(recs, Recommendation{
				Intent:     intent,
				Issue:      fmt.Sprintf("F1 %.3f with recall below precision", prf.F1),
				Suggestion: "add paraphrase diversity samples for this intent",
			})
		}
	}

	// Negative means the OOD rate was never measured.
	if m.OODRate >= 0 && m.OODRate < c.cfg.OODRateFloor {
		recs = append(recs, Recommendation{
			Issue:      fmt.Sprintf("OOD detection rate %.3f is below %.2f", m.OODRate, c.cfg.OODRateFloor),
			Suggestion: "add more out-of-distribution samples to the library",
		})
	}

	return recs
}

// qualityScore rates a feedback-bearing record's fitness as a library
// sample. Records scoring at least QualityScoreMin become insertion
// candidates.
func qualityScore(r feedback.PredictionRecord) int {
	if r.Feedback == nil {
		return 0
	}
	score := 0
	if r.Feedback.Signal == feedback.SignalPositive {
		score += 2
	}
	if r.Business != nil && r.Business.APISuccess {
		score += 2
	}
	if r.Confidence >= 0.9 {
		score++
	}
	if r.Feedback.Source == feedback.SourceBusinessAPI {
		score++
	}
	return score
}

func (c *Calibrator) selectQualitySamples(records []feedback.PredictionRecord) []samplelib.Entry {
	var out []samplelib.Entry
	seen := make(map[string]bool)
	for _, r := range records {
		if r.Query == "" || r.PredictedIntent == "" || seen[r.Query] {
			continue
		}
		if qualityScore(r) < c.cfg.QualityScoreMin {
			continue
		}
		seen[r.Query] = true
		out = append(out, samplelib.Entry{
			Input: r.Query,
			Output: samplelib.Output{
				Intent: r.PredictedIntent,
				Slots:  r.PredictedSlots,
			},
		})
	}
	return out
}

// selectProblemSamples returns the query texts of negative-feedback
// records, matched against the library by exact input-text equality.
func selectProblemSamples(records []feedback.PredictionRecord) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range records {
		if r.Feedback == nil || r.Feedback.Signal != feedback.SignalNegative {
			continue
		}
		if r.Query == "" || seen[r.Query] {
			continue
		}
		seen[r.Query] = true
		out = append(out, r.Query)
	}
	return out
}

// mutate applies the backup-then-edit sequence. No candidates means no
// backup and no library write at all.
func (c *Calibrator) mutate(ctx context.Context, report *Report, quality []samplelib.Entry, problems []string) error {
	if len(quality) == 0 && len(problems) == 0 {
		report.Actions = append(report.Actions, "no candidate samples, library untouched")
		return nil
	}

	backupPath, err := c.lib.Backup(c.cfg.BackupDir)
	if err != nil {
		report.Actions = append(report.Actions, "backup failed, library untouched")
		return fmt.Errorf("backup before mutation: %w", err)
	}
	report.BackupPath = backupPath
	if backupPath != "" {
		report.Actions = append(report.Actions, fmt.Sprintf("backed up library to %s", backupPath))
	}

	for _, query := range problems {
		switch err := c.lib.Remove(query); {
		case err == nil:
			report.Removed++
		case errors.Is(err, samplelib.ErrNotFound):
			// Already absent; re-removal is a no-op.
		default:
			return fmt.Errorf("remove sample: %w", err)
		}
	}
	if len(problems) > 0 {
		report.Actions = append(report.Actions, fmt.Sprintf("removed %d of %d problem samples", report.Removed, len(problems)))
	}

	capacityReached := false
	for _, entry := range quality {
		switch err := c.lib.Insert(entry); {
		case err == nil:
			report.Added++
		case errors.Is(err, samplelib.ErrDuplicate):
			// Already present; idempotent re-run.
		case errors.Is(err, samplelib.ErrLibraryFull):
			capacityReached = true
		default:
			return fmt.Errorf("insert sample: %w", err)
		}
		if capacityReached {
			break
		}
	}
	report.Actions = append(report.Actions, fmt.Sprintf("added %d of %d quality samples", report.Added, len(quality)))
	if capacityReached {
		report.Actions = append(report.Actions, fmt.Sprintf("library capacity %d reached, remaining candidates skipped", c.lib.MaxSize()))
	}

	if err := c.lib.Save(); err != nil {
		return fmt.Errorf("persist library: %w", err)
	}

	if c.mirror != nil && (report.Removed > 0 || report.Added > 0) {
		if err := c.mirror.Rebuild(ctx, c.lib.List()); err != nil {
			return fmt.Errorf("rebuild retrieval mirror: %w", err)
		}
		report.Actions = append(report.Actions, "rebuilt retrieval mirror")
	}

	return nil
}

func sortedIntents(perIntent map[string]evaluation.PRF) []string {
	intents := make([]string, 0, len(perIntent))
	for intent := range perIntent {
		intents = append(intents, intent)
	}
	sort.Strings(intents)
	return intents
}
