package calibration

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/intentops/intent-eval/internal/db"
)

func setupRunStore(t *testing.T) *RunStore {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRunStore(database)
}

func sampleReport(id string, started time.Time) Report {
	return Report{
		ID:                id,
		StartedAt:         started,
		FinishedAt:        started.Add(2 * time.Second),
		BackupPath:        "data/backups/sample_library_20260828T120000.json",
		Removed:           1,
		Added:             3,
		LibrarySizeBefore: 10,
		LibrarySizeAfter:  12,
		Actions:           []string{"removed 1 of 1 problem samples", "added 3 of 3 quality samples"},
		Alerts: []Alert{
			{Severity: SeverityWarning, Message: "intent 20 F1 0.650 is below 0.70", Metric: metricValue(0.65)},
		},
		Recommendations: []Recommendation{
			{Intent: "20", Issue: "F1 0.650 with precision below recall", Suggestion: "add boundary samples"},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := setupRunStore(t)
	ctx := context.Background()

	want := sampleReport("run-1", time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))
	if err := store.SaveRun(ctx, want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.Added != 3 || got.Removed != 1 {
		t.Errorf("counts = added %d removed %d, want 3/1", got.Added, got.Removed)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, want.StartedAt)
	}
	if len(got.Alerts) != 1 || got.Alerts[0].Severity != SeverityWarning {
		t.Errorf("alerts = %+v", got.Alerts)
	}
	if got.Alerts[0].Metric == nil || *got.Alerts[0].Metric != 0.65 {
		t.Errorf("alert metric = %v, want 0.65", got.Alerts[0].Metric)
	}
	if len(got.Recommendations) != 1 || got.Recommendations[0].Intent != "20" {
		t.Errorf("recommendations = %+v", got.Recommendations)
	}
}

func TestSaveFailedRun(t *testing.T) {
	store := setupRunStore(t)
	ctx := context.Background()

	r := Report{
		ID:         "run-failed",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Failed:     true,
		Error:      "backup before mutation: disk full",
		Actions:    []string{"backup failed, library untouched"},
		Alerts:     []Alert{},
	}
	if err := store.SaveRun(ctx, r); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-failed")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !got.Failed || got.Error == "" {
		t.Errorf("failed run not round-tripped: %+v", got)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupRunStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := store.SaveRun(ctx, sampleReport(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("order = %s, %s; want new, mid", runs[0].ID, runs[1].ID)
	}
}

func TestCalibrationRoutes(t *testing.T) {
	store := setupRunStore(t)
	ctx := context.Background()
	if err := store.SaveRun(ctx, sampleReport("run-1", time.Now().UTC())); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	busy := false
	run := func(ctx context.Context, window time.Duration) (Report, error) {
		if busy {
			return Report{}, ErrRunInProgress
		}
		return sampleReport("run-2", time.Now().UTC()), nil
	}

	r := chi.NewRouter()
	RegisterRoutes(r, run, store, 24*time.Hour)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/api/calibration/run", nil))
	if rec.Code != 200 {
		t.Fatalf("run status = %d, body %s", rec.Code, rec.Body.String())
	}

	busy = true
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/api/calibration/run", nil))
	if rec.Code != 409 {
		t.Errorf("concurrent run status = %d, want 409", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/api/calibration/run?window=bogus", nil))
	if rec.Code != 400 {
		t.Errorf("bad window status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/calibration/runs", nil))
	if rec.Code != 200 {
		t.Fatalf("list status = %d, body %s", rec.Code, rec.Body.String())
	}
}
