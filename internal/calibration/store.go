package calibration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/intentops/intent-eval/internal/db"
)

// RunStore persists calibration run reports as the audit trail of every
// automatic library mutation, failed runs included.
type RunStore struct {
	db *db.DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(database *db.DB) *RunStore {
	return &RunStore{db: database}
}

// SaveRun writes one run report.
func (s *RunStore) SaveRun(ctx context.Context, r Report) error {
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	alerts, err := json.Marshal(r.Alerts)
	if err != nil {
		return fmt.Errorf("marshal alerts: %w", err)
	}
	recs, err := json.Marshal(r.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calibration_runs (
			id, started_at, finished_at, failed, error, backup_path,
			removed_count, added_count, library_size_before, library_size_after,
			actions, alerts, recommendations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		boolToInt(r.Failed),
		r.Error,
		r.BackupPath,
		r.Removed,
		r.Added,
		r.LibrarySizeBefore,
		r.LibrarySizeAfter,
		string(actions),
		string(alerts),
		string(recs),
	)
	if err != nil {
		return fmt.Errorf("insert calibration run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, most recent first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, failed, error, backup_path,
		       removed_count, added_count, library_size_before, library_size_after,
		       actions, alerts, recommendations
		FROM calibration_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calibration runs: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns a single run by id.
func (s *RunStore) GetRun(ctx context.Context, id string) (Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, failed, error, backup_path,
		       removed_count, added_count, library_size_before, library_size_after,
		       actions, alerts, recommendations
		FROM calibration_runs
		WHERE id = ?`, id)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Report{}, fmt.Errorf("calibration run %s not found", id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Report, error) {
	var (
		r                     Report
		started, finished     string
		failed                int
		actions, alerts, recs string
	)
	err := row.Scan(
		&r.ID, &started, &finished, &failed, &r.Error, &r.BackupPath,
		&r.Removed, &r.Added, &r.LibrarySizeBefore, &r.LibrarySizeAfter,
		&actions, &alerts, &recs,
	)
	if err != nil {
		return Report{}, err
	}

	r.Failed = failed != 0
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Report{}, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Report{}, fmt.Errorf("parse finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return Report{}, fmt.Errorf("decode actions: %w", err)
	}
	if err := json.Unmarshal([]byte(alerts), &r.Alerts); err != nil {
		return Report{}, fmt.Errorf("decode alerts: %w", err)
	}
	if err := json.Unmarshal([]byte(recs), &r.Recommendations); err != nil {
		return Report{}, fmt.Errorf("decode recommendations: %w", err)
	}
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
