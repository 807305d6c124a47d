// Package notifications persists calibration alerts and delivers them to a
// configured webhook. Delivery is best effort; undelivered alerts stay
// queued and are retried on the next delivery pass.
package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/intentops/intent-eval/internal/db"
)

// AlertNotification is one persisted alert awaiting (or past) delivery.
type AlertNotification struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Metric    *float64  `json:"metric,omitempty"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}

// Store provides persistence for alert notifications.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create inserts a new alert notification. If n.ID is empty a UUID is
// generated.
func (s *Store) Create(ctx context.Context, n AlertNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	var metric sql.NullFloat64
	if n.Metric != nil {
		metric = sql.NullFloat64{Float64: *n.Metric, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_notifications (id, run_id, severity, message, metric, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RunID, n.Severity, n.Message, metric,
		boolToInt(n.Delivered), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting alert notification: %w", err)
	}
	return nil
}

// GetPending returns all undelivered alerts, oldest first.
func (s *Store) GetPending(ctx context.Context) ([]AlertNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, severity, message, metric, delivered, created_at
		FROM alert_notifications
		WHERE delivered = 0
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying pending alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertNotification
	for rows.Next() {
		n, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListByRun returns all alerts for one calibration run.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]AlertNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, severity, message, metric, delivered, created_at
		FROM alert_notifications
		WHERE run_id = ?
		ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying alerts for run: %w", err)
	}
	defer rows.Close()

	var out []AlertNotification
	for rows.Next() {
		n, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkDelivered sets delivered=1 for the given alert.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE alert_notifications SET delivered = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking alert delivered: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("alert %s not found", id)
	}
	return nil
}

func scanAlert(rows *sql.Rows) (AlertNotification, error) {
	var (
		n         AlertNotification
		metric    sql.NullFloat64
		delivered int
		ts        string
	)
	if err := rows.Scan(&n.ID, &n.RunID, &n.Severity, &n.Message, &metric, &delivered, &ts); err != nil {
		return AlertNotification{}, fmt.Errorf("scanning alert: %w", err)
	}
	if metric.Valid {
		n.Metric = &metric.Float64
	}
	n.Delivered = delivered != 0
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		n.CreatedAt = t
	} else if t, err := time.Parse(time.DateTime, ts); err == nil {
		n.CreatedAt = t
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
