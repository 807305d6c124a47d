package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/intentops/intent-eval/internal/db"
)

// Store is the append-only log of closed prediction records.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Append writes a batch of closed records in one transaction. Records are
// written once and never updated.
func (s *Store) Append(ctx context.Context, records []PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feedback_records (
			id, created_at, closed_at, query, predicted_intent, predicted_slots,
			confidence, retrieved_docs, actual_intent, actual_slots,
			feedback_source, feedback_signal, feedback_detail, feedback_at,
			business_api, business_api_success, business_converted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		slots, err := json.Marshal(orEmptyMap(rec.PredictedSlots))
		if err != nil {
			return fmt.Errorf("marshalling predicted slots: %w", err)
		}
		docs, err := json.Marshal(orEmptyDocs(rec.RetrievedDocs))
		if err != nil {
			return fmt.Errorf("marshalling retrieved docs: %w", err)
		}

		var actualIntent, actualSlots sql.NullString
		if rec.ActualIntent != "" {
			actualIntent = sql.NullString{String: rec.ActualIntent, Valid: true}
		}
		if rec.ActualSlots != nil {
			b, err := json.Marshal(rec.ActualSlots)
			if err != nil {
				return fmt.Errorf("marshalling actual slots: %w", err)
			}
			actualSlots = sql.NullString{String: string(b), Valid: true}
		}

		var fbSource, fbSignal, fbDetail, fbAt sql.NullString
		if rec.Feedback != nil {
			if rec.Feedback.Source != "" {
				fbSource = sql.NullString{String: string(rec.Feedback.Source), Valid: true}
			}
			fbSignal = sql.NullString{String: string(rec.Feedback.Signal), Valid: true}
			if rec.Feedback.Detail != "" {
				fbDetail = sql.NullString{String: rec.Feedback.Detail, Valid: true}
			}
			fbAt = sql.NullString{String: rec.Feedback.At.UTC().Format(time.RFC3339Nano), Valid: true}
		}

		var bizAPI sql.NullString
		var bizSuccess, bizConverted sql.NullInt64
		if rec.Business != nil {
			if rec.Business.APIName != "" {
				bizAPI = sql.NullString{String: rec.Business.APIName, Valid: true}
			}
			bizSuccess = sql.NullInt64{Int64: boolToInt(rec.Business.APISuccess), Valid: true}
			if rec.Business.Converted != nil {
				bizConverted = sql.NullInt64{Int64: boolToInt(*rec.Business.Converted), Valid: true}
			}
		}

		if _, err := stmt.ExecContext(ctx,
			rec.ID,
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			rec.ClosedAt.UTC().Format(time.RFC3339Nano),
			rec.Query,
			rec.PredictedIntent,
			string(slots),
			rec.Confidence,
			string(docs),
			actualIntent,
			actualSlots,
			fbSource,
			fbSignal,
			fbDetail,
			fbAt,
			bizAPI,
			bizSuccess,
			bizConverted,
		); err != nil {
			return fmt.Errorf("inserting record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// GetByID retrieves a single closed record.
func (s *Store) GetByID(ctx context.Context, id string) (*PredictionRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM feedback_records WHERE id = ?", id)
	return scanRecord(row)
}

// QueryWindow returns all records closed within [since, until], ordered by
// close time. This is the snapshot the evaluation engine and calibrator
// operate on.
func (s *Store) QueryWindow(ctx context.Context, since, until time.Time) ([]PredictionRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if !since.IsZero() {
		clauses = append(clauses, "closed_at >= ?")
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	if !until.IsZero() {
		clauses = append(clauses, "closed_at <= ?")
		args = append(args, until.UTC().Format(time.RFC3339Nano))
	}

	query := selectColumns + " FROM feedback_records"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY closed_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []PredictionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Count returns the total number of closed records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

const selectColumns = `SELECT id, created_at, closed_at, query, predicted_intent, predicted_slots,
	confidence, retrieved_docs, actual_intent, actual_slots,
	feedback_source, feedback_signal, feedback_detail, feedback_at,
	business_api, business_api_success, business_converted`

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*PredictionRecord, error) {
	var (
		rec                          PredictionRecord
		createdAt, closedAt          string
		slotsJSON, docsJSON          string
		actualIntent, actualSlots    sql.NullString
		fbSource, fbSignal, fbDetail sql.NullString
		fbAt                         sql.NullString
		bizAPI                       sql.NullString
		bizSuccess, bizConverted     sql.NullInt64
	)

	err := sc.Scan(
		&rec.ID, &createdAt, &closedAt, &rec.Query, &rec.PredictedIntent, &slotsJSON,
		&rec.Confidence, &docsJSON, &actualIntent, &actualSlots,
		&fbSource, &fbSignal, &fbDetail, &fbAt,
		&bizAPI, &bizSuccess, &bizConverted,
	)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt)

	if err := json.Unmarshal([]byte(slotsJSON), &rec.PredictedSlots); err != nil {
		rec.PredictedSlots = nil
	}
	if err := json.Unmarshal([]byte(docsJSON), &rec.RetrievedDocs); err != nil {
		rec.RetrievedDocs = nil
	}
	if len(rec.PredictedSlots) == 0 {
		rec.PredictedSlots = nil
	}
	if len(rec.RetrievedDocs) == 0 {
		rec.RetrievedDocs = nil
	}

	if actualIntent.Valid {
		rec.ActualIntent = actualIntent.String
	}
	if actualSlots.Valid {
		if err := json.Unmarshal([]byte(actualSlots.String), &rec.ActualSlots); err != nil {
			rec.ActualSlots = nil
		}
	}

	if fbSignal.Valid {
		fb := &Feedback{Signal: Signal(fbSignal.String)}
		if fbSource.Valid {
			fb.Source = Source(fbSource.String)
		}
		if fbDetail.Valid {
			fb.Detail = fbDetail.String
		}
		if fbAt.Valid {
			fb.At, _ = time.Parse(time.RFC3339Nano, fbAt.String)
		}
		rec.Feedback = fb
	}

	if bizAPI.Valid || bizSuccess.Valid || bizConverted.Valid {
		biz := &BusinessOutcome{}
		if bizAPI.Valid {
			biz.APIName = bizAPI.String
		}
		if bizSuccess.Valid {
			biz.APISuccess = bizSuccess.Int64 == 1
		}
		if bizConverted.Valid {
			v := bizConverted.Int64 == 1
			biz.Converted = &v
		}
		rec.Business = biz
	}

	return &rec, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyDocs(d []RetrievedDoc) []RetrievedDoc {
	if d == nil {
		return []RetrievedDoc{}
	}
	return d
}
