// Package calibration turns evaluation metrics and closed records into
// bounded, reversible sample-library edits plus alerts and recommendations.
package calibration

import "time"

// Severity ranks an alert. Critical alerts differ from warnings only by
// severity; neither triggers action beyond the bounded library edits.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert flags a metric that crossed a configured threshold.
type Alert struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	// Metric is the offending value, when one exists.
	Metric *float64 `json:"metric,omitempty"`
}

// Recommendation suggests a manual sample-library improvement for one
// intent, or for OOD coverage when Intent is empty.
type Recommendation struct {
	Intent     string `json:"intent,omitempty"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion"`
}

// Report is the audit trail of one calibration run: every action taken,
// every alert raised, and the mutation counts.
type Report struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`

	BackupPath        string `json:"backup_path,omitempty"`
	Removed           int    `json:"removed"`
	Added             int    `json:"added"`
	LibrarySizeBefore int    `json:"library_size_before"`
	LibrarySizeAfter  int    `json:"library_size_after"`

	Actions         []string         `json:"actions"`
	Alerts          []Alert          `json:"alerts"`
	Recommendations []Recommendation `json:"recommendations"`
}

func metricValue(v float64) *float64 {
	return &v
}
