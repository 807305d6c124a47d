// Package report formats evaluation metrics and calibration results into
// human- or machine-readable documents. Pure formatting: everything in the
// output is derived from the two inputs.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/intentops/intent-eval/internal/calibration"
	"github.com/intentops/intent-eval/internal/evaluation"
)

// Format selects the output representation.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
)

// ErrUnsupportedFormat is returned for a format outside the supported set.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// ContentType returns the MIME type for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Document pairs the metrics with an optional calibration report for
// machine-readable output.
type Document struct {
	Metrics     evaluation.Metrics  `json:"metrics"`
	Calibration *calibration.Report `json:"calibration,omitempty"`
}

// Render formats the metrics and optional calibration report. The
// calibration report may be nil when no run accompanies the evaluation.
func Render(m evaluation.Metrics, cal *calibration.Report, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		out, err := json.MarshalIndent(Document{Metrics: m, Calibration: cal}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		return append(out, '\n'), nil
	case FormatMarkdown:
		return renderMarkdown(m, cal), nil
	case FormatHTML:
		md := renderMarkdown(m, cal)
		var buf bytes.Buffer
		converter := goldmark.New(goldmark.WithExtensions(extension.GFM))
		if err := converter.Convert(md, &buf); err != nil {
			return nil, fmt.Errorf("convert report to html: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func renderMarkdown(m evaluation.Metrics, cal *calibration.Report) []byte {
	var b strings.Builder

	b.WriteString("# Intent Evaluation Report\n\n")
	if !m.WindowStart.IsZero() || !m.WindowEnd.IsZero() {
		fmt.Fprintf(&b, "Window: %s to %s\n\n",
			m.WindowStart.Format("2006-01-02 15:04:05 MST"),
			m.WindowEnd.Format("2006-01-02 15:04:05 MST"))
	}

	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Records | %d |\n", m.TotalRecords)
	fmt.Fprintf(&b, "| Labeled records | %d |\n", m.LabeledRecords)
	fmt.Fprintf(&b, "| Intent accuracy (%s) | %.3f |\n", m.AccuracySource, m.IntentAccuracy)
	fmt.Fprintf(&b, "| Slot micro F1 | %.3f |\n", m.Slots.MicroF1)
	fmt.Fprintf(&b, "| Slot exact match | %.3f |\n", m.Slots.ExactMatchRate)
	fmt.Fprintf(&b, "| Conversion rate | %.3f |\n", m.ConversionRate)
	fmt.Fprintf(&b, "| Rephrase rate | %.3f |\n", m.RephraseRate)
	fmt.Fprintf(&b, "| Expected calibration error | %.3f |\n", m.ECE)
	fmt.Fprintf(&b, "| Low-confidence records | %d |\n", m.LowConfidenceCount)
	if m.OODRate >= 0 {
		fmt.Fprintf(&b, "| OOD detection rate | %.3f |\n", m.OODRate)
	}
	b.WriteString("\n")

	if len(m.PerIntent) > 0 {
		b.WriteString("## Per-Intent\n\n")
		b.WriteString("| Intent | Precision | Recall | F1 | Support |\n|---|---|---|---|---|\n")
		for _, intent := range sortedKeys(m.PerIntent) {
			prf := m.PerIntent[intent]
			fmt.Fprintf(&b, "| %s | %.3f | %.3f | %.3f | %d |\n",
				intent, prf.Precision, prf.Recall, prf.F1, prf.Support)
		}
		b.WriteString("\n")
	}

	writeConfusion(&b, m.Confusion)

	if cal != nil {
		writeCalibration(&b, cal)
	}

	return []byte(b.String())
}

func writeConfusion(b *strings.Builder, confusion map[string]map[string]int) {
	if len(confusion) == 0 {
		return
	}

	// Column set is the union of predicted intents across all rows.
	colSet := make(map[string]bool)
	for _, row := range confusion {
		for predicted := range row {
			colSet[predicted] = true
		}
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	b.WriteString("## Confusion Matrix\n\n")
	b.WriteString("| actual \\ predicted |")
	for _, c := range cols {
		fmt.Fprintf(b, " %s |", c)
	}
	b.WriteString("\n|---|")
	for range cols {
		b.WriteString("---|")
	}
	b.WriteString("\n")

	for _, actual := range sortedKeys(confusion) {
		fmt.Fprintf(b, "| %s |", actual)
		for _, c := range cols {
			fmt.Fprintf(b, " %d |", confusion[actual][c])
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeCalibration(b *strings.Builder, cal *calibration.Report) {
	b.WriteString("## Calibration\n\n")
	if cal.Failed {
		fmt.Fprintf(b, "**Run failed:** %s\n\n", cal.Error)
	}
	fmt.Fprintf(b, "Library: %d -> %d samples (%d removed, %d added)\n\n",
		cal.LibrarySizeBefore, cal.LibrarySizeAfter, cal.Removed, cal.Added)
	if cal.BackupPath != "" {
		fmt.Fprintf(b, "Backup: `%s`\n\n", cal.BackupPath)
	}

	if len(cal.Alerts) > 0 {
		b.WriteString("### Alerts\n\n")
		for _, a := range cal.Alerts {
			fmt.Fprintf(b, "- **%s**: %s\n", strings.ToUpper(string(a.Severity)), a.Message)
		}
		b.WriteString("\n")
	}

	if len(cal.Actions) > 0 {
		b.WriteString("### Actions\n\n")
		for _, a := range cal.Actions {
			fmt.Fprintf(b, "- %s\n", a)
		}
		b.WriteString("\n")
	}

	if len(cal.Recommendations) > 0 {
		b.WriteString("### Recommendations\n\n")
		for _, r := range cal.Recommendations {
			if r.Intent != "" {
				fmt.Fprintf(b, "- intent %s: %s. %s\n", r.Intent, r.Issue, r.Suggestion)
			} else {
				fmt.Fprintf(b, "- %s. %s\n", r.Issue, r.Suggestion)
			}
		}
		b.WriteString("\n")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
