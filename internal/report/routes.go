package report

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/intentops/intent-eval/internal/evaluation"
)

// MetricsFunc computes metrics over closed records in [since, until).
// Zero times mean unbounded.
type MetricsFunc func(ctx context.Context, since, until time.Time) (evaluation.Metrics, error)

// RegisterRoutes registers the report endpoint on the given router.
func RegisterRoutes(r chi.Router, metrics MetricsFunc) {
	r.Get("/api/report", func(w http.ResponseWriter, req *http.Request) {
		handleReport(w, req, metrics)
	})
}

func handleReport(w http.ResponseWriter, req *http.Request, metrics MetricsFunc) {
	format := Format(req.URL.Query().Get("format"))
	if format == "" {
		format = FormatMarkdown
	}

	since, until, err := parseWindow(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := metrics(req.Context(), since, until)
	if err != nil {
		log.Printf("failed to compute metrics: %v", err)
		http.Error(w, "failed to compute metrics", http.StatusInternalServerError)
		return
	}

	out, err := Render(m, nil, format)
	if errors.Is(err, ErrUnsupportedFormat) {
		http.Error(w, "format must be markdown, json or html", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("failed to render report: %v", err)
		http.Error(w, "failed to render report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func parseWindow(req *http.Request) (since, until time.Time, err error) {
	if raw := req.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("since must be RFC3339")
		}
	}
	if raw := req.URL.Query().Get("until"); raw != "" {
		until, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("until must be RFC3339")
		}
	}
	return since, until, nil
}
