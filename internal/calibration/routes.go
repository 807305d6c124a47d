package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// RunFunc executes one evaluate-then-calibrate pass over closed records
// from the given window and returns the run report. It must surface
// ErrRunInProgress when another run holds the calibrator.
type RunFunc func(ctx context.Context, window time.Duration) (Report, error)

// RegisterRoutes registers the calibration endpoints on the given router.
func RegisterRoutes(r chi.Router, run RunFunc, runs *RunStore, defaultWindow time.Duration) {
	r.Post("/api/calibration/run", func(w http.ResponseWriter, req *http.Request) {
		handleRun(w, req, run, defaultWindow)
	})
	r.Get("/api/calibration/runs", func(w http.ResponseWriter, req *http.Request) {
		handleListRuns(w, req, runs)
	})
}

func handleRun(w http.ResponseWriter, req *http.Request, run RunFunc, defaultWindow time.Duration) {
	window := defaultWindow
	if raw := req.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			http.Error(w, "window must be a positive duration like 24h", http.StatusBadRequest)
			return
		}
		window = d
	}

	report, err := run(req.Context(), window)
	switch {
	case errors.Is(err, ErrRunInProgress):
		http.Error(w, "a calibration run is already in progress", http.StatusConflict)
		return
	case err != nil:
		// The run failed but still produced an audit report.
		log.Printf("calibration run failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func handleListRuns(w http.ResponseWriter, req *http.Request, runs *RunStore) {
	limit := 50
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	out, err := runs.ListRuns(req.Context(), limit)
	if err != nil {
		log.Printf("failed to list calibration runs: %v", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
