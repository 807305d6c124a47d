package samplelib

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the sample library endpoints on the given router.
func RegisterRoutes(r chi.Router, lib *Library, mirror *Mirror) {
	r.Get("/api/library", func(w http.ResponseWriter, req *http.Request) {
		handleList(w, req, lib)
	})
	r.Get("/api/library/search", func(w http.ResponseWriter, req *http.Request) {
		handleSearch(w, req, mirror)
	})
}

func handleList(w http.ResponseWriter, _ *http.Request, lib *Library) {
	writeJSON(w, http.StatusOK, map[string]any{
		"size":     lib.Size(),
		"max_size": lib.MaxSize(),
		"entries":  lib.List(),
	})
}

func handleSearch(w http.ResponseWriter, req *http.Request, mirror *Mirror) {
	query := req.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q parameter is required", http.StatusBadRequest)
		return
	}

	limit := 10
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	results, err := mirror.Search(req.Context(), query, limit)
	if err != nil {
		log.Printf("library search failed: %v", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []SearchResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
