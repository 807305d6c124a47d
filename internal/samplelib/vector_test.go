package samplelib

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/intentops/intent-eval/internal/embeddings"
)

func testMirror(t *testing.T) *Mirror {
	t.Helper()
	m, err := NewMirror(embeddings.NewLocalEmbedder())
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	return m
}

func TestMirrorRebuildAndSearch(t *testing.T) {
	m := testMirror(t)

	entries := []Entry{
		{Input: "what is the weather in beijing", Output: Output{Intent: "10", Slots: map[string]string{"city": "beijing"}}},
		{Input: "book a flight to shanghai", Output: Output{Intent: "20", Slots: map[string]string{"dest": "shanghai"}}},
		{Input: "play some jazz music", Output: Output{Intent: "30"}},
	}
	if err := m.Rebuild(context.Background(), entries); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if m.Count() != 3 {
		t.Fatalf("count = %d, want 3", m.Count())
	}

	results, err := m.Search(context.Background(), "what is the weather in beijing today", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Entry.Output.Intent != "10" {
		t.Errorf("top result intent = %q, want 10", results[0].Entry.Output.Intent)
	}
	if results[0].Entry.Output.Slots["city"] != "beijing" {
		t.Errorf("top result slots = %v, want city=beijing", results[0].Entry.Output.Slots)
	}
}

func TestMirrorRebuildDropsStaleEntries(t *testing.T) {
	m := testMirror(t)

	first := []Entry{
		{Input: "cancel my order", Output: Output{Intent: "40"}},
		{Input: "track my package", Output: Output{Intent: "40"}},
	}
	if err := m.Rebuild(context.Background(), first); err != nil {
		t.Fatalf("first Rebuild: %v", err)
	}

	second := []Entry{
		{Input: "track my package", Output: Output{Intent: "40"}},
	}
	if err := m.Rebuild(context.Background(), second); err != nil {
		t.Fatalf("second Rebuild: %v", err)
	}

	if m.Count() != 1 {
		t.Fatalf("count after rebuild = %d, want 1", m.Count())
	}
	results, err := m.Search(context.Background(), "cancel my order", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Entry.Input == "cancel my order" {
			t.Error("stale entry survived rebuild")
		}
	}
}

func TestMirrorSearchEmpty(t *testing.T) {
	m := testMirror(t)
	if err := m.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	results, err := m.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty mirror, want 0", len(results))
	}
}

func TestLibraryRoutes(t *testing.T) {
	lib, err := Load(filepath.Join(t.TempDir(), "lib.json"), 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := lib.Insert(Entry{Input: "what time is it", Output: Output{Intent: "90"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	m := testMirror(t)
	if err := m.Rebuild(context.Background(), lib.List()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	r := chi.NewRouter()
	RegisterRoutes(r, lib, m)

	// List.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/library", nil))
	if rec.Code != 200 {
		t.Fatalf("list status = %d, body %s", rec.Code, rec.Body.String())
	}
	var listResp struct {
		Size    int     `json:"size"`
		MaxSize int     `json:"max_size"`
		Entries []Entry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if listResp.Size != 1 || len(listResp.Entries) != 1 {
		t.Errorf("list response = %+v, want 1 entry", listResp)
	}

	// Search.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/library/search?q=what+time", nil))
	if rec.Code != 200 {
		t.Fatalf("search status = %d, body %s", rec.Code, rec.Body.String())
	}
	var searchResp struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &searchResp); err != nil {
		t.Fatalf("decode search response: %v", err)
	}
	if len(searchResp.Results) != 1 {
		t.Errorf("got %d search results, want 1", len(searchResp.Results))
	}

	// Missing query parameter.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/library/search", nil))
	if rec.Code != 400 {
		t.Errorf("missing q status = %d, want 400", rec.Code)
	}
}
