package samplelib

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/intentops/intent-eval/internal/embeddings"
)

const collectionName = "sample_library"

// SearchResult is a library entry returned from similarity search together
// with its cosine similarity to the query.
type SearchResult struct {
	Entry      Entry   `json:"entry"`
	Similarity float32 `json:"similarity"`
}

// Mirror is the in-memory vector index over the sample library. It is a
// derived view: after any library mutation the caller rebuilds it from
// the JSON system of record, so index and file can never drift apart.
type Mirror struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	embedFunc  chromem.EmbeddingFunc
}

// NewMirror creates an empty mirror using the given embedder.
func NewMirror(embedder embeddings.Embedder) (*Mirror, error) {
	db := chromem.NewDB()
	ef := embeddings.ToChromemFunc(embedder)

	col, err := db.CreateCollection(collectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &Mirror{
		db:         db,
		collection: col,
		embedFunc:  ef,
	}, nil
}

// Rebuild drops the collection and re-indexes every entry. Embeddings are
// computed concurrently by chromem-go.
func (m *Mirror) Rebuild(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	col, err := m.db.CreateCollection(collectionName, nil, m.embedFunc)
	if err != nil {
		return fmt.Errorf("recreate collection: %w", err)
	}
	m.collection = col

	if len(entries) == 0 {
		return nil
	}

	docs, err := buildDocs(entries)
	if err != nil {
		return err
	}
	if err := col.AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("index samples: %w", err)
	}
	return nil
}

// Add indexes entries without dropping the collection, for incremental
// bulk loads. An entry whose input is already indexed is overwritten.
func (m *Mirror) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docs, err := buildDocs(entries)
	if err != nil {
		return err
	}
	if err := m.collection.AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("index samples: %w", err)
	}
	return nil
}

func buildDocs(entries []Entry) ([]chromem.Document, error) {
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		slots, err := json.Marshal(e.Output.Slots)
		if err != nil {
			return nil, fmt.Errorf("marshal slots for %q: %w", e.Input, err)
		}
		docs[i] = chromem.Document{
			ID:      e.Input,
			Content: e.Input,
			Metadata: map[string]string{
				"intent": e.Output.Intent,
				"slots":  string(slots),
			},
		}
	}
	return docs, nil
}

// Search returns the limit most similar samples to the query text.
func (m *Mirror) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	// chromem-go requires nResults <= collection size.
	count := m.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := m.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		var slots map[string]string
		if raw := r.Metadata["slots"]; raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &slots); err != nil {
				return nil, fmt.Errorf("decode slots for %q: %w", r.ID, err)
			}
		}
		out[i] = SearchResult{
			Entry: Entry{
				Input: r.Content,
				Output: Output{
					Intent: r.Metadata["intent"],
					Slots:  slots,
				},
			},
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

// Count returns the number of indexed samples.
func (m *Mirror) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection.Count()
}
