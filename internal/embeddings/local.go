package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const localDimensions = 256

// LocalEmbedder produces deterministic bag-of-ngrams embeddings without any
// network dependency. Retrieval quality is rough, but the library mirror
// stays functional with no API key and tests run offline.
type LocalEmbedder struct{}

// NewLocalEmbedder creates a LocalEmbedder.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{}
}

func (e *LocalEmbedder) Name() string {
	return "local/ngram-hash"
}

func (e *LocalEmbedder) Dimensions() int {
	return localDimensions
}

func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = embedText(text)
	}
	return out, nil
}

// embedText hashes character trigrams into a fixed-size vector and
// L2-normalizes it.
func embedText(text string) []float32 {
	vec := make([]float32, localDimensions)

	runes := []rune(strings.ToLower(text))
	filtered := runes[:0]
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			filtered = append(filtered, r)
		}
	}

	if len(filtered) == 0 {
		vec[0] = 1
		return vec
	}

	for i := 0; i < len(filtered); i++ {
		end := i + 3
		if end > len(filtered) {
			end = len(filtered)
		}
		h := fnv.New32a()
		h.Write([]byte(string(filtered[i:end])))
		vec[h.Sum32()%localDimensions]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}
