// Package rag implements corpus retrieval for the assistant: a per-language
// nearest-neighbour index paired with a positionally aligned list of chunk
// metadata. Index backends (an in-process flat L2 index, Qdrant) satisfy
// [VectorIndex] so the retriever never depends on a specific store.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/54b3r/hamdam-go/internal/langdetect"
)

// ErrRetrieval marks a failed embedding or index search. Callers treat it as
// "no grounding available" and never surface it to the user.
var ErrRetrieval = errors.New("rag: retrieval failed")

// ChunkID identifies a chunk in the corpus metadata. Ingestion scripts emit
// it either as a JSON string or a JSON number; both decode into a ChunkID.
type ChunkID string

// UnmarshalJSON accepts a JSON string, number, or null.
func (c *ChunkID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("rag: chunk_id: %w", err)
		}
		*c = ChunkID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("rag: chunk_id must be a string or number: %w", err)
	}
	*c = ChunkID(n.String())
	return nil
}

// Int returns the numeric value of the id, if it has one.
func (c ChunkID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(c), 10, 64)
	return n, err == nil
}

// Chunk is a unit of pre-ingested corpus text.
type Chunk struct {
	// ChunkID is the identifier assigned at ingestion time.
	ChunkID ChunkID `json:"chunk_id"`

	// Content is the chunk text injected into the system prompt.
	Content string `json:"content"`

	// Source is the optional citation (file name, URL, episode title).
	Source string `json:"source,omitempty"`
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is a nearest-neighbour structure over the corpus vectors.
// Returned ids are positions into the corpus metadata list.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// Search returns the ids of the k vectors closest to query, nearest first.
	// Fewer than k ids are returned when the index holds fewer vectors.
	Search(ctx context.Context, query []float32, k int) ([]int64, error)

	// Close releases any resources held by the index.
	Close() error
}

// Corpus is the read-only retrieval bundle for one language.
type Corpus struct {
	// Language is the language every chunk in this corpus is written in.
	Language langdetect.Language

	// Index is the nearest-neighbour structure over the chunk embeddings.
	Index VectorIndex

	// Chunks is positionally aligned with the vectors stored in Index.
	Chunks []Chunk
}
