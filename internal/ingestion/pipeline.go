// Package ingestion implements the corpus build pipeline. It takes chunks
// that were already extracted and split, embeds them in batches, and writes
// them to a [Sink]: a flat index blob plus metadata file, or a Qdrant
// collection. This pipeline is invoked by the `hamdam corpus` CLI commands.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/54b3r/hamdam-go/internal/embedder"
	"github.com/54b3r/hamdam-go/internal/rag"
)

// ErrNoChunks is returned by Build when there is nothing to embed.
var ErrNoChunks = errors.New("ingestion: no chunks to build")

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the number of chunks embedded per request.
	// Defaults to 32 if zero.
	BatchSize int

	// Dimensions is the expected embedding length. Zero accepts whatever
	// the first batch returns.
	Dimensions int
}

// Stats summarises a finished build.
type Stats struct {
	Chunks     int
	Dimensions int
}

// Sink persists embedded chunks. Vectors are parallel to chunks and the
// position of each chunk is its id in the index.
type Sink interface {
	Write(ctx context.Context, chunks []rag.Chunk, vectors [][]float32) error
}

// Pipeline orchestrates the embed → write flow for one language corpus.
type Pipeline struct {
	// embedder converts chunk text into dense vector embeddings.
	embedder rag.Embedder

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the embedder and config.
func NewPipeline(emb rag.Embedder, cfg *Config) (*Pipeline, error) {
	if emb == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Dimensions < 0 {
		cfg.Dimensions = 0
	}
	return &Pipeline{embedder: emb, cfg: cfg}, nil
}

// Build embeds every chunk and hands the result to sink. Empty chunks are
// embedded as-is so positions stay aligned with the input. Progress is
// reported via the optional progress callback with the number of chunks
// embedded so far.
func (p *Pipeline) Build(ctx context.Context, chunks []rag.Chunk, sink Sink, progress func(done, total int)) (Stats, error) {
	if len(chunks) == 0 {
		return Stats{}, ErrNoChunks
	}
	if sink == nil {
		return Stats{}, fmt.Errorf("ingestion: sink must not be nil")
	}
	if progress == nil {
		progress = func(int, int) {}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := embedder.EmbedBatches(ctx, p.embedder, texts, p.cfg.BatchSize, func(done int) {
		progress(done, len(texts))
	})
	if err != nil {
		return Stats{}, fmt.Errorf("ingestion: %w", err)
	}

	dim := p.cfg.Dimensions
	if dim == 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if err := embedder.CheckDimensions(v, dim); err != nil {
			return Stats{}, fmt.Errorf("ingestion: chunk %s: %w", chunks[i].ChunkID, err)
		}
	}

	if err := sink.Write(ctx, chunks, vectors); err != nil {
		return Stats{}, err
	}
	return Stats{Chunks: len(chunks), Dimensions: dim}, nil
}
