package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/54b3r/hamdam-go/internal/rag"
)

// FlatSink writes a flat index blob and its metadata JSON array.
type FlatSink struct {
	IndexPath string
	MetaPath  string
}

// Write builds the index in memory and writes both files, creating parent
// directories as needed. Existing files are overwritten.
func (s *FlatSink) Write(_ context.Context, chunks []rag.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("ingestion: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(vectors) == 0 {
		return ErrNoChunks
	}

	idx, err := rag.NewFlatIndex(len(vectors[0]))
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	if err := idx.Add(vectors...); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}

	for _, p := range []string{s.IndexPath, s.MetaPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("ingestion: create corpus dir: %w", err)
		}
	}
	if err := idx.WriteFile(s.IndexPath); err != nil {
		return err
	}
	return rag.WriteMetadata(s.MetaPath, chunks)
}

// QdrantSink replaces a Qdrant collection with the embedded chunks. Point
// ids are chunk positions, so MetaPath must also be written for retrieval.
type QdrantSink struct {
	Index *rag.QdrantIndex

	// MetaPath receives the metadata JSON array the retriever resolves
	// point ids against.
	MetaPath string

	// BatchSize is the number of points per upsert. Defaults to 256 if zero.
	BatchSize int
}

// Write recreates the collection sized for the vectors and upserts them in
// batches.
func (s *QdrantSink) Write(ctx context.Context, chunks []rag.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("ingestion: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(vectors) == 0 {
		return ErrNoChunks
	}
	size := s.BatchSize
	if size <= 0 {
		size = 256
	}

	if err := s.Index.Recreate(ctx, uint64(len(vectors[0]))); err != nil {
		return err
	}
	for start := 0; start < len(vectors); start += size {
		end := min(start+size, len(vectors))
		if err := s.Index.Upsert(ctx, start, chunks[start:end], vectors[start:end]); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.MetaPath), 0o755); err != nil {
		return fmt.Errorf("ingestion: create corpus dir: %w", err)
	}
	return rag.WriteMetadata(s.MetaPath, chunks)
}
