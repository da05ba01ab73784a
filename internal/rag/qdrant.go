package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/hamdam-go/internal/langdetect"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// CollectionPrefix is joined with the language code to name the
	// per-language collection, e.g. "hamdam" -> "hamdam_fa".
	CollectionPrefix string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Collection returns the collection name holding the corpus for lang.
func (c *QdrantConfig) Collection(lang langdetect.Language) string {
	prefix := c.CollectionPrefix
	if prefix == "" {
		prefix = "hamdam"
	}
	return prefix + "_" + string(lang)
}

// NewQdrantClient dials Qdrant with defaults applied to cfg.
func NewQdrantClient(cfg *QdrantConfig) (*qdrant.Client, error) {
	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: create qdrant client: %w", err)
	}
	return client, nil
}

// QdrantIndex is a VectorIndex over one Qdrant collection. Point ids are the
// numeric positions of the chunks in the corpus metadata, and the collection
// uses Euclidean distance so rankings match the flat index.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	owned      bool
}

// NewQdrantIndex wraps an existing client. Close on the returned index does
// not close client.
func NewQdrantIndex(client *qdrant.Client, collection string) *QdrantIndex {
	return &QdrantIndex{client: client, collection: collection}
}

// Collection returns the collection name this index reads and writes.
func (q *QdrantIndex) Collection() string { return q.collection }

// Exists reports whether the collection has been created.
func (q *QdrantIndex) Exists(ctx context.Context) (bool, error) {
	ok, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return false, fmt.Errorf("rag: qdrant: check collection %q: %w", q.collection, err)
	}
	return ok, nil
}

// Drop deletes the collection if it exists and reports whether it did.
func (q *QdrantIndex) Drop(ctx context.Context) (bool, error) {
	ok, err := q.Exists(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return false, fmt.Errorf("rag: qdrant: drop collection %q: %w", q.collection, err)
	}
	return true, nil
}

// Recreate drops the collection if present and creates it empty for vectors
// of length dim.
func (q *QdrantIndex) Recreate(ctx context.Context, dim uint64) error {
	if _, err := q.Drop(ctx); err != nil {
		return err
	}
	err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: create collection %q: %w", q.collection, err)
	}
	return nil
}

// Upsert stores vectors with ids starting at offset. chunks must be parallel
// to vectors; their content and source travel as payload for inspection.
func (q *QdrantIndex) Upsert(ctx context.Context, offset int, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("rag: qdrant: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	points := make([]*qdrant.PointStruct, 0, len(vectors))
	for i, v := range vectors {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(offset + i)),
			Vectors: qdrant.NewVectors(v...),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_id": string(chunks[i].ChunkID),
				"content":  chunks[i].Content,
				"source":   chunks[i].Source,
			}),
		})
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: upsert into %q: %w", q.collection, err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (uint64, error) {
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("rag: qdrant: count %q: %w", q.collection, err)
	}
	return n, nil
}

// Search returns the numeric ids of the k nearest points.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]int64, error) {
	if k <= 0 {
		return nil, nil
	}
	limit := uint64(k)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant: search %q: %w", q.collection, err)
	}

	ids := make([]int64, 0, len(results))
	for _, r := range results {
		ids = append(ids, int64(r.GetId().GetNum()))
	}
	return ids, nil
}

// Close closes the client only when the index dialled it itself.
func (q *QdrantIndex) Close() error {
	if q.owned {
		return q.client.Close()
	}
	return nil
}

// OpenQdrantCorpus binds lang's collection to the metadata file at metaPath.
// A missing collection or metadata file means the language has no corpus and
// (nil, nil) is returned.
func OpenQdrantCorpus(ctx context.Context, cfg *QdrantConfig, lang langdetect.Language, metaPath string) (*Corpus, error) {
	if !exists(metaPath) {
		return nil, nil
	}
	client, err := NewQdrantClient(cfg)
	if err != nil {
		return nil, err
	}
	idx := &QdrantIndex{client: client, collection: cfg.Collection(lang), owned: true}

	ok, err := idx.Exists(ctx)
	if err != nil || !ok {
		_ = idx.Close()
		return nil, err
	}

	chunks, err := ReadMetadata(metaPath)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	return &Corpus{Language: lang, Index: idx, Chunks: chunks}, nil
}
