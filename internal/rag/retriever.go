package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/logging"
)

// Retriever maps a question to the most similar chunks of the corpus for a
// language. It is read-only after construction and safe to share between
// chatbots.
type Retriever struct {
	embedder Embedder
	corpora  map[langdetect.Language]*Corpus
}

// NewRetriever builds a Retriever over the given corpora. Nil corpora are
// ignored, so callers can pass loader results directly.
func NewRetriever(embedder Embedder, corpora ...*Corpus) *Retriever {
	r := &Retriever{
		embedder: embedder,
		corpora:  make(map[langdetect.Language]*Corpus, len(corpora)),
	}
	for _, c := range corpora {
		if c != nil {
			r.corpora[c.Language] = c
		}
	}
	return r
}

// Corpus returns the corpus registered for lang, or nil.
func (r *Retriever) Corpus(lang langdetect.Language) *Corpus {
	return r.corpora[lang]
}

// Retrieve returns up to k chunks for question from lang's corpus. When the
// language has no corpus, or its metadata is empty, it returns (nil, nil).
// Embedding and search failures wrap ErrRetrieval.
func (r *Retriever) Retrieve(ctx context.Context, question string, lang langdetect.Language, k int) ([]Chunk, error) {
	c := r.corpora[lang]
	if c == nil || c.Index == nil || len(c.Chunks) == 0 || k <= 0 {
		return nil, nil
	}
	if r.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrRetrieval)
	}

	vecs, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %w", ErrRetrieval, err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: embedder returned no vectors", ErrRetrieval)
	}

	ids, err := c.Index.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	chunks := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= int64(len(c.Chunks)) {
			logging.FromContext(ctx).Debug("rag: index id outside metadata", "id", id, "lang", lang)
			continue
		}
		chunks = append(chunks, c.Chunks[id])
	}
	return chunks, nil
}

// Close releases every corpus index.
func (r *Retriever) Close() error {
	var first error
	for _, c := range r.corpora {
		if c.Index == nil {
			continue
		}
		if err := c.Index.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// TopKForQuestion picks how many chunks to retrieve from the question's word
// count: short questions get 3, medium ones 5, long ones 7.
func TopKForQuestion(question string) int {
	switch n := len(strings.Fields(question)); {
	case n < 8:
		return 3
	case n < 20:
		return 5
	default:
		return 7
	}
}
