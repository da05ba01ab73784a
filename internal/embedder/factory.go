package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/hamdam-go/internal/rag"
)

// Default embedding models per backend.
const (
	// defaultOllamaModel is all-MiniLM-L6-v2 as packaged by Ollama.
	defaultOllamaModel = "all-minilm"
	defaultOpenAIModel = "text-embedding-3-small"

	defaultOllamaHost = "http://localhost:11434"
	defaultOpenAIBase = "https://api.openai.com/v1"

	// defaultOllamaDimensions is the output dimension of all-minilm.
	defaultOllamaDimensions = 384
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Config selects and configures an embedding backend.
type Config struct {
	// Provider is ollama or openai. Empty means ollama.
	Provider string
	Model    string
	// Endpoint is the Ollama host or the OpenAI-compatible base URL
	// (including /v1).
	Endpoint   string
	APIKey     string
	Dimensions int
	// KeepAlive is passed to Ollama, e.g. "10m0s". Ignored by openai.
	KeepAlive string
}

// DefaultDimensions returns the embedding vector size for cfg. An explicit
// Dimensions always takes precedence.
func DefaultDimensions(cfg *Config) int {
	if cfg.Dimensions > 0 {
		return cfg.Dimensions
	}
	switch cfg.Provider {
	case "", "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// New constructs a rag.Embedder for cfg.
func New(cfg *Config) (rag.Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		host := cfg.Endpoint
		if host == "" {
			host = defaultOllamaHost
		}
		model := cfg.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:      host,
			Model:     model,
			KeepAlive: cfg.KeepAlive,
		}), nil

	case "openai":
		baseURL := cfg.Endpoint
		if baseURL == "" {
			if cfg.APIKey == "" {
				return nil, fmt.Errorf("embedder: openai requires api_key or a local endpoint")
			}
			baseURL = defaultOpenAIBase
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: cfg.Dimensions,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai", cfg.Provider)
	}
}

// EmbedBatches embeds texts in slices of at most size, calling progress
// after each batch with the number of texts done so far.
func EmbedBatches(ctx context.Context, e rag.Embedder, texts []string, size int, progress func(done int)) ([][]float32, error) {
	if size <= 0 {
		size = 32
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder: batch %d-%d: expected %d embeddings, got %d", start, end, end-start, len(vecs))
		}
		out = append(out, vecs...)
		if progress != nil {
			progress(end)
		}
	}
	return out, nil
}
