package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are not suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"zephyr",
	"dorna",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate checks that cfg can produce an embedder before anything is
// embedded, so a broken setup fails at startup rather than on the first
// question. A model name that looks like a chat model only logs a warning.
func Validate(cfg *Config, log *slog.Logger) error {
	switch cfg.Provider {
	case "", "ollama":
	case "openai":
		if cfg.APIKey == "" && cfg.Endpoint == "" {
			return fmt.Errorf("embedder: openai needs EMBEDDING_API_KEY or EMBEDDING_ENDPOINT pointing at a local server")
		}
	default:
		return fmt.Errorf("embedder: unknown backend %q, set EMBEDDING_PROVIDER to ollama or openai", cfg.Provider)
	}

	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: embedding model looks like a chat model, not an embedding model, "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. all-minilm, nomic-embed-text"),
		)
	}

	return nil
}

// CheckDimensions reports a vector whose length differs from want. It guards
// against querying an index built with a different embedding model.
func CheckDimensions(vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("embedder: got %d-dimensional vector, index expects %d", len(vec), want)
	}
	return nil
}
