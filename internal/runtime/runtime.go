// Package runtime talks to the local inference server that hosts the model
// weights. Two backends are supported: Ollama and any server exposing the
// OpenAI-compatible completions API (llama.cpp's llama-server, vLLM, LM
// Studio). Both offer raw text completion, an eino chat model, and explicit
// load/unload so that only one model occupies memory at a time.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
)

// Backend enumerates the supported inference servers.
type Backend string

const (
	// BackendOllama selects a local Ollama server.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects an OpenAI-compatible local server.
	BackendOpenAI Backend = "openai"
)

// Options are the load-time settings of a model instance.
type Options struct {
	// ContextWindow is the maximum number of tokens the model attends to.
	ContextWindow int

	// GPULayers is the number of layers offloaded to the GPU. A negative
	// value leaves the choice to the runtime.
	GPULayers int

	// Threads is the number of CPU threads used for inference.
	Threads int

	// MemoryLock pins the weights in RAM so they are never swapped out.
	MemoryLock bool

	// KeepAlive is how long the runtime keeps an idle model loaded.
	// Zero uses the runtime default.
	KeepAlive time.Duration
}

// DefaultRepeatPenalty is applied to every generation.
const DefaultRepeatPenalty float32 = 1.1

// GenerateParams are the per-call sampling settings.
type GenerateParams struct {
	MaxTokens     int
	Temperature   float32
	TopP          float32
	RepeatPenalty float32
	Stop          []string
}

// Runtime is a connection to an inference server.
// Implementations must be safe for concurrent use.
type Runtime interface {
	// Backend reports which kind of server this is.
	Backend() Backend

	// Load makes name resident with opts.
	Load(ctx context.Context, name string, opts Options) error

	// Unload evicts name and returns once the server no longer holds it.
	Unload(ctx context.Context, name string) error

	// Complete runs raw text completion of prompt on name.
	Complete(ctx context.Context, name, prompt string, opts Options, p GenerateParams) (string, error)

	// ChatModel returns an eino chat model bound to name. repeatPenalty is
	// applied to every call where the backend supports it.
	ChatModel(ctx context.Context, name string, opts Options, repeatPenalty float32) (model.BaseChatModel, error)

	// Ping checks that the server is reachable.
	Ping(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Backend Backend
	// Host is the server base URL, e.g. http://localhost:11434.
	Host string
	// APIKey is sent as a Bearer token to OpenAI-compatible servers.
	APIKey  string
	Timeout time.Duration
}

// New constructs the Runtime selected by cfg.Backend.
func New(cfg *Config) (Runtime, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	client := &http.Client{Timeout: timeout}
	host := strings.TrimRight(cfg.Host, "/")

	switch cfg.Backend {
	case BackendOllama, "":
		if host == "" {
			host = "http://localhost:11434"
		}
		return newOllama(host, client)
	case BackendOpenAI:
		if host == "" {
			host = "http://localhost:8080"
		}
		return newOpenAI(host, cfg.APIKey, client), nil
	default:
		return nil, fmt.Errorf("runtime: unknown backend %q (valid: ollama, openai)", cfg.Backend)
	}
}
