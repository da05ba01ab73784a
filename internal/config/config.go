// Package config provides YAML-based configuration for hamdam.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. HAMDAM_CONFIG environment variable
//  3. ~/.hamdam/config.yaml
//  4. ./hamdam.yaml
//
// If no file is found the defaults plus env vars are used.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/54b3r/hamdam-go/internal/chatbot"
	"github.com/54b3r/hamdam-go/internal/embedder"
	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/rag"
	"github.com/54b3r/hamdam-go/internal/runtime"
	"github.com/54b3r/hamdam-go/internal/session"
	"github.com/54b3r/hamdam-go/internal/tracing"
)

// HistoryDisabled turns the transcript archive off when used as history.db_path.
const HistoryDisabled = "disabled"

// Corpus backends.
const (
	CorpusFlat   = "flat"
	CorpusQdrant = "qdrant"
)

// Config is the top-level YAML configuration structure.
type Config struct {
	// Runtime configures the local inference server.
	Runtime RuntimeConfig `yaml:"runtime"`

	// Models lists every model that can be loaded.
	Models []session.Descriptor `yaml:"models"`

	// DefaultModel is loaded at startup. Empty means the first entry in Models.
	DefaultModel string `yaml:"default_model"`

	// Embedding configures the embedding provider shared by retrieval and corpus builds.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Corpus configures where the per-language retrieval corpora live.
	Corpus CorpusConfig `yaml:"corpus"`

	// Chat holds generation defaults.
	Chat ChatConfig `yaml:"chat"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// History configures the transcript archive.
	History HistoryConfig `yaml:"history"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// RuntimeConfig holds inference server settings.
type RuntimeConfig struct {
	// Backend selects the server flavour: ollama or openai.
	Backend string `yaml:"backend"`
	// Host is the server base URL.
	Host string `yaml:"host"`
	// APIKey is sent to OpenAI-compatible servers. Prefer env var HAMDAM_RUNTIME_API_KEY.
	APIKey        string        `yaml:"api_key"`
	ContextWindow int           `yaml:"context_window"`
	// GPULayers is the number of offloaded layers; -1 estimates it from VRAMGB.
	GPULayers  int           `yaml:"gpu_layers"`
	VRAMGB     float64       `yaml:"vram_gb"`
	Threads    int           `yaml:"threads"`
	MemoryLock bool          `yaml:"memory_lock"`
	KeepAlive  time.Duration `yaml:"keep_alive"`
	Timeout    time.Duration `yaml:"timeout"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Endpoint is the embedding API base URL.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Dimensions is the embedding vector size.
	Dimensions int `yaml:"dimensions"`
}

// CorpusConfig holds retrieval corpus settings.
type CorpusConfig struct {
	// Backend selects the vector index: flat (files on disk) or qdrant.
	Backend string `yaml:"backend"`
	// Dir holds index_<lang>.bin and meta_<lang>.json.
	Dir string `yaml:"dir"`
	// Fa and En override the per-language file paths.
	Fa     CorpusFiles  `yaml:"fa"`
	En     CorpusFiles  `yaml:"en"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// CorpusFiles locates one language's index and metadata.
type CorpusFiles struct {
	Index string `yaml:"index"`
	Meta  string `yaml:"meta"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port             int    `yaml:"port"`
	CollectionPrefix string `yaml:"collection_prefix"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// ChatConfig holds generation defaults for chat models.
type ChatConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	// DedupeTrailingQuestion stops the current question being sent twice.
	DedupeTrailingQuestion bool `yaml:"dedupe_trailing_question"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var HAMDAM_API_KEY.
	APIKey string `yaml:"api_key"`
	// MaxSessions bounds how many chat sessions coexist.
	MaxSessions int `yaml:"max_sessions"`
	// RateLimit is the per-IP ask rate in requests per second.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// HistoryConfig holds transcript archive settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// Default returns the built-in configuration: the two bundled models on a
// local Ollama, flat corpora under data/retriever.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Backend:       string(runtime.BackendOllama),
			Host:          "http://localhost:11434",
			ContextWindow: 4096,
			GPULayers:     session.AutoGPULayers,
			Threads:       6,
			MemoryLock:    true,
			Timeout:       5 * time.Minute,
		},
		Models: []session.Descriptor{
			{
				Name:       "zephyr",
				Path:       "models/zephyr-7b-beta.Q4_K_M.gguf",
				Capability: session.CapabilityCompletion,
				Language:   langdetect.En,
			},
			{
				Name:       "dorna",
				Path:       "models/dorna-llama3-8b-instruct.Q4_K_M.gguf",
				Capability: session.CapabilityChat,
				Language:   langdetect.Fa,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "all-minilm",
			Dimensions: 384,
		},
		Corpus: CorpusConfig{
			Backend: CorpusFlat,
			Dir:     filepath.Join("data", "retriever"),
			Qdrant: QdrantConfig{
				Host:             "localhost",
				Port:             6334,
				CollectionPrefix: "hamdam",
			},
		},
		Chat: ChatConfig{
			MaxTokens:   chatbot.DefaultMaxTokens,
			Temperature: chatbot.DefaultTemperature,
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			MaxSessions: 4,
			RateLimit:   10,
			RateBurst:   20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Host: "https://cloud.langfuse.com",
		},
	}
}

// envMapping maps env var names onto config fields. Entries are applied in
// order, so a later key overrides an earlier one for the same field.
var envMapping = []struct {
	envKey string
	apply  func(*Config, string) error
}{
	{"HAMDAM_RUNTIME_BACKEND", func(c *Config, v string) error { c.Runtime.Backend = v; return nil }},
	{"OLLAMA_HOST", func(c *Config, v string) error { c.Runtime.Host = v; return nil }},
	{"HAMDAM_RUNTIME_HOST", func(c *Config, v string) error { c.Runtime.Host = v; return nil }},
	{"HAMDAM_RUNTIME_API_KEY", func(c *Config, v string) error { c.Runtime.APIKey = v; return nil }},
	{"HAMDAM_CONTEXT_WINDOW", intField(func(c *Config) *int { return &c.Runtime.ContextWindow })},
	{"HAMDAM_GPU_LAYERS", intField(func(c *Config) *int { return &c.Runtime.GPULayers })},
	{"HAMDAM_VRAM_GB", float64Field(func(c *Config) *float64 { return &c.Runtime.VRAMGB })},
	{"HAMDAM_THREADS", intField(func(c *Config) *int { return &c.Runtime.Threads })},
	{"HAMDAM_MEMORY_LOCK", boolField(func(c *Config) *bool { return &c.Runtime.MemoryLock })},
	{"HAMDAM_KEEP_ALIVE", durationField(func(c *Config) *time.Duration { return &c.Runtime.KeepAlive })},
	{"HAMDAM_RUNTIME_TIMEOUT", durationField(func(c *Config) *time.Duration { return &c.Runtime.Timeout })},
	{"HAMDAM_DEFAULT_MODEL", func(c *Config, v string) error { c.DefaultModel = v; return nil }},
	{"EMBEDDING_PROVIDER", func(c *Config, v string) error { c.Embedding.Provider = v; return nil }},
	{"EMBEDDING_MODEL", func(c *Config, v string) error { c.Embedding.Model = v; return nil }},
	{"EMBEDDING_ENDPOINT", func(c *Config, v string) error { c.Embedding.Endpoint = v; return nil }},
	{"EMBEDDING_API_KEY", func(c *Config, v string) error { c.Embedding.APIKey = v; return nil }},
	{"EMBEDDING_DIMENSIONS", intField(func(c *Config) *int { return &c.Embedding.Dimensions })},
	{"HAMDAM_CORPUS_BACKEND", func(c *Config, v string) error { c.Corpus.Backend = v; return nil }},
	{"HAMDAM_CORPUS_DIR", func(c *Config, v string) error { c.Corpus.Dir = v; return nil }},
	{"QDRANT_HOST", func(c *Config, v string) error { c.Corpus.Qdrant.Host = v; return nil }},
	{"QDRANT_PORT", intField(func(c *Config) *int { return &c.Corpus.Qdrant.Port })},
	{"QDRANT_COLLECTION_PREFIX", func(c *Config, v string) error { c.Corpus.Qdrant.CollectionPrefix = v; return nil }},
	{"QDRANT_API_KEY", func(c *Config, v string) error { c.Corpus.Qdrant.APIKey = v; return nil }},
	{"QDRANT_TLS", boolField(func(c *Config) *bool { return &c.Corpus.Qdrant.TLS })},
	{"HAMDAM_MAX_TOKENS", intField(func(c *Config) *int { return &c.Chat.MaxTokens })},
	{"HAMDAM_TEMPERATURE", float32Field(func(c *Config) *float32 { return &c.Chat.Temperature })},
	{"HAMDAM_DEDUPE_QUESTION", boolField(func(c *Config) *bool { return &c.Chat.DedupeTrailingQuestion })},
	{"HAMDAM_HOST", func(c *Config, v string) error { c.Server.Host = v; return nil }},
	{"HAMDAM_PORT", intField(func(c *Config) *int { return &c.Server.Port })},
	{"HAMDAM_API_KEY", func(c *Config, v string) error { c.Server.APIKey = v; return nil }},
	{"HAMDAM_MAX_SESSIONS", intField(func(c *Config) *int { return &c.Server.MaxSessions })},
	{"HAMDAM_RATE_LIMIT", float64Field(func(c *Config) *float64 { return &c.Server.RateLimit })},
	{"HAMDAM_RATE_BURST", intField(func(c *Config) *int { return &c.Server.RateBurst })},
	{"HAMDAM_HISTORY_DB", func(c *Config, v string) error { c.History.DBPath = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config, v string) error { c.Tracing.PublicKey = v; return nil }},
	{"LANGFUSE_SECRET_KEY", func(c *Config, v string) error { c.Tracing.SecretKey = v; return nil }},
	{"LANGFUSE_HOST", func(c *Config, v string) error { c.Tracing.Host = v; return nil }},
}

// Load builds the configuration from defaults, the first YAML file found and
// the environment, in that order. It returns the path that was loaded, or
// empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	cfg := Default()

	path, err := resolveConfigPath(explicitPath)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		log.Debug("config: no YAML config file found, using defaults and env vars")
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applied, err := cfg.applyEnv()
	if err != nil {
		return nil, "", err
	}

	log.Info("config: loaded",
		slog.String("path", path),
		slog.Int("env_overrides", applied),
	)

	return cfg, path, nil
}

// applyEnv overwrites fields with every non-empty mapped env var.
func (c *Config) applyEnv() (int, error) {
	applied := 0
	for _, m := range envMapping {
		v := strings.TrimSpace(os.Getenv(m.envKey))
		if v == "" {
			continue
		}
		if err := m.apply(c, v); err != nil {
			return applied, fmt.Errorf("config: %s: %w", m.envKey, err)
		}
		applied++
	}
	return applied, nil
}

// resolveConfigPath returns the first config file path that exists. An
// explicit path that does not exist is an error.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return explicit, nil
	}

	if envPath := os.Getenv("HAMDAM_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".hamdam", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if _, err := os.Stat("hamdam.yaml"); err == nil {
		return "hamdam.yaml", nil
	}

	return "", nil
}

// Validate reports every problem with the configuration at once. The
// returned error matches session.ErrConfiguration.
func (c *Config) Validate() error {
	var problems []error

	switch runtime.Backend(c.Runtime.Backend) {
	case runtime.BackendOllama, runtime.BackendOpenAI:
	default:
		problems = append(problems, fmt.Errorf("runtime.backend %q must be ollama or openai", c.Runtime.Backend))
	}
	if c.Runtime.ContextWindow <= 0 {
		problems = append(problems, errors.New("runtime.context_window must be positive"))
	}
	if c.Runtime.GPULayers == session.AutoGPULayers && c.Runtime.VRAMGB < 0 {
		problems = append(problems, errors.New("runtime.vram_gb must not be negative"))
	}

	if len(c.Models) == 0 {
		problems = append(problems, errors.New("models: at least one model is required"))
	}
	seen := make(map[string]bool, len(c.Models))
	for _, d := range c.Models {
		if err := d.Validate(); err != nil {
			problems = append(problems, err)
		}
		if seen[d.Name] {
			problems = append(problems, fmt.Errorf("models: duplicate name %q", d.Name))
		}
		seen[d.Name] = true
	}
	if c.DefaultModel != "" && !seen[c.DefaultModel] {
		problems = append(problems, fmt.Errorf("default_model %q is not in models", c.DefaultModel))
	}

	switch c.Embedding.Provider {
	case "ollama":
	case "openai":
		if c.Embedding.APIKey == "" && c.Embedding.Endpoint == "" {
			problems = append(problems, errors.New("embedding: openai needs api_key or a local endpoint"))
		}
	default:
		problems = append(problems, fmt.Errorf("embedding.provider %q must be ollama or openai", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions < 0 {
		problems = append(problems, errors.New("embedding.dimensions must not be negative"))
	}

	switch c.Corpus.Backend {
	case CorpusFlat:
	case CorpusQdrant:
		if c.Corpus.Qdrant.Host == "" {
			problems = append(problems, errors.New("corpus.qdrant.host is required for the qdrant backend"))
		}
	default:
		problems = append(problems, fmt.Errorf("corpus.backend %q must be flat or qdrant", c.Corpus.Backend))
	}

	if c.Chat.MaxTokens <= 0 {
		problems = append(problems, errors.New("chat.max_tokens must be positive"))
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		problems = append(problems, fmt.Errorf("chat.temperature %.2f must be within [0, 2]", c.Chat.Temperature))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.MaxSessions <= 0 {
		problems = append(problems, errors.New("server.max_sessions must be positive"))
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		problems = append(problems, errors.New("server.rate_limit and server.rate_burst must not be negative"))
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", session.ErrConfiguration, errors.Join(problems...))
}

// RuntimeClientConfig converts the runtime section for runtime.New.
func (c *Config) RuntimeClientConfig() *runtime.Config {
	return &runtime.Config{
		Backend: runtime.Backend(c.Runtime.Backend),
		Host:    c.Runtime.Host,
		APIKey:  c.Runtime.APIKey,
		Timeout: c.Runtime.Timeout,
	}
}

// SessionOptions returns the load options shared by every model.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		ContextWindow: c.Runtime.ContextWindow,
		GPULayers:     c.Runtime.GPULayers,
		Threads:       c.Runtime.Threads,
		MemoryLock:    c.Runtime.MemoryLock,
		KeepAlive:     c.Runtime.KeepAlive,
	}
}

// EmbedderConfig converts the embedding section. An Ollama embedder with no
// endpoint shares the host of an Ollama runtime.
func (c *Config) EmbedderConfig() *embedder.Config {
	e := c.Embedding
	endpoint := e.Endpoint
	if endpoint == "" && (e.Provider == "" || e.Provider == "ollama") && c.Runtime.Backend == string(runtime.BackendOllama) {
		endpoint = c.Runtime.Host
	}
	out := &embedder.Config{
		Provider:   e.Provider,
		Model:      e.Model,
		Endpoint:   endpoint,
		APIKey:     e.APIKey,
		Dimensions: e.Dimensions,
	}
	if c.Runtime.KeepAlive > 0 {
		out.KeepAlive = c.Runtime.KeepAlive.String()
	}
	return out
}

// QdrantConfig converts the corpus.qdrant section.
func (c *Config) QdrantConfig() *rag.QdrantConfig {
	q := c.Corpus.Qdrant
	return &rag.QdrantConfig{
		Host:             q.Host,
		Port:             q.Port,
		CollectionPrefix: q.CollectionPrefix,
		APIKey:           q.APIKey,
		UseTLS:           q.TLS,
	}
}

// TracingConfig converts the tracing section, tagging traces with release.
func (c *Config) TracingConfig(release string) *tracing.Config {
	return &tracing.Config{
		Host:      c.Tracing.Host,
		PublicKey: c.Tracing.PublicKey,
		SecretKey: c.Tracing.SecretKey,
		Release:   release,
	}
}

// CorpusPaths returns the index and metadata paths for lang. Explicit
// per-language paths win over the files under corpus.dir.
func (c *Config) CorpusPaths(lang langdetect.Language) (index, meta string) {
	var files CorpusFiles
	switch lang {
	case langdetect.Fa:
		files = c.Corpus.Fa
	case langdetect.En:
		files = c.Corpus.En
	}
	index = files.Index
	if index == "" {
		index = filepath.Join(c.Corpus.Dir, "index_"+string(lang)+".bin")
	}
	meta = files.Meta
	if meta == "" {
		meta = filepath.Join(c.Corpus.Dir, "meta_"+string(lang)+".json")
	}
	return index, meta
}

// HistoryEnabled reports whether turns should be archived.
func (c *Config) HistoryEnabled() bool {
	return c.History.DBPath != HistoryDisabled
}

func intField(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func float64Field(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func float32Field(field func(*Config) *float32) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return err
		}
		*field(c) = float32(f)
		return nil
	}
}

func boolField(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationField(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
