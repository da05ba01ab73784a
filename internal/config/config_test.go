package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/logging"
	"github.com/54b3r/hamdam-go/internal/session"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_Validates(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("expected 2 default models, got %d", len(cfg.Models))
	}
	if cfg.Runtime.GPULayers != session.AutoGPULayers {
		t.Errorf("gpu_layers: got %d, want auto", cfg.Runtime.GPULayers)
	}
	if cfg.Server.MaxSessions != 4 {
		t.Errorf("max_sessions: got %d, want 4", cfg.Server.MaxSessions)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, _, err := Load("/nonexistent/path/config.yaml", logging.Discard())
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	for _, k := range []string{"LOG_LEVEL", "LOG_FORMAT", "QDRANT_HOST", "HAMDAM_RUNTIME_HOST", "OLLAMA_HOST", "HAMDAM_DEFAULT_MODEL"} {
		t.Setenv(k, "")
	}
	cfgPath := writeConfig(t, `
runtime:
  backend: openai
  host: http://gpu-box:8080
  keep_alive: 10m
  vram_gb: 3.9
models:
  - name: tutor
    runtime_model: llama3.1:8b
    path: models/llama-3.1-8b.gguf
    capability: chat
    language: en
default_model: tutor
corpus:
  backend: qdrant
  qdrant:
    host: qdrant.internal
logging:
  level: debug
  format: text
`)

	cfg, loaded, err := Load(cfgPath, logging.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Runtime.Backend != "openai" || cfg.Runtime.Host != "http://gpu-box:8080" {
		t.Errorf("runtime: got %+v", cfg.Runtime)
	}
	if cfg.Runtime.KeepAlive != 10*time.Minute {
		t.Errorf("keep_alive: got %v", cfg.Runtime.KeepAlive)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].Model() != "llama3.1:8b" || cfg.Models[0].Language != langdetect.En {
		t.Errorf("models: got %+v", cfg.Models)
	}
	if cfg.Corpus.Qdrant.Host != "qdrant.internal" || cfg.Corpus.Qdrant.Port != 6334 {
		t.Errorf("qdrant: got %+v (defaults should survive partial sections)", cfg.Corpus.Qdrant)
	}
	if cfg.Runtime.ContextWindow != 4096 {
		t.Errorf("context_window default lost: %d", cfg.Runtime.ContextWindow)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging: got %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	cfgPath := writeConfig(t, `
runtime:
  host: http://from-yaml:11434
  threads: 4
server:
  port: 9000
`)
	t.Setenv("OLLAMA_HOST", "http://from-ollama-env:11434")
	t.Setenv("HAMDAM_RUNTIME_HOST", "http://from-env:11434")
	t.Setenv("HAMDAM_PORT", "9100")
	t.Setenv("HAMDAM_MEMORY_LOCK", "false")
	t.Setenv("HAMDAM_TEMPERATURE", "0.5")

	cfg, _, err := Load(cfgPath, logging.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Runtime.Host != "http://from-env:11434" {
		t.Errorf("host: got %q, HAMDAM_RUNTIME_HOST should win", cfg.Runtime.Host)
	}
	if cfg.Runtime.Threads != 4 {
		t.Errorf("threads: got %d, want yaml value 4", cfg.Runtime.Threads)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port: got %d, want 9100", cfg.Server.Port)
	}
	if cfg.Runtime.MemoryLock {
		t.Error("memory_lock: env false should override default true")
	}
	if cfg.Chat.Temperature != 0.5 {
		t.Errorf("temperature: got %v, want 0.5", cfg.Chat.Temperature)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("HAMDAM_CONFIG", "")
	t.Setenv("HAMDAM_PORT", "eighty")

	_, _, err := Load("", logging.Discard())
	if err == nil || !strings.Contains(err.Error(), "HAMDAM_PORT") {
		t.Fatalf("expected HAMDAM_PORT error, got %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, "{{invalid yaml")
	if _, _, err := Load(cfgPath, logging.Discard()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Runtime.Backend = "llamacpp"
	cfg.Models = append(cfg.Models, session.Descriptor{Name: "dorna", Capability: "chat", Language: langdetect.Fa})
	cfg.DefaultModel = "mistral"
	cfg.Corpus.Backend = "faiss"
	cfg.Server.MaxSessions = 0

	err := cfg.Validate()
	if !errors.Is(err, session.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	for _, want := range []string{"runtime.backend", "duplicate name", "default_model", "corpus.backend", "max_sessions"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidate_BadDescriptor(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Models = []session.Descriptor{{Name: "x", Capability: "instruct", Language: "de"}}
	if err := cfg.Validate(); !errors.Is(err, session.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestCorpusPaths(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Corpus.Dir = "/srv/corpus"
	cfg.Corpus.En.Index = "/custom/en.bin"

	tests := []struct {
		lang      langdetect.Language
		wantIndex string
		wantMeta  string
	}{
		{langdetect.Fa, "/srv/corpus/index_fa.bin", "/srv/corpus/meta_fa.json"},
		{langdetect.En, "/custom/en.bin", "/srv/corpus/meta_en.json"},
	}
	for _, tt := range tests {
		t.Run(string(tt.lang), func(t *testing.T) {
			index, meta := cfg.CorpusPaths(tt.lang)
			if index != tt.wantIndex || meta != tt.wantMeta {
				t.Errorf("got (%q, %q), want (%q, %q)", index, meta, tt.wantIndex, tt.wantMeta)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Runtime.KeepAlive = time.Minute
	cfg.Corpus.Qdrant.TLS = true

	if rc := cfg.RuntimeClientConfig(); rc.Host != cfg.Runtime.Host || rc.Timeout != 5*time.Minute {
		t.Errorf("runtime config: got %+v", rc)
	}
	if opts := cfg.SessionOptions(); opts.KeepAlive != time.Minute || !opts.MemoryLock || opts.Threads != 6 {
		t.Errorf("session options: got %+v", opts)
	}
	if ec := cfg.EmbedderConfig(); ec.Endpoint != "http://localhost:11434" || ec.Dimensions != 384 || ec.KeepAlive != "1m0s" {
		t.Errorf("embedder config should inherit the ollama host: got %+v", ec)
	}
	if q := cfg.QdrantConfig(); !q.UseTLS || q.Collection(langdetect.Fa) != "hamdam_fa" {
		t.Errorf("qdrant config: got %+v", q)
	}
	if tc := cfg.TracingConfig("v1.2.3"); tc.Release != "v1.2.3" || tc.Enabled() {
		t.Errorf("tracing config: got %+v", tc)
	}
	if !cfg.HistoryEnabled() {
		t.Error("history should be enabled by default")
	}
	cfg.History.DBPath = HistoryDisabled
	if cfg.HistoryEnabled() {
		t.Error("history should be disabled")
	}
}
