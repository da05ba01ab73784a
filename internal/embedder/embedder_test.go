package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/54b3r/hamdam-go/internal/logging"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != defaultOllamaModel {
			http.Error(w, "unexpected model "+req.Model, http.StatusBadRequest)
			return
		}
		out := ollamaEmbedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	e, err := New(&Config{Provider: "ollama", Endpoint: srv.URL + "/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 1 {
		t.Errorf("unexpected vectors: %v", vecs)
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"all-minilm\" not found"}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "all-minilm"})
	_, err := e.Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected server error message, got %v", err)
	}
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			http.Error(w, "no key configured, got "+auth, http.StatusBadRequest)
			return
		}
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[2],"index":1},{"embedding":[1],"index":0}]}`))
	}))
	defer srv.Close()

	e, err := New(&Config{Provider: "openai", Endpoint: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("vectors not ordered by index: %v", vecs)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"openai without key or endpoint", Config{Provider: "openai"}},
		{"unknown provider", Config{Provider: "bedrock"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(&tt.cfg); err == nil {
				t.Error("expected error")
			}
			if err := Validate(&tt.cfg, logging.Discard()); err == nil {
				t.Error("expected Validate error")
			}
		})
	}
}

func TestDefaultDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  Config
		want int
	}{
		{Config{}, 384},
		{Config{Provider: "openai"}, 1536},
		{Config{Provider: "ollama", Dimensions: 768}, 768},
	}
	for _, tt := range tests {
		if got := DefaultDimensions(&tt.cfg); got != tt.want {
			t.Errorf("DefaultDimensions(%+v) = %d, want %d", tt.cfg, got, tt.want)
		}
	}
}

type countingEmbedder struct {
	calls int
	fail  int
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.calls == c.fail {
		return nil, errors.New("boom")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

func TestEmbedBatches(t *testing.T) {
	t.Parallel()

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	e := &countingEmbedder{}
	var progress []int
	vecs, err := EmbedBatches(context.Background(), e, texts, 2, func(done int) { progress = append(progress, done) })
	if err != nil {
		t.Fatalf("EmbedBatches: %v", err)
	}
	if e.calls != 3 {
		t.Errorf("calls: got %d, want 3", e.calls)
	}
	if len(vecs) != 5 || vecs[4][0] != 5 {
		t.Errorf("unexpected vectors: %v", vecs)
	}
	if len(progress) != 3 || progress[2] != 5 {
		t.Errorf("progress: got %v", progress)
	}

	_, err = EmbedBatches(context.Background(), &countingEmbedder{fail: 2}, texts, 2, nil)
	if err == nil || !strings.Contains(err.Error(), "batch 2-4") {
		t.Errorf("expected batch error, got %v", err)
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	for model, want := range map[string]bool{
		"all-minilm":       false,
		"nomic-embed-text": false,
		"dorna":            true,
		"llama3.1:8b":      true,
	} {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestCheckDimensions(t *testing.T) {
	t.Parallel()

	if err := CheckDimensions([]float32{1, 2}, 2); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckDimensions([]float32{1, 2}, 3); err == nil {
		t.Error("expected mismatch error")
	}
	if err := CheckDimensions([]float32{1}, 0); err != nil {
		t.Errorf("zero means unchecked: %v", err)
	}
}

func TestOllamaEmbedder_ForwardsKeepAliveAndTruncate(t *testing.T) {
	t.Parallel()

	reqs := make(chan ollamaEmbedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		reqs <- req
		_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
	}))
	defer srv.Close()

	e, err := New(&Config{Endpoint: srv.URL, KeepAlive: "10m0s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Embed(context.Background(), []string{"سلام"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	got := <-reqs
	if got.KeepAlive != "10m0s" || !got.Truncate || got.Input[0] != "سلام" {
		t.Errorf("unexpected request: %+v", got)
	}
}

func TestEmbed_EmptyInputSkipsRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	for _, e := range []interface {
		Embed(context.Context, []string) ([][]float32, error)
	}{
		NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "all-minilm"}),
		NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, Model: "m"}),
	} {
		if vecs, err := e.Embed(context.Background(), nil); err != nil || vecs != nil {
			t.Errorf("%T: got %v, %v", e, vecs, err)
		}
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestOpenAIEmbedder_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "m"})
	_, err := e.Embed(context.Background(), []string{"x"})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Code != http.StatusUnauthorized || se.Message != "Incorrect API key provided" {
		t.Errorf("unexpected status error: %+v", se)
	}
}

func TestOpenAIEmbedder_RepeatedIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0},{"embedding":[2],"index":0}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	if _, err := e.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected an error for a repeated index")
	}
}
