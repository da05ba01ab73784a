package runtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
	ollamaapi "github.com/eino-contrib/ollama/api"
)

// unloadPollInterval is how often Unload checks the running models list.
const unloadPollInterval = 100 * time.Millisecond

// Ollama is a Runtime backed by an Ollama server.
type Ollama struct {
	host   string
	client *http.Client
	api    *ollamaapi.Client
}

func newOllama(host string, client *http.Client) (*Ollama, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("runtime: ollama: parse host %q: %w", host, err)
	}
	return &Ollama{host: host, client: client, api: ollamaapi.NewClient(base, client)}, nil
}

// Backend implements Runtime.
func (o *Ollama) Backend() Backend { return BackendOllama }

// loadOptions maps Options onto Ollama's options object. A map is used
// because use_mlock is not a field of the client's Runner struct and an
// explicit temperature of 0 must survive encoding.
func loadOptions(opts Options) map[string]any {
	m := map[string]any{}
	if opts.ContextWindow > 0 {
		m["num_ctx"] = opts.ContextWindow
	}
	if opts.Threads > 0 {
		m["num_thread"] = opts.Threads
	}
	if opts.MemoryLock {
		m["use_mlock"] = true
	}
	if opts.GPULayers >= 0 {
		m["num_gpu"] = opts.GPULayers
	}
	return m
}

func keepAlive(d time.Duration) *ollamaapi.Duration {
	if d == 0 {
		return nil
	}
	return &ollamaapi.Duration{Duration: d}
}

// Load sends an empty prompt, which makes Ollama load the model and return.
func (o *Ollama) Load(ctx context.Context, name string, opts Options) error {
	req := &ollamaapi.GenerateRequest{
		Model:     name,
		KeepAlive: keepAlive(opts.KeepAlive),
		Options:   loadOptions(opts),
	}
	if _, err := o.generate(ctx, req); err != nil {
		return fmt.Errorf("runtime: ollama: load %s: %w", name, err)
	}
	return nil
}

// Unload asks Ollama to evict name and waits until the running models list
// no longer includes it or ctx ends.
func (o *Ollama) Unload(ctx context.Context, name string) error {
	req := &ollamaapi.GenerateRequest{Model: name, KeepAlive: &ollamaapi.Duration{}}
	if _, err := o.generate(ctx, req); err != nil {
		return fmt.Errorf("runtime: ollama: unload %s: %w", name, err)
	}

	ticker := time.NewTicker(unloadPollInterval)
	defer ticker.Stop()
	for {
		loaded, err := o.isLoaded(ctx, name)
		if err != nil {
			return fmt.Errorf("runtime: ollama: unload %s: %w", name, err)
		}
		if !loaded {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("runtime: ollama: unload %s: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Complete implements Runtime using raw generation so Ollama does not wrap
// the prompt in the model's chat template.
func (o *Ollama) Complete(ctx context.Context, name, prompt string, opts Options, p GenerateParams) (string, error) {
	op := loadOptions(opts)
	op["temperature"] = p.Temperature
	if p.MaxTokens > 0 {
		op["num_predict"] = p.MaxTokens
	}
	if p.TopP > 0 {
		op["top_p"] = p.TopP
	}
	if p.RepeatPenalty > 0 {
		op["repeat_penalty"] = p.RepeatPenalty
	}
	if len(p.Stop) > 0 {
		op["stop"] = p.Stop
	}

	out, err := o.generate(ctx, &ollamaapi.GenerateRequest{
		Model:     name,
		Prompt:    prompt,
		Raw:       true,
		KeepAlive: keepAlive(opts.KeepAlive),
		Options:   op,
	})
	if err != nil {
		return "", fmt.Errorf("runtime: ollama: complete on %s: %w", name, err)
	}
	return out, nil
}

// ChatModel implements Runtime with the eino Ollama chat model.
func (o *Ollama) ChatModel(ctx context.Context, name string, opts Options, repeatPenalty float32) (model.BaseChatModel, error) {
	apiOpts := &ollamaapi.Options{RepeatPenalty: repeatPenalty}
	apiOpts.NumCtx = opts.ContextWindow
	apiOpts.NumThread = opts.Threads
	if opts.GPULayers >= 0 {
		apiOpts.NumGPU = opts.GPULayers
	}

	cfg := &einoollama.ChatModelConfig{
		BaseURL:    o.host,
		Model:      name,
		HTTPClient: o.client,
		Options:    apiOpts,
	}
	if opts.KeepAlive > 0 {
		ka := opts.KeepAlive
		cfg.KeepAlive = &ka
	}
	cm, err := einoollama.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: ollama: chat model %s: %w", name, err)
	}
	return cm, nil
}

// Ping implements Runtime.
func (o *Ollama) Ping(ctx context.Context) error {
	if _, err := o.api.Version(ctx); err != nil {
		return fmt.Errorf("runtime: ollama: ping: %w", err)
	}
	return nil
}

// generate runs a single non-streaming generation and returns its text.
func (o *Ollama) generate(ctx context.Context, req *ollamaapi.GenerateRequest) (string, error) {
	stream := false
	req.Stream = &stream

	var out string
	err := o.api.Generate(ctx, req, func(resp ollamaapi.GenerateResponse) error {
		out += resp.Response
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (o *Ollama) isLoaded(ctx context.Context, name string) (bool, error) {
	ps, err := o.api.ListRunning(ctx)
	if err != nil {
		return false, fmt.Errorf("list running models: %w", err)
	}
	for _, m := range ps.Models {
		if sameModel(m.Name, name) || sameModel(m.Model, name) {
			return true, nil
		}
	}
	return false, nil
}

// sameModel compares model references, treating a missing tag as ":latest".
func sameModel(a, b string) bool {
	return withTag(a) == withTag(b)
}

func withTag(s string) string {
	for i := len(s) - 1; i >= 0 && s[i] != '/'; i-- {
		if s[i] == ':' {
			return s
		}
	}
	return s + ":latest"
}
