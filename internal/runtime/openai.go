package runtime

import (
	"context"
	"fmt"
	"net/http"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI is a Runtime backed by an OpenAI-compatible local server. Such
// servers load their model at startup, so Load only verifies the server is
// up and Unload returns immediately.
type OpenAI struct {
	host   string
	apiKey string
	client *http.Client
	api    openai.Client
}

func newOpenAI(host, apiKey string, client *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithBaseURL(host + "/v1/"),
		option.WithHTTPClient(client),
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		// Local servers need no key; never forward OPENAI_API_KEY to them.
		opts = append(opts, option.WithHeaderDel("authorization"))
	}
	return &OpenAI{host: host, apiKey: apiKey, client: client, api: openai.NewClient(opts...)}
}

// Backend implements Runtime.
func (o *OpenAI) Backend() Backend { return BackendOpenAI }

// Load implements Runtime.
func (o *OpenAI) Load(ctx context.Context, name string, _ Options) error {
	if err := o.Ping(ctx); err != nil {
		return fmt.Errorf("runtime: openai: load %s: %w", name, err)
	}
	return nil
}

// Unload implements Runtime.
func (o *OpenAI) Unload(context.Context, string) error { return nil }

// Complete implements Runtime using the legacy completions endpoint, which
// llama-server and vLLM both serve.
func (o *OpenAI) Complete(ctx context.Context, name, prompt string, _ Options, p GenerateParams) (string, error) {
	params := openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(name),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
		Temperature: openai.Float(float64(p.Temperature)),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}
	if p.TopP > 0 {
		params.TopP = openai.Float(float64(p.TopP))
	}
	if len(p.Stop) > 0 {
		params.Stop = openai.CompletionNewParamsStopUnion{OfStringArray: p.Stop}
	}

	var extra []option.RequestOption
	if p.RepeatPenalty > 0 {
		// llama.cpp extension; servers that do not know it ignore it.
		extra = append(extra, option.WithJSONSet("repeat_penalty", p.RepeatPenalty))
	}

	res, err := o.api.Completions.New(ctx, params, extra...)
	if err != nil {
		return "", fmt.Errorf("runtime: openai: complete on %s: %w", name, err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("runtime: openai: complete on %s: no choices returned", name)
	}
	return res.Choices[0].Text, nil
}

// ChatModel implements Runtime with the eino OpenAI chat model pointed at
// the local server. repeatPenalty has no OpenAI equivalent and is dropped.
func (o *OpenAI) ChatModel(ctx context.Context, name string, _ Options, _ float32) (model.BaseChatModel, error) {
	apiKey := o.apiKey
	if apiKey == "" {
		apiKey = "local"
	}
	cm, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		BaseURL:    o.host + "/v1",
		APIKey:     apiKey,
		Model:      name,
		HTTPClient: o.client,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: openai: chat model %s: %w", name, err)
	}
	return cm, nil
}

// Ping implements Runtime.
func (o *OpenAI) Ping(ctx context.Context) error {
	if _, err := o.api.Models.List(ctx); err != nil {
		return fmt.Errorf("runtime: openai: ping: %w", err)
	}
	return nil
}
