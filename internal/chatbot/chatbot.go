// Package chatbot answers questions with the active model. It detects the
// question's language, grounds chat models in the matching corpus, keeps the
// conversation log, and swaps models on request.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/54b3r/hamdam-go/internal/budget"
	"github.com/54b3r/hamdam-go/internal/conversation"
	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/logging"
	"github.com/54b3r/hamdam-go/internal/prompt"
	"github.com/54b3r/hamdam-go/internal/rag"
	"github.com/54b3r/hamdam-go/internal/runtime"
	"github.com/54b3r/hamdam-go/internal/session"
	"github.com/54b3r/hamdam-go/internal/store"
)

// ErrGeneration marks a failed model call. It is returned to the caller.
var ErrGeneration = errors.New("chatbot: generation failed")

// Defaults applied when Ask is called without explicit settings.
const (
	DefaultMaxTokens   = 512
	DefaultTemperature = 0.3
)

// Generation settings that are fixed per prompting path.
var (
	completionParams = runtime.GenerateParams{
		MaxTokens:     150,
		Temperature:   0.3,
		TopP:          0.7,
		RepeatPenalty: runtime.DefaultRepeatPenalty,
		Stop:          prompt.StopCompletion,
	}
	persianChatParams = runtime.GenerateParams{
		MaxTokens:     150,
		Temperature:   0.25,
		TopP:          0.7,
		RepeatPenalty: runtime.DefaultRepeatPenalty,
	}
)

const englishTopP = 0.9

// Retriever finds corpus chunks for a question. *rag.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, question string, lang langdetect.Language, k int) ([]rag.Chunk, error)
}

// Config holds the dependencies of a Chatbot.
type Config struct {
	// Sessions owns the active model. Required and already started.
	Sessions *session.Manager

	// Retriever grounds chat answers. Nil disables retrieval.
	Retriever Retriever

	// Archive receives every appended turn. Nil disables archiving.
	Archive store.Archive

	// ConversationID keys archived turns. Generated when empty.
	ConversationID string

	Metrics *Metrics

	// DefaultMaxTokens and DefaultTemperature fill AskOptions fields the
	// caller left unset. A zero DefaultMaxTokens falls back to 512 and a nil
	// DefaultTemperature to 0.3; an explicit 0 temperature is kept.
	DefaultMaxTokens   int
	DefaultTemperature *float32

	// DedupeTrailingQuestion stops the current question from being sent
	// twice (once as the newest history turn and once as the final user
	// message).
	DedupeTrailingQuestion bool
}

// AskOptions tune English chat answers for one question. A zero MaxTokens
// or a nil Temperature uses the configured default.
type AskOptions struct {
	MaxTokens   int
	Temperature *float32
}

// Temperature returns a pointer to v for AskOptions.Temperature.
func Temperature(v float32) *float32 { return &v }

// Chatbot is one conversation with a switchable model. Ask, Switch and
// Reset are serialized per instance.
type Chatbot struct {
	cfg      Config
	sessions *session.Manager
	history  conversation.Log
	id       string

	mu sync.Mutex
}

// New constructs a Chatbot. cfg.Sessions must have an active session.
func New(cfg Config) (*Chatbot, error) {
	if cfg.Sessions == nil || cfg.Sessions.Active() == nil {
		return nil, fmt.Errorf("%w: chatbot needs a started session manager", session.ErrConfiguration)
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = DefaultMaxTokens
	}
	if cfg.DefaultTemperature == nil {
		cfg.DefaultTemperature = Temperature(DefaultTemperature)
	}
	id := cfg.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	return &Chatbot{cfg: cfg, sessions: cfg.Sessions, id: id}, nil
}

// ID returns the conversation id used for archiving.
func (c *Chatbot) ID() string { return c.id }

// ActiveModel returns the name of the loaded model.
func (c *Chatbot) ActiveModel() string { return c.sessions.Descriptor().Name }

// Language returns the persona language of the loaded model.
func (c *Chatbot) Language() langdetect.Language { return c.sessions.Language() }

// Models returns every model that can be switched to, in order.
func (c *Chatbot) Models() []session.Descriptor { return c.sessions.Registry().Descriptors() }

// History returns the full conversation log, oldest first.
func (c *Chatbot) History() []conversation.Turn { return c.history.All() }

// Ask answers question with the active model. opts apply to English chat
// answers only. Retrieval problems are logged and the answer proceeds
// without grounding. Generation failures return an error matching
// ErrGeneration.
func (c *Chatbot) Ask(ctx context.Context, question string, opts AskOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.DefaultMaxTokens
	}
	temperature := *c.cfg.DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	start := time.Now()
	qlang := langdetect.Detect(question)

	var (
		answer string
		path   string
		err    error
	)
	switch s := c.sessions.Active().(type) {
	case *session.CompletionSession:
		path = "completion"
		answer, err = c.complete(ctx, s, question)
	case *session.ChatSession:
		path = "chat"
		answer, err = c.chat(ctx, s, question, qlang, maxTokens, temperature)
	default:
		return "", fmt.Errorf("%w: no model loaded", session.ErrConfiguration)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.cfg.Metrics.observeAsk(c.ActiveModel(), path, outcome, time.Since(start).Seconds())
	return answer, err
}

func (c *Chatbot) complete(ctx context.Context, s *session.CompletionSession, question string) (string, error) {
	raw, err := s.Complete(ctx, prompt.Completion(question), completionParams)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return prompt.SanitizeOutput(raw), nil
}

func (c *Chatbot) chat(ctx context.Context, s *session.ChatSession, question string, qlang langdetect.Language, maxTokens int, temperature float32) (string, error) {
	log := logging.FromContext(ctx)
	persona := s.Descriptor().Language

	q, replaced := prompt.SanitizeQuestion(persona, question)
	if replaced {
		c.cfg.Metrics.mismatch(string(persona))
		log.Debug("chatbot: question language does not match persona", "persona", persona, "detected", qlang)
	}
	c.appendTurn(ctx, conversation.Turn{Role: conversation.RoleUser, Content: q})

	retrievalLang := langdetect.En
	if qlang == langdetect.Fa {
		retrievalLang = langdetect.Fa
	}
	chunks := c.retrieve(ctx, q, retrievalLang)

	msgs := c.buildMessages(persona, chunks, q)

	params := persianChatParams
	if qlang == langdetect.Fa {
		params.Stop = prompt.ChatStop(langdetect.Fa)
	} else {
		params = runtime.GenerateParams{
			MaxTokens:     maxTokens,
			Temperature:   temperature,
			TopP:          englishTopP,
			RepeatPenalty: runtime.DefaultRepeatPenalty,
			Stop:          prompt.ChatStop(langdetect.En),
		}
	}

	if u := budget.Check(msgs, params.MaxTokens, s.Options().ContextWindow); u.Over() {
		c.cfg.Metrics.budgetExceeded()
		log.Warn("budget: prompt may not fit the context window",
			slog.Int("estimated_tokens", u.Prompt),
			slog.Int("max_tokens", u.Reserved),
			slog.Int("context_window", u.Window),
		)
	}

	raw, err := s.Generate(ctx, msgs, params)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	answer := prompt.SanitizeOutput(raw)
	c.appendTurn(ctx, conversation.Turn{Role: conversation.RoleAssistant, Content: answer})
	return answer, nil
}

func (c *Chatbot) retrieve(ctx context.Context, question string, lang langdetect.Language) []rag.Chunk {
	if c.cfg.Retriever == nil {
		return nil
	}
	chunks, err := c.cfg.Retriever.Retrieve(ctx, question, lang, rag.TopKForQuestion(question))
	if err != nil {
		c.cfg.Metrics.retrievalFailed(string(lang))
		logging.FromContext(ctx).Warn("RAG retrieval failed, continuing without context",
			slog.String("lang", string(lang)), slog.Any("error", err))
		return nil
	}
	c.cfg.Metrics.chunks(len(chunks))
	return chunks
}

// buildMessages lays out the chat request: system instruction, the recent
// window of the log (which already ends with the current question), then
// the question again as the final user message unless deduplication is on.
func (c *Chatbot) buildMessages(persona langdetect.Language, chunks []rag.Chunk, question string) []*schema.Message {
	recent := c.history.Recent(conversation.Window)
	msgs := make([]*schema.Message, 0, len(recent)+2)
	msgs = append(msgs, schema.SystemMessage(prompt.System(persona, chunks)))
	for _, t := range recent {
		switch t.Role {
		case conversation.RoleUser:
			msgs = append(msgs, schema.UserMessage(t.Content))
		case conversation.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		}
	}
	if !c.cfg.DedupeTrailingQuestion {
		msgs = append(msgs, schema.UserMessage(question))
	}
	return msgs
}

func (c *Chatbot) appendTurn(ctx context.Context, t conversation.Turn) {
	c.history.Append(t)
	if c.cfg.Archive == nil {
		return
	}
	if err := c.cfg.Archive.Append(ctx, c.id, c.ActiveModel(), t); err != nil {
		logging.FromContext(ctx).Warn("history: failed to archive turn", slog.String("role", string(t.Role)), slog.Any("error", err))
	}
}

// Switch loads the named model and clears the conversation log. An unknown
// name returns an error matching session.ErrConfiguration and leaves both
// the model and the log unchanged.
func (c *Chatbot) Switch(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sessions.Switch(ctx, name); err != nil {
		return err
	}
	c.history.Reset()
	return nil
}

// Reset clears the conversation log. Archived turns are kept.
func (c *Chatbot) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.Reset()
}

// Close unloads the active model.
func (c *Chatbot) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.Close(ctx)
}
