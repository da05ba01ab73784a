package session

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/hamdam-go/internal/runtime"
)

// Options are the load-time settings shared by every session.
type Options = runtime.Options

// Session is a model resident in the runtime. It is either a *ChatSession
// or a *CompletionSession; no other implementations exist.
type Session interface {
	// Descriptor returns the model this session was loaded from.
	Descriptor() Descriptor

	// Options returns the settings the model was loaded with.
	Options() Options

	isSession()
}

// ChatSession is a loaded model that accepts role-tagged messages.
type ChatSession struct {
	desc Descriptor
	opts Options
	chat model.BaseChatModel
}

// NewChatSession binds chat to desc. Loaders use it; tests use it with fakes.
func NewChatSession(desc Descriptor, opts Options, chat model.BaseChatModel) *ChatSession {
	return &ChatSession{desc: desc, opts: opts, chat: chat}
}

func (s *ChatSession) Descriptor() Descriptor { return s.desc }
func (s *ChatSession) Options() Options       { return s.opts }
func (*ChatSession) isSession()               {}

// Generate sends msgs to the model and returns the reply text.
func (s *ChatSession) Generate(ctx context.Context, msgs []*schema.Message, p runtime.GenerateParams) (string, error) {
	opts := []model.Option{
		model.WithMaxTokens(p.MaxTokens),
		model.WithTemperature(p.Temperature),
		model.WithTopP(p.TopP),
	}
	if len(p.Stop) > 0 {
		opts = append(opts, model.WithStop(p.Stop))
	}
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      s.desc.Name,
		Type:      string(s.desc.Capability),
		Component: components.ComponentOfChatModel,
	})
	resp, err := s.chat.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("session: %s: generate: %w", s.desc.Name, err)
	}
	if resp == nil {
		return "", fmt.Errorf("session: %s: generate: empty response", s.desc.Name)
	}
	return resp.Content, nil
}

// Completer runs raw text completion. runtime.Runtime satisfies it.
type Completer interface {
	Complete(ctx context.Context, name, prompt string, opts runtime.Options, p runtime.GenerateParams) (string, error)
}

// CompletionSession is a loaded model that only continues a prompt string.
type CompletionSession struct {
	desc Descriptor
	opts Options
	rt   Completer
}

// NewCompletionSession binds desc to the completer that serves it.
func NewCompletionSession(desc Descriptor, opts Options, rt Completer) *CompletionSession {
	return &CompletionSession{desc: desc, opts: opts, rt: rt}
}

func (s *CompletionSession) Descriptor() Descriptor { return s.desc }
func (s *CompletionSession) Options() Options       { return s.opts }
func (*CompletionSession) isSession()               {}

// Complete continues prompt and returns the generated text.
func (s *CompletionSession) Complete(ctx context.Context, prompt string, p runtime.GenerateParams) (string, error) {
	out, err := s.rt.Complete(ctx, s.desc.Model(), prompt, s.opts, p)
	if err != nil {
		return "", fmt.Errorf("session: %s: %w", s.desc.Name, err)
	}
	return out, nil
}

// Loader makes a descriptor resident and evicts it again.
type Loader interface {
	Load(ctx context.Context, d Descriptor) (Session, error)
	// Unload returns once the runtime no longer holds the model.
	Unload(ctx context.Context, s Session) error
}

// RuntimeLoader loads sessions into a runtime.Runtime.
type RuntimeLoader struct {
	Runtime runtime.Runtime
	Options Options

	// VRAMGB is the GPU memory available for offloading. When positive and
	// Options.GPULayers is AutoGPULayers, the layer count is estimated per
	// model from its size class.
	VRAMGB float64
}

// Load implements Loader.
func (l *RuntimeLoader) Load(ctx context.Context, d Descriptor) (Session, error) {
	opts, err := ResolveOptions(d, l.Options, l.VRAMGB)
	if err != nil {
		return nil, err
	}
	if err := l.Runtime.Load(ctx, d.Model(), opts); err != nil {
		return nil, fmt.Errorf("session: load %s: %w", d.Name, err)
	}

	switch d.Capability {
	case CapabilityCompletion:
		return NewCompletionSession(d, opts, l.Runtime), nil
	default:
		cm, err := l.Runtime.ChatModel(ctx, d.Model(), opts, runtime.DefaultRepeatPenalty)
		if err != nil {
			return nil, fmt.Errorf("session: load %s: %w", d.Name, err)
		}
		return NewChatSession(d, opts, cm), nil
	}
}

// Unload implements Loader.
func (l *RuntimeLoader) Unload(ctx context.Context, s Session) error {
	if err := l.Runtime.Unload(ctx, s.Descriptor().Model()); err != nil {
		return fmt.Errorf("session: unload %s: %w", s.Descriptor().Name, err)
	}
	return nil
}
