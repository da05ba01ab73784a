package chatbot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/hamdam-go/internal/conversation"
	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/prompt"
	"github.com/54b3r/hamdam-go/internal/rag"
	"github.com/54b3r/hamdam-go/internal/runtime"
	"github.com/54b3r/hamdam-go/internal/session"
	"github.com/54b3r/hamdam-go/internal/store"
)

var (
	zephyr = session.Descriptor{Name: "zephyr", Path: "zephyr-7b-beta.Q4_K_M.gguf", Capability: session.CapabilityCompletion, Language: langdetect.En}
	dorna  = session.Descriptor{Name: "dorna", Path: "dorna-llama3-8b-instruct.Q4_K_M.gguf", Capability: session.CapabilityChat, Language: langdetect.Fa}
	tutor  = session.Descriptor{Name: "tutor", Path: "tutor-8b.gguf", Capability: session.CapabilityChat, Language: langdetect.En}
)

// fakeChat records every request and returns reply (or err).
type fakeChat struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]*schema.Message
	opts  []*model.Options
}

func (f *fakeChat) Generate(_ context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	f.opts = append(f.opts, model.GetCommonOptions(nil, opts...))
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChat) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChat) last() ([]*schema.Message, *model.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1], f.opts[len(f.opts)-1]
}

type fakeCompleter struct {
	reply  string
	prompt string
	params runtime.GenerateParams
}

func (f *fakeCompleter) Complete(_ context.Context, _, p string, _ runtime.Options, gp runtime.GenerateParams) (string, error) {
	f.prompt, f.params = p, gp
	return f.reply, nil
}

type fakeLoader struct {
	chat      *fakeChat
	completer *fakeCompleter
	window    int
}

func (l *fakeLoader) Load(_ context.Context, d session.Descriptor) (session.Session, error) {
	opts := session.Options{ContextWindow: l.window}
	if d.Capability == session.CapabilityCompletion {
		return session.NewCompletionSession(d, opts, l.completer), nil
	}
	return session.NewChatSession(d, opts, l.chat), nil
}

func (l *fakeLoader) Unload(context.Context, session.Session) error { return nil }

type fakeRetriever struct {
	chunks []rag.Chunk
	err    error
	lang   langdetect.Language
	k      int
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, lang langdetect.Language, k int) ([]rag.Chunk, error) {
	f.calls++
	f.lang, f.k = lang, k
	return f.chunks, f.err
}

type harness struct {
	bot       *Chatbot
	chat      *fakeChat
	completer *fakeCompleter
	retriever *fakeRetriever
}

func newHarness(t *testing.T, start string, mutate func(*Config)) *harness {
	t.Helper()
	reg, err := session.NewRegistry(zephyr, dorna, tutor)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		chat:      &fakeChat{reply: "  پاسخ  "},
		completer: &fakeCompleter{reply: " Take a short walk. \n"},
		retriever: &fakeRetriever{},
	}
	mgr := session.NewManager(reg, &fakeLoader{chat: h.chat, completer: h.completer, window: 4096})
	if err := mgr.Start(context.Background(), start); err != nil {
		t.Fatal(err)
	}
	cfg := Config{Sessions: mgr, Retriever: h.retriever}
	if mutate != nil {
		mutate(&cfg)
	}
	h.bot, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestNew_RequiresStartedManager(t *testing.T) {
	t.Parallel()
	reg, _ := session.NewRegistry(dorna)
	_, err := New(Config{Sessions: session.NewManager(reg, &fakeLoader{})})
	if !errors.Is(err, session.ErrConfiguration) {
		t.Fatalf("New err = %v, want ErrConfiguration", err)
	}
}

func TestAsk_CompletionIsolation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "zephyr", nil)

	got, err := h.bot.Ask(context.Background(), "  I feel anxious at work  ", AskOptions{MaxTokens: 999, Temperature: Temperature(0.9)})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "Take a short walk." {
		t.Errorf("answer = %q", got)
	}
	if len(h.bot.History()) != 0 {
		t.Errorf("completion path touched history: %v", h.bot.History())
	}
	if h.retriever.calls != 0 {
		t.Error("completion path retrieved context")
	}
	if want := prompt.PersonaCompletion + "\nUser: I feel anxious at work\nTherapist:"; h.completer.prompt != want {
		t.Errorf("prompt = %q, want %q", h.completer.prompt, want)
	}
	p := h.completer.params
	if p.MaxTokens != 150 || p.Temperature != 0.3 || p.TopP != 0.7 || p.RepeatPenalty != 1.1 {
		t.Errorf("params = %+v, want fixed completion settings", p)
	}
	if len(p.Stop) != 2 || p.Stop[0] != "User:" || p.Stop[1] != "Therapist:" {
		t.Errorf("stop = %v", p.Stop)
	}
}

func TestAsk_PersianChat(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "dorna", nil)
	h.retriever.chunks = []rag.Chunk{{ChunkID: "7", Content: " تنفس عمیق کمک می‌کند "}}
	q := "چطور می‌توانم اضطرابم را کنترل کنم؟"

	got, err := h.bot.Ask(context.Background(), q, AskOptions{})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "پاسخ" {
		t.Errorf("answer = %q", got)
	}
	if h.retriever.lang != langdetect.Fa || h.retriever.k != 3 {
		t.Errorf("retrieved lang=%s k=%d, want fa/3", h.retriever.lang, h.retriever.k)
	}

	msgs, opts := h.chat.last()
	if msgs[0].Role != schema.System || !strings.Contains(msgs[0].Content, "- تنفس عمیق کمک می‌کند\n") {
		t.Errorf("system message = %q", msgs[0].Content)
	}
	if !strings.HasPrefix(msgs[0].Content, prompt.PersonaFa) {
		t.Error("system message does not start with the Persian persona")
	}
	// system, history [user], duplicated user question
	if len(msgs) != 3 || msgs[1].Content != q || msgs[2].Content != q {
		t.Errorf("messages = %v", msgs)
	}
	if *opts.MaxTokens != 150 || *opts.Temperature != 0.25 || *opts.TopP != 0.7 {
		t.Errorf("fa params: max=%d temp=%v top_p=%v", *opts.MaxTokens, *opts.Temperature, *opts.TopP)
	}
	if len(opts.Stop) != 2 || opts.Stop[0] != "مراجع:" {
		t.Errorf("fa stop = %v", opts.Stop)
	}

	hist := h.bot.History()
	if len(hist) != 2 || hist[0].Role != conversation.RoleUser || hist[1].Content != "پاسخ" {
		t.Errorf("history = %v", hist)
	}
}

func TestAsk_EnglishChatUsesCallerParams(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "tutor", nil)
	h.chat.reply = "Try a thought record."

	if _, err := h.bot.Ask(context.Background(), "How can I stop overthinking every decision I make at work?", AskOptions{MaxTokens: 256, Temperature: Temperature(0.5)}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if h.retriever.lang != langdetect.En || h.retriever.k != 5 {
		t.Errorf("retrieved lang=%s k=%d, want en/5", h.retriever.lang, h.retriever.k)
	}
	msgs, opts := h.chat.last()
	if !strings.HasSuffix(msgs[0].Content, "(No sources found; please answer based on general knowledge.)") {
		t.Errorf("system message = %q", msgs[0].Content)
	}
	if *opts.MaxTokens != 256 || *opts.Temperature != 0.5 || *opts.TopP != 0.9 {
		t.Errorf("en params: max=%d temp=%v top_p=%v", *opts.MaxTokens, *opts.Temperature, *opts.TopP)
	}
	if len(opts.Stop) != 2 || opts.Stop[0] != "Client:" {
		t.Errorf("en stop = %v", opts.Stop)
	}

	if _, err := h.bot.Ask(context.Background(), "Thanks, and then?", AskOptions{}); err != nil {
		t.Fatal(err)
	}
	_, opts = h.chat.last()
	if *opts.MaxTokens != DefaultMaxTokens || *opts.Temperature != DefaultTemperature {
		t.Errorf("defaults: max=%d temp=%v", *opts.MaxTokens, *opts.Temperature)
	}
}

func TestAsk_ExplicitZeroTemperature(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		def  *float32
		opts AskOptions
		want float32
	}{
		{"caller zero beats default", nil, AskOptions{MaxTokens: 100, Temperature: Temperature(0)}, 0},
		{"configured zero default", Temperature(0), AskOptions{}, 0},
		{"unset uses configured default", Temperature(0.7), AskOptions{}, 0.7},
		{"unset without default", nil, AskOptions{}, DefaultTemperature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, "tutor", func(c *Config) { c.DefaultTemperature = tt.def })
			if _, err := h.bot.Ask(context.Background(), "How do I stop worrying", tt.opts); err != nil {
				t.Fatalf("Ask: %v", err)
			}
			_, opts := h.chat.last()
			if opts.Temperature == nil || *opts.Temperature != tt.want {
				t.Errorf("temperature = %v, want %v", opts.Temperature, tt.want)
			}
		})
	}
}

func TestAsk_LanguageMismatchRecorded(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		start    string
		question string
		want     string
	}{
		{"persian persona, english text", "dorna", "I cannot sleep at night", prompt.NoticeWriteInPersian},
		{"english persona, persian text", "tutor", "شب‌ها خوابم نمی‌برد", prompt.NoticeWriteInEnglish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg := prometheus.NewRegistry()
			m := NewMetrics(reg)
			h := newHarness(t, tt.start, func(c *Config) { c.Metrics = m })

			if _, err := h.bot.Ask(context.Background(), tt.question, AskOptions{}); err != nil {
				t.Fatalf("Ask: %v", err)
			}
			if hist := h.bot.History(); hist[0].Content != tt.want {
				t.Errorf("recorded question = %q, want %q", hist[0].Content, tt.want)
			}
			msgs, _ := h.chat.last()
			if msgs[len(msgs)-1].Content != tt.want {
				t.Errorf("final user message = %q", msgs[len(msgs)-1].Content)
			}
			if got := testutil.ToFloat64(m.languageMismatches); got != 1 {
				t.Errorf("mismatch counter = %v, want 1", got)
			}
		})
	}
}

func TestAsk_RetrievalFailureAbsorbed(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := newHarness(t, "tutor", func(c *Config) { c.Metrics = m })
	h.retriever.err = rag.ErrRetrieval
	h.retriever.chunks = []rag.Chunk{{Content: "ignored"}}

	if _, err := h.bot.Ask(context.Background(), "why do I panic", AskOptions{}); err != nil {
		t.Fatalf("Ask returned retrieval error: %v", err)
	}
	msgs, _ := h.chat.last()
	if strings.Contains(msgs[0].Content, "ignored") || !strings.Contains(msgs[0].Content, "No sources found") {
		t.Errorf("system message = %q", msgs[0].Content)
	}
	if got := testutil.ToFloat64(m.retrievalFailures.WithLabelValues("en")); got != 1 {
		t.Errorf("retrieval failures = %v, want 1", got)
	}
}

func TestAsk_GenerationErrorLeavesUserTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "tutor", nil)
	h.chat.err = errors.New("connection refused")

	_, err := h.bot.Ask(context.Background(), "hello there", AskOptions{})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	hist := h.bot.History()
	if len(hist) != 1 || hist[0].Role != conversation.RoleUser {
		t.Errorf("history = %v, want the dangling user turn", hist)
	}
}

func TestAsk_WindowAndDedupe(t *testing.T) {
	t.Parallel()
	for _, dedupe := range []bool{false, true} {
		h := newHarness(t, "tutor", func(c *Config) { c.DedupeTrailingQuestion = dedupe })
		h.chat.reply = "ok"
		for range 5 {
			if _, err := h.bot.Ask(context.Background(), "tell me more", AskOptions{}); err != nil {
				t.Fatal(err)
			}
		}
		msgs, _ := h.chat.last()
		want := 1 + conversation.Window + 1
		if dedupe {
			want--
		}
		if len(msgs) != want {
			t.Errorf("dedupe=%v: %d messages, want %d", dedupe, len(msgs), want)
		}
		if msgs[len(msgs)-1].Role != schema.User {
			t.Errorf("dedupe=%v: last message role %s", dedupe, msgs[len(msgs)-1].Role)
		}
		if got := len(h.bot.History()); got != 10 {
			t.Errorf("dedupe=%v: history len %d, want 10", dedupe, got)
		}
	}
}

func TestSwitch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "tutor", nil)
	ctx := context.Background()
	h.chat.reply = "ok"
	_, _ = h.bot.Ask(ctx, "hello", AskOptions{})

	if err := h.bot.Switch(ctx, "nope"); !errors.Is(err, session.ErrConfiguration) {
		t.Fatalf("unknown switch err = %v", err)
	}
	if h.bot.ActiveModel() != "tutor" || len(h.bot.History()) != 2 {
		t.Errorf("state changed after failed switch: model=%s history=%d", h.bot.ActiveModel(), len(h.bot.History()))
	}

	if err := h.bot.Switch(ctx, "dorna"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if h.bot.ActiveModel() != "dorna" || h.bot.Language() != langdetect.Fa {
		t.Errorf("after switch model=%s lang=%s", h.bot.ActiveModel(), h.bot.Language())
	}
	if len(h.bot.History()) != 0 {
		t.Error("history survived a model switch")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "tutor", nil)
	_, _ = h.bot.Ask(context.Background(), "hello", AskOptions{})
	h.bot.Reset()
	if len(h.bot.History()) != 0 {
		t.Error("history not cleared")
	}
	if h.bot.ActiveModel() != "tutor" {
		t.Error("Reset changed the model")
	}
}

func TestAsk_ArchivesTurns(t *testing.T) {
	t.Parallel()
	archive, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = archive.Close() })

	h := newHarness(t, "tutor", func(c *Config) {
		c.Archive = archive
		c.ConversationID = "conv-1"
	})
	h.chat.reply = "Name the feeling."
	ctx := context.Background()
	if _, err := h.bot.Ask(ctx, "I am upset", AskOptions{}); err != nil {
		t.Fatal(err)
	}
	h.bot.Reset()

	recs, err := archive.Transcript(ctx, "conv-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[1].Content != "Name the feeling." || recs[0].Model != "tutor" {
		t.Errorf("archived = %+v", recs)
	}
}

func TestModels(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", nil)
	if h.bot.ActiveModel() != "zephyr" {
		t.Errorf("default model = %s", h.bot.ActiveModel())
	}
	got := h.bot.Models()
	if len(got) != 3 || got[1].Name != "dorna" {
		t.Errorf("Models = %v", got)
	}
	if h.bot.ID() == "" {
		t.Error("conversation id not generated")
	}
}
