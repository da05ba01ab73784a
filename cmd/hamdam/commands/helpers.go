package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/hamdam-go/internal/chatbot"
	"github.com/54b3r/hamdam-go/internal/config"
	"github.com/54b3r/hamdam-go/internal/embedder"
	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/rag"
	"github.com/54b3r/hamdam-go/internal/runtime"
	"github.com/54b3r/hamdam-go/internal/session"
	"github.com/54b3r/hamdam-go/internal/store"
)

// corpusLanguages are the languages a corpus can be built and loaded for.
var corpusLanguages = []langdetect.Language{langdetect.Fa, langdetect.En}

// app holds the dependencies shared by every chatbot in the process: one
// runtime client and loader, one model registry, one retriever and one
// archive.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	runtime   runtime.Runtime
	registry  *session.Registry
	loader    *session.SharedLoader
	retriever *rag.Retriever
	archive   store.Archive
	metrics   *chatbot.Metrics
}

// newApp wires the shared dependencies from cfg. reg receives the chatbot
// metrics; nil disables them.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (*app, error) {
	rt, err := runtime.New(cfg.RuntimeClientConfig())
	if err != nil {
		return nil, err
	}
	registry, err := session.NewRegistry(cfg.Models...)
	if err != nil {
		return nil, err
	}

	retriever, err := buildRetriever(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	loader := session.NewSharedLoader(&session.RuntimeLoader{
		Runtime: rt,
		Options: cfg.SessionOptions(),
		VRAMGB:  cfg.Runtime.VRAMGB,
	})

	a := &app{
		cfg:       cfg,
		log:       log,
		runtime:   rt,
		registry:  registry,
		loader:    loader,
		retriever: retriever,
		archive:   openArchive(cfg, log),
	}
	if reg != nil {
		a.metrics = chatbot.NewMetrics(reg)
	}
	return a, nil
}

// newChatbot loads model (or the configured default) into a fresh session
// manager and returns a chatbot bound to it.
func (a *app) newChatbot(ctx context.Context, model string) (*chatbot.Chatbot, error) {
	if model == "" {
		model = a.cfg.DefaultModel
	}

	mgr := session.NewManager(a.registry, a.loader)
	if err := mgr.Start(ctx, model); err != nil {
		return nil, err
	}

	cfg := chatbot.Config{
		Sessions:               mgr,
		Metrics:                a.metrics,
		DefaultMaxTokens:       a.cfg.Chat.MaxTokens,
		DefaultTemperature:     chatbot.Temperature(a.cfg.Chat.Temperature),
		DedupeTrailingQuestion: a.cfg.Chat.DedupeTrailingQuestion,
	}
	// A nil *rag.Retriever must not become a non-nil interface.
	if a.retriever != nil {
		cfg.Retriever = a.retriever
	}
	if a.archive != nil {
		cfg.Archive = a.archive
	}

	bot, err := chatbot.New(cfg)
	if err != nil {
		_ = mgr.Close(ctx)
		return nil, err
	}
	return bot, nil
}

// askOptions maps the --max-tokens and --temperature flags onto
// chatbot.AskOptions. The temperature is only set when the flag was given,
// so --temperature 0 is sent as 0 rather than replaced by the default.
func askOptions(cmd *cobra.Command, maxTokens int, temperature float32) chatbot.AskOptions {
	opts := chatbot.AskOptions{MaxTokens: maxTokens}
	if cmd.Flags().Changed("temperature") {
		opts.Temperature = chatbot.Temperature(temperature)
	}
	return opts
}

// Close releases the retriever and archive.
func (a *app) Close() {
	if a.retriever != nil {
		if err := a.retriever.Close(); err != nil {
			a.log.Warn("retriever: close failed", slog.Any("error", err))
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.log.Warn("history: close failed", slog.Any("error", err))
		}
	}
}

// buildRetriever loads every configured corpus. A language without corpus
// files is skipped with a warning; chats in it run ungrounded. It returns
// nil when no corpus is available at all.
func buildRetriever(ctx context.Context, cfg *config.Config, log *slog.Logger) (*rag.Retriever, error) {
	embCfg := cfg.EmbedderConfig()
	if err := embedder.Validate(embCfg, log); err != nil {
		return nil, err
	}
	emb, err := embedder.New(embCfg)
	if err != nil {
		return nil, err
	}

	var corpora []*rag.Corpus
	for _, lang := range corpusLanguages {
		c, err := loadCorpus(ctx, cfg, lang)
		if err != nil {
			for _, open := range corpora {
				_ = open.Index.Close()
			}
			return nil, fmt.Errorf("corpus %s: %w", lang, err)
		}
		if c == nil {
			log.Warn("retriever: no corpus, answers will not be grounded",
				slog.String("language", string(lang)),
				slog.String("backend", cfg.Corpus.Backend),
			)
			continue
		}
		log.Info("retriever: corpus loaded",
			slog.String("language", string(lang)),
			slog.String("backend", cfg.Corpus.Backend),
			slog.Int("chunks", len(c.Chunks)),
		)
		corpora = append(corpora, c)
	}

	if len(corpora) == 0 {
		return nil, nil
	}
	return rag.NewRetriever(emb, corpora...), nil
}

// loadCorpus opens lang's corpus from the configured backend, or returns
// (nil, nil) when it has not been built.
func loadCorpus(ctx context.Context, cfg *config.Config, lang langdetect.Language) (*rag.Corpus, error) {
	index, meta := cfg.CorpusPaths(lang)
	switch cfg.Corpus.Backend {
	case config.CorpusQdrant:
		return rag.OpenQdrantCorpus(ctx, cfg.QdrantConfig(), lang, meta)
	default:
		return rag.LoadFlatCorpus(lang, index, meta)
	}
}

// openArchive opens the transcript archive. Failures only disable
// archiving; the chat keeps working.
func openArchive(cfg *config.Config, log *slog.Logger) store.Archive {
	if !cfg.HistoryEnabled() {
		log.Info("history: disabled via history.db_path")
		return nil
	}

	path := cfg.History.DBPath
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}

	st, err := store.Open(path)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", path))
	return st
}

// mustArchive opens the archive for commands that only read it.
func mustArchive(cfg *config.Config) (store.Archive, error) {
	if !cfg.HistoryEnabled() {
		return nil, errors.New("history is disabled (history.db_path: disabled)")
	}
	path := cfg.History.DBPath
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return st, nil
}
