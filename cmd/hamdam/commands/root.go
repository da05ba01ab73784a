// Package commands defines all Cobra CLI commands for the hamdam binary.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/hamdam-go/internal/audit"
	"github.com/54b3r/hamdam-go/internal/config"
	"github.com/54b3r/hamdam-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfig is the validated configuration resolved before every command.
var loadedConfig *config.Config

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hamdam",
		Short: "Hamdam, a bilingual CBT therapist chatbot running on local models",
		Long: `Hamdam is a local-first CBT therapist chatbot that answers in Persian or
English. Answers are grounded in a per-language corpus of therapy material
and generated by a local model served by Ollama or any OpenAI-compatible
server (llama.cpp, vLLM).

Models, corpora and server settings come from a YAML config file
(~/.hamdam/config.yaml) and HAMDAM_* environment variables.
See 'hamdam --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			boot := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

			// Env vars always override YAML values.
			cfg, path, err := config.Load(configPath, boot)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			loadedConfig = cfg

			log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			slog.SetDefault(log)
			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), path,
				slog.String("runtime_backend", cfg.Runtime.Backend),
				slog.String("corpus_backend", cfg.Corpus.Backend),
				slog.String("embedding_provider", cfg.Embedding.Provider),
			)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.hamdam/config.yaml)")

	root.AddCommand(
		NewChatCmd(),
		NewAskCmd(),
		NewServeCmd(),
		NewCorpusCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
