package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/hamdam-go/internal/logging"
	"github.com/54b3r/hamdam-go/internal/tracing"
	"github.com/54b3r/hamdam-go/internal/version"
)

// NewAskCmd constructs the `hamdam ask` command, which loads a model,
// answers a single question and unloads the model again.
func NewAskCmd() *cobra.Command {
	var model string
	var maxTokens int
	var temperature float32

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the therapist a single question",
		Long: `Ask a single question and print the answer to stdout.

The question is answered by the selected model, grounded in the corpus for
the question's language. Persian questions should go to a Persian model
(dorna) and English questions to an English one (zephyr).

Examples:
  hamdam ask "How can I stop overthinking before I sleep?" --model zephyr
  hamdam ask "چطور می‌توانم با اضطراب کنار بیایم؟"
  hamdam ask --max-tokens 256 --temperature 0.5 "What is a thought record?" -m zephyr`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			flush, _ := tracing.Install(loadedConfig.TracingConfig(version.Version))
			defer flush()

			a, err := newApp(ctx, loadedConfig, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.Close()

			bot, err := a.newChatbot(ctx, model)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = bot.Close(context.WithoutCancel(ctx)) }()

			answer, err := bot.Ask(ctx, strings.Join(args, " "), askOptions(cmd, maxTokens, temperature))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), answer)
			return err
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to answer with (default: default_model)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum tokens for English answers (default: chat.max_tokens)")
	cmd.Flags().Float32Var(&temperature, "temperature", 0, "Sampling temperature for English answers (default: chat.temperature)")

	return cmd
}
