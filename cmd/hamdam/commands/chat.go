package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/hamdam-go/internal/chatbot"
	"github.com/54b3r/hamdam-go/internal/display"
	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/logging"
	"github.com/54b3r/hamdam-go/internal/session"
	"github.com/54b3r/hamdam-go/internal/tracing"
	"github.com/54b3r/hamdam-go/internal/version"
)

// NewChatCmd constructs the `hamdam chat` command, the interactive terminal
// chat.
func NewChatCmd() *cobra.Command {
	var model string
	var maxTokens int
	var temperature float32

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		Long: `Start an interactive therapy chat in the terminal.

The interface follows the language of the active model: Persian for dorna,
English for zephyr. Type a message to talk, or use one of the commands:

  /switch   switch to another model (by number or name)
  /reset    clear the conversation history
  /models   list available models
  /exit     leave (also: exit, خروج, Ctrl-D)

Examples:
  hamdam chat
  hamdam chat --model zephyr`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			flush, _ := tracing.Install(loadedConfig.TracingConfig(version.Version))
			defer flush()

			a, err := newApp(ctx, loadedConfig, log, nil)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer a.Close()

			bot, err := a.newChatbot(ctx, model)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			// The REPL context may already be cancelled by Ctrl-C.
			defer func() { _ = bot.Close(context.WithoutCancel(ctx)) }()

			return runREPL(ctx, os.Stdin, cmd.OutOrStdout(), bot, askOptions(cmd, maxTokens, temperature))
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to start with (default: default_model)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum tokens per English answer (default: chat.max_tokens)")
	cmd.Flags().Float32Var(&temperature, "temperature", 0, "Sampling temperature for English answers (default: chat.temperature)")

	return cmd
}

// replChat is the part of *chatbot.Chatbot the terminal chat drives.
type replChat interface {
	ActiveModel() string
	Language() langdetect.Language
	Models() []session.Descriptor
	Ask(ctx context.Context, question string, opts chatbot.AskOptions) (string, error)
	Switch(ctx context.Context, name string) error
	Reset()
}

// exitWords end the chat.
var exitWords = []string{"/exit", "exit", "خروج"}

// runREPL reads messages and commands from in until an exit command, EOF,
// or ctx cancellation. Errors from the model are printed and the loop
// continues.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, bot replChat, opts chatbot.AskOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := readLines(ctx, in)
	readLine := func() (string, bool) {
		select {
		case <-ctx.Done():
			return "", false
		case l, ok := <-lines:
			return strings.TrimSpace(l), ok
		}
	}

	p := display.NewPrinter(out)
	lang := bot.Language()
	p.Welcome(lang, bot.ActiveModel())

	for {
		lang = bot.Language()
		_, _ = fmt.Fprint(out, display.Prompt(lang, bot.ActiveModel()))

		input, ok := readLine()
		if !ok {
			p.System(lang, "\n"+display.Text(lang, display.KeyBye))
			return nil
		}
		if input == "" {
			p.Error(lang, display.Text(lang, display.KeyInvalidInput))
			continue
		}

		switch cmd := strings.ToLower(input); {
		case slices.Contains(exitWords, cmd):
			p.System(lang, display.Text(lang, display.KeyBye))
			return nil

		case cmd == "/switch" || cmd == "switch":
			names := modelNames(bot)
			p.Section(lang, display.KeyModels)
			p.Models(names, bot.ActiveModel())
			_, _ = fmt.Fprint(out, "\n"+display.Text(lang, display.KeySwitchPrompt)+" ")

			choice, ok := readLine()
			if !ok {
				p.System(lang, "\n"+display.Text(lang, display.KeyBye))
				return nil
			}
			next, valid := resolveModel(choice, names)
			if !valid {
				p.Error(lang, display.Text(lang, display.KeyInvalidInput))
				continue
			}
			if next == bot.ActiveModel() {
				p.Warning(lang, display.Text(lang, display.KeyAlreadyActive))
				continue
			}

			p.System(lang, display.Text(lang, display.KeySwitching)+" 🔄...")
			if err := bot.Switch(ctx, next); err != nil {
				p.Error(lang, display.Text(lang, display.KeyError)+" "+err.Error())
				continue
			}
			lang = bot.Language()
			p.Success(lang, display.Text(lang, display.KeyUnloaded))
			p.SwitchSuccess(lang, bot.ActiveModel())
			p.Section(lang, display.KeyCommands)
			p.Commands(lang)

		case cmd == "/reset" || cmd == "reset":
			bot.Reset()
			p.System(lang, display.Text(lang, display.KeyResetSuccess))

		case cmd == "/models" || cmd == "models":
			p.Section(lang, display.KeyModels)
			p.Models(modelNames(bot), bot.ActiveModel())

		default:
			p.System(lang, display.Text(lang, display.KeyThinking))
			answer, err := bot.Ask(ctx, input, opts)
			if err != nil {
				if ctx.Err() != nil {
					p.System(lang, "\n"+display.Text(lang, display.KeyBye))
					return nil
				}
				p.Error(lang, display.Text(lang, display.KeyError)+" "+err.Error())
				continue
			}
			p.Answer(lang, answer)
		}
	}
}

// readLines streams lines from in until EOF or ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func modelNames(bot replChat) []string {
	models := bot.Models()
	names := make([]string, len(models))
	for i, d := range models {
		names[i] = d.Name
	}
	return names
}

// resolveModel accepts a 1-based list number or an exact model name.
func resolveModel(choice string, names []string) (string, bool) {
	if choice == "" {
		return "", false
	}
	if n, err := strconv.Atoi(choice); err == nil {
		if n >= 1 && n <= len(names) {
			return names[n-1], true
		}
		return "", false
	}
	if slices.Contains(names, choice) {
		return choice, true
	}
	return "", false
}
