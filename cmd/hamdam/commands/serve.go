package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/hamdam-go/internal/config"
	"github.com/54b3r/hamdam-go/internal/logging"
	"github.com/54b3r/hamdam-go/internal/rag"
	"github.com/54b3r/hamdam-go/internal/server"
	"github.com/54b3r/hamdam-go/internal/tracing"
	"github.com/54b3r/hamdam-go/internal/version"
)

// startupCheckTimeout bounds the dependency check run before listening.
const startupCheckTimeout = 10 * time.Second

// NewServeCmd constructs the `hamdam serve` command, which starts the HTTP
// API. Every API session owns its own chatbot and loaded model.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var idleTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the hamdam HTTP API",
		Long: `Start the hamdam HTTP API.

Clients create a session (optionally choosing a model), then ask questions,
switch models or reset the conversation within it. Sessions hold a loaded
model, so server.max_sessions bounds memory use; idle sessions are closed
after --session-idle-timeout.

Endpoints:
  GET    /api/models
  POST   /api/sessions
  GET    /api/sessions/{id}
  DELETE /api/sessions/{id}
  POST   /api/sessions/{id}/ask
  POST   /api/sessions/{id}/switch
  POST   /api/sessions/{id}/reset
  GET    /api/health, /api/ready, /metrics

Examples:
  hamdam serve
  hamdam serve --port 9090
  HAMDAM_API_KEY=secret hamdam serve --host 0.0.0.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			cfg := loadedConfig
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			log.Info("serve starting",
				slog.String("version", version.String()),
				slog.String("runtime", cfg.Runtime.Backend),
				slog.String("runtime_host", cfg.Runtime.Host),
			)

			// Opt-in; a no-op when the Langfuse keys are absent.
			flush, ok := tracing.Install(cfg.TracingConfig(version.Version))
			defer flush()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			a, err := newApp(ctx, cfg, log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			pingers, closePingers, err := buildPingers(cfg, a)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closePingers()

			checkCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
			if err := server.NewMultiPinger(pingers...).Ping(checkCtx); err != nil {
				log.Warn("serve: dependency not ready at startup", slog.Any("error", err))
			}
			cancel()

			srv, err := server.New(func(ctx context.Context, model string) (server.Chat, error) {
				bot, err := a.newChatbot(ctx, model)
				if err != nil {
					return nil, err
				}
				return bot, nil
			}, &server.Config{
				Host:               cfg.Server.Host,
				Port:               cfg.Server.Port,
				AskTimeout:         cfg.Runtime.Timeout,
				Logger:             log,
				Pingers:            pingers,
				Models:             a.registry.Descriptors(),
				MaxSessions:        cfg.Server.MaxSessions,
				SessionIdleTimeout: idleTimeout,
				RateLimit:          cfg.Server.RateLimit,
				RateBurst:          cfg.Server.RateBurst,
				APIKey:             cfg.Server.APIKey,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (default: server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (default: server.port)")
	cmd.Flags().DurationVar(&idleTimeout, "session-idle-timeout", 30*time.Minute, "Close sessions unused for this long (0 disables)")

	return cmd
}

// buildPingers returns the readiness checks for the runtime and, with the
// qdrant corpus backend, Qdrant. The returned func closes the check client.
func buildPingers(cfg *config.Config, a *app) ([]server.Pinger, func(), error) {
	pingers := []server.Pinger{server.NewRuntimePinger(a.runtime)}
	if cfg.Corpus.Backend != config.CorpusQdrant {
		return pingers, func() {}, nil
	}

	client, err := rag.NewQdrantClient(cfg.QdrantConfig())
	if err != nil {
		return nil, nil, err
	}
	pingers = append(pingers, server.NewQdrantPinger(client))
	return pingers, func() { _ = client.Close() }, nil
}
