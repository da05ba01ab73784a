// Package audit provides a structured audit logger for CLI command invocations.
// It logs command name, resolved configuration, and sanitised environment state
// so operators can trace what happened without exposing secret values.
//
// Secrets are logged as presence/absence only: never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// secretEnvKeys lists environment variable names whose values must never be
// logged. Only presence ("set") or absence ("unset") is recorded.
var secretEnvKeys = map[string]bool{
	"HAMDAM_RUNTIME_API_KEY": true,
	"EMBEDDING_API_KEY":      true,
	"QDRANT_API_KEY":         true,
	"HAMDAM_API_KEY":         true,
	"LANGFUSE_PUBLIC_KEY":    true,
	"LANGFUSE_SECRET_KEY":    true,
}

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, the sanitised environment
// and any extra attributes the caller resolved (active model, backends).
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	attrs = append(attrs, extra...)

	for _, key := range auditKeys {
		attrs = append(attrs, slog.String(key, SanitiseKey(key, os.Getenv(key))))
	}

	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []string{
	"HAMDAM_CONFIG",
	"HAMDAM_RUNTIME_BACKEND",
	"HAMDAM_RUNTIME_HOST",
	"OLLAMA_HOST",
	"HAMDAM_RUNTIME_API_KEY",
	"HAMDAM_DEFAULT_MODEL",
	"HAMDAM_GPU_LAYERS",
	"HAMDAM_VRAM_GB",
	"EMBEDDING_PROVIDER",
	"EMBEDDING_MODEL",
	"EMBEDDING_API_KEY",
	"HAMDAM_CORPUS_BACKEND",
	"HAMDAM_CORPUS_DIR",
	"QDRANT_HOST",
	"QDRANT_PORT",
	"QDRANT_API_KEY",
	"HAMDAM_API_KEY",
	"HAMDAM_HISTORY_DB",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"LANGFUSE_PUBLIC_KEY",
	"LANGFUSE_SECRET_KEY",
}

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	// Redact home directory for privacy in logs.
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
