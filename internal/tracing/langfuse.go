// Package tracing sends model calls to Langfuse through eino's global
// callback handlers.
package tracing

import (
	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Config holds Langfuse credentials. Tracing is off unless both keys are set.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
	// Release tags every trace with the binary version.
	Release string
}

// Enabled reports whether cfg carries the credentials tracing needs.
func (c *Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup builds the Langfuse callback handler. It returns the handler, a
// flush function that must run before process exit, and whether tracing is
// enabled. When disabled the first two values are nil.
func Setup(cfg *Config) (callbacks.Handler, func(), bool) {
	if cfg == nil || !cfg.Enabled() {
		return nil, nil, false
	}
	host := cfg.Host
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      "hamdam",
		Release:   cfg.Release,
	})
	return handler, flusher, true
}

// Install registers the Langfuse handler globally when cfg enables it and
// returns the flush function to defer. The returned function is never nil.
func Install(cfg *Config) (flush func(), enabled bool) {
	handler, flusher, ok := Setup(cfg)
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}
