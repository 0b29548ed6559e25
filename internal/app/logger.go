package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production emits JSON for log
// shipping; everything else gets the readable text handler.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && (cfg.LogFormat == "json" || cfg.IsProduction()) {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
