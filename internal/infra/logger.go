package infra

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NewLogger builds the process logger from the logging section. When a log
// file is configured, records go to both stderr and the file. The returned
// closer releases the file.
func NewLogger(cfg *Config) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Logging.Level))); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closer := func() {}
	if cfg.Logging.File != "" {
		if err := EnsureDir(filepath.Dir(cfg.Logging.File)); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler).With(slog.String("app", cfg.App.Name)), closer, nil
}
