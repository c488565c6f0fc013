package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"vishwatch/internal/config"
)

// Level is shared by every logger built here so a config reload can change
// verbosity without rebuilding handlers.
var Level = new(slog.LevelVar)

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func SetLevel(level string) {
	Level.Set(ParseLevel(level))
}

func NewLogger(level string) *slog.Logger {
	SetLevel(level)
	return newJSON(os.Stdout)
}

// New builds the service logger. When a file is configured, records go to both
// stdout and a rotating file. The returned closer releases the file.
func New(cfg config.LoggingConfig) (*slog.Logger, func() error, error) {
	SetLevel(cfg.Level)
	if cfg.File == "" {
		return newJSON(os.Stdout), func() error { return nil }, nil
	}
	if dir := filepath.Dir(cfg.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return newJSON(io.MultiWriter(os.Stdout, rotator)), rotator.Close, nil
}

func newJSON(w io.Writer) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: Level})
	return slog.New(h).With("service", "vishwatch")
}
