package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the process logger. JSON if HUNT_JSON_LOG=1/true/json,
// text otherwise; level from HUNT_LOG_LEVEL.
func Init(service string) *slog.Logger {
	return New(os.Stdout, service, os.Getenv("HUNT_JSON_LOG"), os.Getenv("HUNT_LOG_LEVEL"))
}

// New builds a logger writing to w and installs it as the slog default.
func New(w io.Writer, service, mode, level string) *slog.Logger {
	mode = strings.ToLower(mode)
	json := mode == "1" || mode == "true" || mode == "json"
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Leveler {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
