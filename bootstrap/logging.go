package bootstrap

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/openstack-archive/namos/config"
)

// ParseLevel maps a level name to a slog level, or fallback when the name is
// empty or unknown.
func ParseLevel(name string, fallback slog.Level) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return fallback
}

// NewLogger builds a binary's root logger. Format "text" selects the text
// handler, anything else JSON. Debug level adds source locations.
func NewLogger(w io.Writer, service, version string, cfg config.LogConfig) *slog.Logger {
	level := ParseLevel(cfg.Level, slog.LevelInfo)
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", service, "version", version, "pid", os.Getpid())
}
