package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "peerlink"

const redacted = "[REDACTED]"

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// secretKeys are attribute keys whose values never reach the output.
var secretKeys = map[string]bool{
	"password": true,
	"token":    true,
	"api_key":  true,
	"secret":   true,
}

// Logger is a slog.Logger carrying peerlink's default fields. It satisfies
// the narrow Logger interfaces of the relay, catalog, recordstore and mqtt
// packages, and is safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the config, writing to
// stdout unless cfg.Output is "stderr".
//
// Parameters:
//   - cfg: Logging configuration
//   - version: Build version recorded on every entry
//
// Returns:
//   - *Logger: Ready-to-use logger
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(cfg, version, output(cfg.Output))
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h)}
}

func output(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel maps debug, info, warn(ing) and error, case-insensitively.
// Anything else is info.
func parseLevel(level string) slog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// With returns a child logger with extra default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags entries with the subsystem that wrote them.
//
//	logger.Component("relay").Info("poll complete") // component=relay
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Host tags entries with the peer's host ID, so logs from several peers
// sharing one store can be told apart.
func (l *Logger) Host(id string) *Logger {
	return l.With("host", id)
}

// Default is the JSON info-level stdout logger used before config loads.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard drops everything. Used by CLI subcommands and tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
