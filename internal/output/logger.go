/*
PURPOSE:
  Provides a structured logger for bench-sweep.
  Wraps slog for consistent console output.

REQUIREMENTS:
  User-specified:
  - Progress, successes and failures are reported on the console in real time.

  Implementation-discovered:
  - Needs level and format switches (text for humans, JSON for log shippers).
  - Every line of a sweep carries its session id.

ARCHITECTURE INTEGRATION:
  - Used everywhere.
  - Configured by: internal/cli (root PersistentPreRunE)

ERROR HANDLING:
  - N/A

IMPLEMENTATION RULES:
  - Use `log/slog`.
  - Use the *Context logging methods where a session context is available.

USAGE:
  output.Logger.InfoContext(ctx, "message", "key", "value")

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - All.

MAINTENANCE:
  - Add new context keys to ContextHandler.Handle.
*/

package output

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

func init() {
	Logger = slog.New(&ContextHandler{Handler: slog.NewTextHandler(os.Stdout, nil)})
}

// SetLogger allows overriding the default logger (e.g. for testing or config changes)
func SetLogger(l *slog.Logger) {
	Logger = l
}

// LogConfig selects level, format and destination.
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "text" or "json"
	Output io.Writer
}

// Setup replaces Logger according to cfg and returns it.
func Setup(cfg LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	Logger = slog.New(&ContextHandler{Handler: handler})
	return Logger
}

type contextKey string

const sessionKey contextKey = "session"

// WithSession tags ctx with a sweep session id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// SessionID returns the session id stored in ctx, if any.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// ContextHandler adds the session id from the context to each record.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := SessionID(ctx); id != "" {
		r.AddAttrs(slog.String("session", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
