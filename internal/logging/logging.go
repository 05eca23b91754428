package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// #region init
// Init configures the global slog default. Every writer receives every record;
// with none, os.Stderr is used. Format is "text" or "json".
func Init(level slog.Level, format string, writers ...io.Writer) {
	slog.SetDefault(slog.New(NewHandler(level, format, writers...)))
}

// NewHandler builds the handler Init installs.
func NewHandler(level slog.Level, format string, writers ...io.Writer) slog.Handler {
	var ws []io.Writer
	for _, w := range writers {
		if w != nil {
			ws = append(ws, w)
		}
	}
	if len(ws) == 0 {
		ws = []io.Writer{os.Stderr}
	}

	opts := &slog.HandlerOptions{Level: level}
	handlers := make([]slog.Handler, 0, len(ws))
	for _, w := range ws {
		switch format {
		case "json":
			handlers = append(handlers, slog.NewJSONHandler(w, opts))
		default:
			handlers = append(handlers, slog.NewTextHandler(w, opts))
		}
	}
	if len(handlers) == 1 {
		return handlers[0]
	}
	return slogmulti.Fanout(handlers...)
}

// #endregion init

// #region helpers
// New returns a logger with a "component" attribute for module-scoped logging.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// #endregion helpers
