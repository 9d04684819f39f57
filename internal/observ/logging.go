package observ

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(NewLogger(os.Stdout, "info"))
}

// NewLogger builds a JSON slog logger at the named level (debug, info, warn, error).
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogger replaces the process logger used by Log.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

func Logger() *slog.Logger {
	return logger.Load()
}

// Log emits one structured line named by event. An "error" key raises the level.
func Log(event string, kv map[string]any) {
	level := slog.LevelInfo
	attrs := make([]slog.Attr, 0, len(kv)+1)
	attrs = append(attrs, slog.String("ts", time.Now().UTC().Format(time.RFC3339Nano)))
	for k, v := range kv {
		if k == "error" {
			level = slog.LevelWarn
			if err, ok := v.(error); ok {
				v = err.Error()
			}
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.Load().LogAttrs(context.Background(), level, event, attrs...)
}

// Debug is Log at debug level, dropped unless the logger is configured for it.
func Debug(event string, kv map[string]any) {
	attrs := make([]slog.Attr, 0, len(kv))
	for k, v := range kv {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.Load().LogAttrs(context.Background(), slog.LevelDebug, event, attrs...)
}
