package logger

import (
	"context"
	"log/slog"
	"os"
)

// New returns the process logger: JSON on stdout, debug level in local and dev.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

type (
	loggerKey    struct{}
	requestIDKey struct{}
)

// With stores a request logger in ctx.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// From returns the request logger carried by ctx, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id the middleware assigned to the request behind ctx.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// Scope tags a component logger with the request id carried by ctx.
// Work started outside a request gets base back unchanged.
func Scope(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id, ok := RequestID(ctx); ok {
		return base.With("request_id", id)
	}
	return base
}
