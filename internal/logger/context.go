package logger

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithContext stashes a logger in the context; the request middleware uses
// it to attach request-scoped attributes.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the context's logger, or slog.Default when none was
// injected, so call sites never nil-check.
func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}
