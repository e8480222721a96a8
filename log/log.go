// Package log carries the shared slog plumbing: context propagation and the
// handler combinators the bootstrap wires together.
package log

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// ContextWithLogger stores a logger in the context for downstream callers.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// LoggerFromContext returns the logger stored in ctx, falling back to
// slog.Default when none was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
