// Package ctxkey holds the context keys shared by the inbound transports and
// the gateway. It imports no other internal package.
package ctxkey

import (
	"context"
	"log/slog"
)

// LoggerKey stores the request-scoped *slog.Logger (request_id, client_ip).
type LoggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

// Logger returns the request-scoped logger, or fallback when ctx has none.
func Logger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}
