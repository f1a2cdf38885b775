package log

import (
	"context"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

// WithLogger attaches a logger to the context. Handlers use this to tag
// everything downstream of one connection or request with its identity
// fields.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Ctx returns the logger attached to the context, falling back to the
// global logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return &l
	}
	return L()
}
