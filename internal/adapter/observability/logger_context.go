package observability

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithLogger stores a logger in the context so per-job attributes (job id,
// type) follow the call chain without threading a logger parameter.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the context logger, or slog.Default() when none
// was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
