package o11y

import (
	"context"
	"log/slog"
)

// LoggerFromContext returns a JSON logger whose lines are recorded in the span carried by ctx.
// Without a span the default slog logger is returned.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	span := GetSpan(ctx)
	if span == nil {
		return slog.Default()
	}
	return slog.New(slog.NewJSONHandler(span, nil))
}
