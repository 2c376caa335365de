package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithTurn returns a logger with turn context fields attached.
// Use this for all logging within one inbound update's processing.
func WithTurn(correlationID, userID string) *slog.Logger {
	return slog.With(
		"correlation_id", correlationID,
		"user_id", userID,
	)
}

// WithTool returns a logger scoped to a specific tool invocation within a turn.
func WithTool(logger *slog.Logger, tool, invocationID string) *slog.Logger {
	return logger.With(
		"tool", tool,
		"invocation_id", invocationID,
	)
}

type correlationKey struct{}

// WithCorrelationID stores the turn correlation id on the context so outbound
// calls and the audit trail can recover it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id stored on the context, or "".
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
