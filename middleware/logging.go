package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs step execution start, completion,
// and failure with structured attributes.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (any, error) {
		attrs := []any{
			slog.String("run_id", inv.Run.ID.String()),
			slog.String("workflow_id", inv.Run.WorkflowID),
			slog.String("step", inv.NodeName),
			slog.String("kind", string(inv.NodeKind)),
			slog.Int("attempt", inv.Attempt),
		}
		logger.Debug("step starting", attrs...)

		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start)

		attrs = append(attrs, slog.Duration("elapsed", elapsed))
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			logger.Warn("step failed", attrs...)
			return out, err
		}
		logger.Debug("step completed", attrs...)
		return out, nil
	}
}
