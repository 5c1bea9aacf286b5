package middleware

import (
	"context"
	"time"
)

// Timeout returns middleware that bounds every step attempt with the
// given duration. The executor already applies per-node timeouts; this
// middleware is a global ceiling for deployments that want one.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (any, error) {
		if d <= 0 {
			return next(ctx)
		}
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(tctx)
	}
}
