// Package strategy runs an ordered list of independent lookup strategies
// sharing a result type. The first strategy that succeeds wins; each failure
// is non-fatal and logged; exhaustion yields the caller's terminal error.
//
// Used for host discovery, group-membership discovery and product-bundle
// probing, where a provider offers several unreliable paths to the same
// answer.
package strategy

import (
	"context"
	"log/slog"
)

// Strategy is one attempt at producing a T. Returning ok=false without an
// error means the strategy ran but found nothing; both cases advance the
// chain.
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, bool, error)
}

// Chain evaluates strategies in order and returns the first hit. When every
// strategy misses or fails it returns terminal.
func Chain[T any](ctx context.Context, logger *slog.Logger, strategies []Strategy[T], terminal error) (T, error) {
	var zero T
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, ok, err := s.Run(ctx)
		if err != nil {
			if logger != nil {
				logger.WarnContext(ctx, "strategy failed", "strategy", s.Name, "error", err)
			}
			continue
		}
		if !ok {
			if logger != nil {
				logger.DebugContext(ctx, "strategy found nothing", "strategy", s.Name)
			}
			continue
		}
		if logger != nil {
			logger.DebugContext(ctx, "strategy succeeded", "strategy", s.Name)
		}
		return v, nil
	}
	return zero, terminal
}
