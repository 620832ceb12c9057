// Package sources holds the pieces shared by the evidence source adapters.
package sources

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/infermed/backend/pkg/circuitbreaker"
	"github.com/infermed/backend/pkg/config"
	"github.com/infermed/backend/pkg/retry"
)

// Guard wraps upstream calls in a circuit breaker and a bounded retry.
type Guard struct {
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewGuard(name string, attempts int, logger *zap.Logger) *Guard {
	if attempts <= 0 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger,
	})

	retryConfig := retry.Config{
		MaxAttempts:    attempts,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger,
	}

	return &Guard{cb: cb, retryConfig: retryConfig}
}

// FromConfig builds a guard from a source's configured retry budget.
func FromConfig(name string, cfg config.SourceConfig, logger *zap.Logger) *Guard {
	return NewGuard(name, cfg.Retries, logger)
}

// Do runs op under the breaker. Errors wrapped with retry.Permanent are
// returned after one attempt.
func (g *Guard) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return g.cb.Execute(ctx, func() error {
		return retry.Do(ctx, g.retryConfig, func() error {
			return op(ctx)
		})
	})
}

func (g *Guard) State() circuitbreaker.State {
	return g.cb.State()
}

// Limit scales a base per-side limit by the retrieval depth multiplier.
func Limit(base, depth int) int {
	if base <= 0 {
		base = 10
	}
	if depth < 1 {
		depth = 1
	}
	return base * depth
}
