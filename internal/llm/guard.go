package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig configures the circuit breaker and client-side rate limit
// placed in front of a provider
type GuardConfig struct {
	BreakerFailures   uint32        // consecutive failures that open the circuit
	BreakerTimeout    time.Duration // how long the circuit stays open
	RequestsPerMinute int           // 0 disables the limiter
}

// Guarded wraps a Provider with a circuit breaker and an optional rate
// limiter. An open circuit is reported as ServiceUnavailable so the chain
// moves on to the next provider immediately.
type Guarded struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	metrics  *Metrics
}

// NewGuarded creates a guarded provider
func NewGuarded(p Provider, cfg GuardConfig, metrics *Metrics, logger zerolog.Logger) *Guarded {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	g := &Guarded{
		provider: p,
		metrics:  metrics,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				// A malformed completion says nothing about provider health
				return err == nil || errors.Is(err, ErrInvalidResponse)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().
					Str("provider", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Provider circuit state changed")
			},
		}),
	}
	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return g
}

// Name returns the wrapped provider's name
func (g *Guarded) Name() string {
	return g.provider.Name()
}

// Complete waits for the limiter, then calls the provider through the breaker
func (g *Guarded) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	start := time.Now()
	text, err := g.complete(ctx, prompt, opts)
	g.metrics.observe(g.provider.Name(), start, err)
	return text, err
}

func (g *Guarded) complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: waiting for rate limiter: %v", ErrTimeout, err)
		}
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.provider.Complete(ctx, prompt, opts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: circuit open for %s", ErrServiceUnavailable, g.provider.Name())
		}
		return "", classifyTransportError(ctx, err)
	}

	text, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("%w: unexpected result type from circuit breaker", ErrInvalidResponse)
	}
	return text, nil
}
