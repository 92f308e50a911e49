package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig controls the backoff applied to rate-limited calls
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first (default: 3)
	BackoffBase time.Duration // delay before the second attempt (default: 1s)
	Factor      float64       // growth per retry (default: 2)
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 1 * time.Second,
		Factor:      2,
	}
}

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryGateway retries RateLimited failures with exponential backoff. Every
// other failure class is returned on the first occurrence. Sleeps happen on
// the calling goroutine, so concurrent callers never wait on each other.
type RetryGateway struct {
	next   Gateway
	config RetryConfig
	sleep  Sleeper
	logger zerolog.Logger
}

// NewRetryGateway wraps next with the retry policy
func NewRetryGateway(next Gateway, config RetryConfig, logger zerolog.Logger) *RetryGateway {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = defaults.BackoffBase
	}
	if config.Factor < 1 {
		config.Factor = defaults.Factor
	}
	return &RetryGateway{
		next:   next,
		config: config,
		sleep:  sleepContext,
		logger: logger,
	}
}

// WithSleeper replaces the backoff sleep, used by tests to simulate time
func (g *RetryGateway) WithSleeper(s Sleeper) *RetryGateway {
	g.sleep = s
	return g
}

// Complete calls the wrapped gateway, retrying while it reports RateLimited
func (g *RetryGateway) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	delay := g.config.BackoffBase

	for attempt := 1; ; attempt++ {
		text, err := g.next.Complete(ctx, prompt, opts)
		if err == nil {
			return text, nil
		}
		err = classifyTransportError(ctx, err)

		if !errors.Is(err, ErrRateLimited) {
			return "", err
		}
		if attempt >= g.config.MaxAttempts {
			return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		g.logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", g.config.MaxAttempts).
			Dur("backoff", delay).
			Msg("Model call rate limited, backing off")

		if err := g.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("%w: interrupted during backoff: %v", ErrTimeout, err)
		}
		delay = time.Duration(float64(delay) * g.config.Factor)
	}
}
