package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

type chainEntry struct {
	name    string
	gateway Gateway
}

// Chain tries a prioritized list of gateways in order until one succeeds
type Chain struct {
	entries []chainEntry
	logger  zerolog.Logger
}

// NewChain creates an empty chain
func NewChain(logger zerolog.Logger) *Chain {
	return &Chain{logger: logger}
}

// Add appends a gateway with the lowest priority so far
func (c *Chain) Add(name string, g Gateway) *Chain {
	c.entries = append(c.entries, chainEntry{name: name, gateway: g})
	return c
}

// Len returns the number of gateways in the chain
func (c *Chain) Len() int {
	return len(c.entries)
}

// Complete returns the first successful completion. When every gateway
// fails, the last failure is returned with its class intact.
func (c *Chain) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if len(c.entries) == 0 {
		return "", ErrNoProviders
	}

	var lastErr error
	for i, e := range c.entries {
		text, err := e.gateway.Complete(ctx, prompt, opts)
		if err == nil {
			if i > 0 {
				c.logger.Info().Str("provider", e.name).Int("position", i).Msg("Completion served by fallback provider")
			}
			return text, nil
		}
		lastErr = err
		c.logger.Warn().Err(err).Str("provider", e.name).Str("reason", Reason(err)).Msg("Provider failed")

		// The request deadline covers the whole chain
		if ctx.Err() != nil {
			return "", classifyTransportError(ctx, ctx.Err())
		}
	}
	return "", fmt.Errorf("all %d providers failed: %w", len(c.entries), lastErr)
}
