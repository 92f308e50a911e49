package llm

import (
	"fmt"

	"github.com/afroash/envinsight/internal/config"
	"github.com/rs/zerolog"
)

// FromConfig builds the provider chain described by settings. Every active
// provider is wrapped as Retry(Guarded(provider)) and added in priority
// order. ErrNoProviders is returned when no provider has credentials.
func FromConfig(settings config.LLMSettings, metrics *Metrics, logger zerolog.Logger) (Gateway, error) {
	active := settings.ActiveProviders()
	if len(active) == 0 {
		return nil, ErrNoProviders
	}

	retry := RetryConfig{
		MaxAttempts: settings.MaxAttempts,
		BackoffBase: settings.BackoffBase,
		Factor:      2,
	}

	chain := NewChain(logger)
	for _, ps := range active {
		var p Provider
		switch ps.Type {
		case "openai":
			p = NewOpenAIProvider(ps.Name, ps.APIKey, ps.Model, ps.BaseURL, logger)
		case "ollama":
			p = NewOllamaProvider(ps.Name, ps.BaseURL, ps.Model, logger)
		default:
			return nil, fmt.Errorf("unknown provider type %q for %s", ps.Type, ps.Name)
		}

		guarded := NewGuarded(p, GuardConfig{
			BreakerFailures:   settings.BreakerFailures,
			BreakerTimeout:    settings.BreakerTimeout,
			RequestsPerMinute: ps.RequestsPerMinute,
		}, metrics, logger)

		chain.Add(ps.Name, NewRetryGateway(guarded, retry, logger.With().Str("provider", ps.Name).Logger()))
		logger.Info().Str("provider", ps.Name).Str("type", ps.Type).Str("model", ps.Model).Msg("Registered LLM provider")
	}
	return chain, nil
}
