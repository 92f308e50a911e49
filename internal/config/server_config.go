package config

import "time"

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageSettings contains in-memory storage configuration
type StorageSettings struct {
	// BufferSize is the number of live readings kept per location
	BufferSize int `yaml:"buffer_size"`
}

// DatabaseSettings contains SQLite persistence configuration
type DatabaseSettings struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// InsightSettings tunes the insight engine
type InsightSettings struct {
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gt=0"`
	// FallbackCacheTTL applies to insights produced without the model.
	// Zero means "same as CacheTTL".
	FallbackCacheTTL time.Duration `yaml:"fallback_cache_ttl" validate:"gte=0"`
	CacheMaxEntries  int           `yaml:"cache_max_entries" validate:"gte=0"`
	PatternWindow    int           `yaml:"pattern_window" validate:"gte=1,lte=100"`
	PromptExcerpt    int           `yaml:"prompt_excerpt" validate:"gte=1,lte=12"`
	ReadingLimit     int           `yaml:"reading_limit" validate:"gte=1,lte=10000"`
	RequestTimeout   time.Duration `yaml:"request_timeout" validate:"gt=0"`
	DedupeInflight   *bool         `yaml:"dedupe_inflight"`
	WarmLocations    []string      `yaml:"warm_locations"`
	WarmPeriod       string        `yaml:"warm_period" validate:"omitempty,oneof=24h 7d 30d"`
	WarmInterval     time.Duration `yaml:"warm_interval" validate:"gte=0"`
}

// LLMSettings configures the completion providers and the retry policy
type LLMSettings struct {
	Providers   []ProviderSettings `yaml:"providers" validate:"dive"`
	MaxAttempts int                `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BackoffBase time.Duration      `yaml:"backoff_base" validate:"gt=0"`
	MaxTokens   int                `yaml:"max_tokens" validate:"gte=1"`
	// Temperature is a pointer so that an explicit 0 survives defaults
	Temperature *float32 `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	// BreakerFailures is the number of consecutive failures that opens a
	// provider's circuit breaker
	BreakerFailures uint32        `yaml:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" validate:"gt=0"`
}

// ProviderSettings describes one completion provider. Providers are tried in
// the order they are listed.
type ProviderSettings struct {
	Name              string `yaml:"name" validate:"required"`
	Type              string `yaml:"type" validate:"required,oneof=openai ollama"`
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	BaseURL           string `yaml:"base_url" validate:"omitempty,url"`
	RequestsPerMinute int    `yaml:"requests_per_minute" validate:"gte=0"`
}

// Usable reports whether the provider has the credential it needs
func (p ProviderSettings) Usable() bool {
	switch p.Type {
	case "openai":
		return p.APIKey != ""
	case "ollama":
		return p.BaseURL != ""
	default:
		return false
	}
}

// SamplingTemperature returns the configured temperature, 0.3 when unset
func (l LLMSettings) SamplingTemperature() float32 {
	if l.Temperature == nil {
		return 0.3
	}
	return *l.Temperature
}

// ActiveProviders returns the providers that can actually be called, in
// priority order. An empty result puts the engine in fallback-only mode.
func (l LLMSettings) ActiveProviders() []ProviderSettings {
	active := make([]ProviderSettings, 0, len(l.Providers))
	for _, p := range l.Providers {
		if p.Usable() {
			active = append(active, p)
		}
	}
	return active
}
