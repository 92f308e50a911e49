package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// AppConfig holds all configuration for the insight server
type AppConfig struct {
	Server   ServerSettings   `yaml:"server"`
	Storage  StorageSettings  `yaml:"storage"`
	Database DatabaseSettings `yaml:"database"`
	Logging  LoggingConfig    `yaml:"logging"`
	Insights InsightSettings  `yaml:"insights"`
	LLM      LLMSettings      `yaml:"llm"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// NewLogger builds a zerolog logger writing to w
func (l LoggingConfig) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
	}
	if l.Format == "text" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// LoadAppConfig loads configuration from a YAML file. Variables from a .env
// file in the working directory are loaded into the environment first, so
// provider credentials can stay out of the YAML.
func LoadAppConfig(path string) (*AppConfig, error) {
	// A missing .env is normal in production
	_ = godotenv.Load()

	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config AppConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		// Leaves room for a model call with retries
		ac.Server.WriteTimeout = 90 * time.Second
	}
	if ac.Storage.BufferSize == 0 {
		ac.Storage.BufferSize = 1000
	}
	if ac.Database.Path == "" {
		ac.Database.Path = "./data/envinsight.db"
	}
	if ac.Database.BatchSize == 0 {
		ac.Database.BatchSize = 100
	}
	if ac.Database.FlushPeriod == 0 {
		ac.Database.FlushPeriod = 5 * time.Second
	}
	if ac.Database.ChannelSize == 0 {
		ac.Database.ChannelSize = 1000
	}
	if ac.Database.RetentionDays == 0 {
		ac.Database.RetentionDays = 90
	}
	if ac.Database.CleanupPeriod == 0 {
		ac.Database.CleanupPeriod = 1 * time.Hour
	}
	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}

	in := &ac.Insights
	if in.CacheTTL == 0 {
		in.CacheTTL = 30 * time.Minute
	}
	if in.CacheMaxEntries == 0 {
		in.CacheMaxEntries = 1000
	}
	if in.PatternWindow == 0 {
		in.PatternWindow = 10
	}
	if in.PromptExcerpt == 0 {
		in.PromptExcerpt = 10
	}
	if in.ReadingLimit == 0 {
		in.ReadingLimit = 100
	}
	if in.RequestTimeout == 0 {
		in.RequestTimeout = 30 * time.Second
	}
	if in.DedupeInflight == nil {
		dedupe := true
		in.DedupeInflight = &dedupe
	}
	if in.WarmPeriod == "" {
		in.WarmPeriod = "24h"
	}

	l := &ac.LLM
	if l.MaxAttempts == 0 {
		l.MaxAttempts = 3
	}
	if l.BackoffBase == 0 {
		l.BackoffBase = 1 * time.Second
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = 800
	}
	if l.Temperature == nil {
		temperature := float32(0.3)
		l.Temperature = &temperature
	}
	if l.BreakerFailures == 0 {
		l.BreakerFailures = 5
	}
	if l.BreakerTimeout == 0 {
		l.BreakerTimeout = 1 * time.Minute
	}
	for i := range l.Providers {
		p := &l.Providers[i]
		if p.Type == "" {
			p.Type = p.Name
		}
		if p.Model == "" {
			p.Model = defaultModel(p.Type)
		}
	}
}

func defaultModel(providerType string) string {
	switch providerType {
	case "openai":
		return "gpt-4o-mini"
	case "ollama":
		return "llama3.1"
	default:
		return ""
	}
}

// OverrideFromEnv overrides config values from environment variables
func (ac *AppConfig) OverrideFromEnv() {
	// Only override if environment variable is set (non-empty)
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			ac.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	if v := os.Getenv("INSIGHTS_CACHE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			ac.Insights.CacheTTL = ttl
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		ac.provider("openai").APIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		ac.provider("ollama").BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" && len(ac.LLM.Providers) > 0 {
		ac.LLM.Providers[0].Model = v
	}
}

// provider returns the first provider of the given type, appending one with
// default settings when none is configured
func (ac *AppConfig) provider(providerType string) *ProviderSettings {
	for i := range ac.LLM.Providers {
		if ac.LLM.Providers[i].Type == providerType {
			return &ac.LLM.Providers[i]
		}
	}
	ac.LLM.Providers = append(ac.LLM.Providers, ProviderSettings{
		Name:  providerType,
		Type:  providerType,
		Model: defaultModel(providerType),
	})
	return &ac.LLM.Providers[len(ac.LLM.Providers)-1]
}

// Validate checks if the configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if ac.Server.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	if ac.Storage.BufferSize < 10 {
		return fmt.Errorf("buffer size must be at least 10")
	}
	if ac.Database.Enabled && ac.Database.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be greater than 0")
	}
	if err := validate.Struct(ac.Insights); err != nil {
		return fmt.Errorf("insights: %w", err)
	}
	if err := validate.Struct(ac.LLM); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if len(ac.Insights.WarmLocations) > 0 && ac.Insights.WarmInterval < time.Minute {
		return fmt.Errorf("warm interval must be at least 1 minute when warm locations are set")
	}
	return nil
}

// String returns a safe string representation (hides secrets)
func (ac *AppConfig) String() string {
	providers := make([]string, 0, len(ac.LLM.Providers))
	for _, p := range ac.LLM.Providers {
		providers = append(providers, fmt.Sprintf("%s[type=%s model=%s key=%s]", p.Name, p.Type, p.Model, maskToken(p.APIKey)))
	}
	return fmt.Sprintf("AppConfig{Server: [Host=%s Port=%d Token=%s], Database: %+v, Insights: [TTL=%s FallbackTTL=%s Window=%d], LLM: [Providers=%s Attempts=%d Backoff=%s]}",
		ac.Server.Host,
		ac.Server.Port,
		maskToken(ac.Server.AuthToken),
		ac.Database,
		ac.Insights.CacheTTL,
		ac.Insights.FallbackCacheTTL,
		ac.Insights.PatternWindow,
		strings.Join(providers, ","),
		ac.LLM.MaxAttempts,
		ac.LLM.BackoffBase,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
