package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/afroash/envinsight/internal/llm"
	"github.com/afroash/envinsight/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ReadingRepository is the read side of reading storage. Results are ordered
// newest first. An empty location matches every location.
type ReadingRepository interface {
	FindRecent(ctx context.Context, location string, sinceHours int, limit int) ([]models.Reading, error)
	FindInRange(ctx context.Context, location string, start, end time.Time, limit int) ([]models.Reading, error)
}

// EngineConfig tunes the engine
type EngineConfig struct {
	CacheTTL         time.Duration
	FallbackCacheTTL time.Duration // 0 means CacheTTL
	PatternWindow    int
	PromptExcerpt    int
	ReadingLimit     int
	RequestTimeout   time.Duration // bounds the model call, and a whole coalesced generation
	DedupeInflight   bool
	MaxTokens        int
	Temperature      float32
}

// DefaultEngineConfig returns sensible defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CacheTTL:       30 * time.Minute,
		PatternWindow:  DefaultPatternWindow,
		PromptExcerpt:  DefaultPromptExcerpt,
		ReadingLimit:   100,
		RequestTimeout: 30 * time.Second,
		DedupeInflight: true,
		MaxTokens:      800,
		Temperature:    0.3,
	}
}

// Analysis is the deterministic part of an insight
type Analysis struct {
	Location   string     `json:"location,omitempty"`
	Statistics Statistics `json:"statistics"`
	Patterns   []Pattern  `json:"patterns"`
}

// Engine produces Insights for a location and time window. A nil gateway
// runs the engine in fallback-only mode.
type Engine struct {
	repo    ReadingRepository
	gateway llm.Gateway
	cache   *Cache
	config  EngineConfig
	metrics *Metrics
	logger  zerolog.Logger
	now     func() time.Time

	inflight singleflight.Group
}

// NewEngine creates an engine
func NewEngine(repo ReadingRepository, gateway llm.Gateway, cache *Cache, config EngineConfig, metrics *Metrics, logger zerolog.Logger) *Engine {
	defaults := DefaultEngineConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.FallbackCacheTTL <= 0 {
		config.FallbackCacheTTL = config.CacheTTL
	}
	if config.PatternWindow <= 0 {
		config.PatternWindow = defaults.PatternWindow
	}
	if config.PromptExcerpt <= 0 {
		config.PromptExcerpt = defaults.PromptExcerpt
	}
	if config.ReadingLimit <= 0 {
		config.ReadingLimit = defaults.ReadingLimit
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if cache == nil {
		cache = NewCache(0)
	}

	return &Engine{
		repo:    repo,
		gateway: gateway,
		cache:   cache,
		config:  config,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the engine's time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// log returns the request-scoped logger carried by ctx, if any, so engine
// events share the caller's request ID
func (e *Engine) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &e.logger
}

// Cache returns the engine's cache
func (e *Engine) Cache() *Cache {
	return e.cache
}

// FallbackOnly reports whether the model path is disabled
func (e *Engine) FallbackOnly() bool {
	return e.gateway == nil
}

// GenerateInsights returns a cached Insight for p or generates a new one.
// Model and extraction failures never reach the caller; only invalid
// parameters and repository failures are returned as errors.
func (e *Engine) GenerateInsights(ctx context.Context, p Params) (Insight, error) {
	p, err := p.Normalize()
	if err != nil {
		return Insight{}, err
	}
	key := CacheKey(p)

	if v, ok := e.cache.Get(key); ok {
		e.metrics.cacheLookup(true)
		return v, nil
	}
	e.metrics.cacheLookup(false)

	if !e.config.DedupeInflight {
		return e.generate(ctx, p, key, true)
	}

	// The flight outlives any single caller: a leader that goes away must
	// not cancel the generation its followers are waiting on
	ch := e.inflight.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.RequestTimeout)
		defer cancel()
		return e.generate(flightCtx, p, key, true)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Insight{}, res.Err
		}
		if res.Shared {
			e.log(ctx).Debug().Str("key", key).Msg("Joined in-flight insight generation")
		}
		return res.Val.(Insight).Clone(), nil
	case <-ctx.Done():
		return Insight{}, ctx.Err()
	}
}

// Refresh regenerates the Insight for p without reading the cache, and
// stores the result
func (e *Engine) Refresh(ctx context.Context, p Params) (Insight, error) {
	p, err := p.Normalize()
	if err != nil {
		return Insight{}, err
	}
	return e.generate(ctx, p, CacheKey(p), false)
}

// Analyze returns the statistics and patterns for p. ErrEmptyInput is
// returned when no readings match.
func (e *Engine) Analyze(ctx context.Context, p Params) (Analysis, error) {
	p, err := p.Normalize()
	if err != nil {
		return Analysis{}, err
	}
	readings, err := e.fetch(ctx, p)
	if err != nil {
		return Analysis{}, err
	}
	stats, err := ComputeStatistics(readings)
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{
		Location:   p.Location,
		Statistics: stats,
		Patterns:   DetectPatterns(readings, stats, e.config.PatternWindow),
	}, nil
}

func (e *Engine) generate(ctx context.Context, p Params, key string, checkCache bool) (Insight, error) {
	// A flight that finished between our miss and joining may have filled it
	if checkCache {
		if v, ok := e.cache.Get(key); ok {
			return v, nil
		}
	}

	start := time.Now()
	readings, err := e.fetch(ctx, p)
	if err != nil {
		return Insight{}, err
	}

	if len(readings) == 0 {
		e.log(ctx).Debug().Str("key", key).Msg("No readings for insight request")
		e.metrics.generated(OriginNoData, start)
		return NoDataInsight(p, e.now()), nil
	}

	stats, err := ComputeStatistics(readings)
	if err != nil {
		return Insight{}, err
	}
	patterns := DetectPatterns(readings, stats, e.config.PatternWindow)

	insight, origin := e.synthesize(ctx, p, stats, patterns, readings)

	ttl := e.config.CacheTTL
	if origin == OriginFallback {
		ttl = e.config.FallbackCacheTTL
	}
	e.cache.PutWithOrigin(key, insight, origin, ttl)
	e.metrics.generated(origin, start)

	e.log(ctx).Info().
		Str("key", key).
		Str("origin", string(origin)).
		Int("readings", stats.Count).
		Int("patterns", len(patterns)).
		Int("comfort_score", insight.ComfortScore).
		Dur("took", time.Since(start)).
		Msg("Generated insight")

	return insight, nil
}

// synthesize runs the model path and falls back on any failure
func (e *Engine) synthesize(ctx context.Context, p Params, stats Statistics, patterns []Pattern, readings []models.Reading) (Insight, Origin) {
	if e.gateway == nil {
		e.log(ctx).Debug().Msg("No LLM provider configured, using fallback insight")
		return e.fallback(stats, "no_provider"), OriginFallback
	}

	prompt, err := BuildPrompt(p.Location, stats, patterns, readings, e.config.PromptExcerpt)
	if err != nil {
		e.log(ctx).Error().Err(err).Msg("Failed to build prompt")
		return e.fallback(stats, "prompt"), OriginFallback
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	raw, err := e.gateway.Complete(callCtx, prompt, llm.Options{
		MaxTokens:      e.config.MaxTokens,
		Temperature:    e.config.Temperature,
		ResponseFormat: llm.ResponseFormatJSON,
	})
	if err != nil {
		reason := llm.Reason(err)
		e.log(ctx).Warn().Err(err).Str("reason", reason).Msg("Model call failed, using fallback insight")
		return e.fallback(stats, reason), OriginFallback
	}

	insight, err := ExtractInsight(raw)
	if err != nil {
		e.log(ctx).Warn().Err(err).Str("excerpt", excerpt(raw)).Msg("Model output rejected, using fallback insight")
		return e.fallback(stats, "malformed_output"), OriginFallback
	}
	// The model's own timestamp is not trusted
	insight.GeneratedAt = e.now().UTC()
	return insight, OriginLLM
}

func (e *Engine) fallback(stats Statistics, reason string) Insight {
	e.metrics.fallback(reason)
	in := GenerateFallback(stats)
	in.GeneratedAt = e.now().UTC()
	return in
}

func (e *Engine) fetch(ctx context.Context, p Params) ([]models.Reading, error) {
	var (
		readings []models.Reading
		err      error
	)
	if p.HasRange() {
		readings, err = e.repo.FindInRange(ctx, p.Location, p.Start, p.End, e.config.ReadingLimit)
	} else {
		readings, err = e.repo.FindRecent(ctx, p.Location, p.Hours(), e.config.ReadingLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}
	return readings, nil
}
