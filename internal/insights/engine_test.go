package insights

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/afroash/envinsight/internal/llm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const modelResponse = "```json\n" + `{"summary":"Cooling quickly in the greenhouse.","trends":["Temperature falling"],"alerts":[{"type":"warning","message":"Rapid cooling"}],"comfortScore":64,"recommendations":["Close the vents"]}` + "\n```"

func newTestEngine(repo ReadingRepository, gw llm.Gateway, cfg EngineConfig) (*Engine, *manualClock) {
	clock := &manualClock{now: baseTime.Add(time.Hour)}
	cache := NewCache(0).WithClock(clock.Now)
	e := NewEngine(repo, gw, cache, cfg, NewMetrics(prometheus.NewRegistry()), zerolog.Nop()).WithClock(clock.Now)
	return e, clock
}

func TestEngine_ModelPath(t *testing.T) {
	repo := &fakeRepo{readings: series("greenhouse", linear(30, 10, 20), 50)}
	gw := &fakeGateway{response: modelResponse}
	e, _ := newTestEngine(repo, gw, DefaultEngineConfig())

	in, err := e.GenerateInsights(context.Background(), Params{Location: "greenhouse", Period: "7d"})
	if err != nil {
		t.Fatalf("GenerateInsights() error = %v", err)
	}
	if in.ComfortScore != 64 || in.Summary != "Cooling quickly in the greenhouse." {
		t.Errorf("unexpected insight %+v", in)
	}
	if err := ValidateInsight(in); err != nil {
		t.Errorf("ValidateInsight() = %v", err)
	}
	if repo.lastHrs != 168 || repo.lastLoc != "greenhouse" {
		t.Errorf("repository queried with location=%q hours=%d", repo.lastLoc, repo.lastHrs)
	}
	if !strings.Contains(gw.prompts[0], PatternTemperatureTrend) {
		t.Error("prompt should include detected patterns")
	}

	_, origin, ok := e.Cache().Lookup("insights|greenhouse|period=7d")
	if !ok || origin != OriginLLM {
		t.Errorf("cache origin = %q, ok = %v", origin, ok)
	}
}

func TestEngine_CacheHitSkipsWork(t *testing.T) {
	repo := &fakeRepo{readings: series("lab", constant(22, 10), 50)}
	gw := &fakeGateway{response: modelResponse}
	e, _ := newTestEngine(repo, gw, DefaultEngineConfig())

	first, err := e.GenerateInsights(context.Background(), Params{Location: "lab"})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := e.GenerateInsights(context.Background(), Params{Location: "lab", Period: "24h"})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if repo.calls != 1 || gw.callCount() != 1 {
		t.Errorf("repo calls = %d, model calls = %d; want 1/1", repo.calls, gw.callCount())
	}
	assertInsightEqual(t, second, first)
}

func TestEngine_CacheExpiry(t *testing.T) {
	repo := &fakeRepo{readings: series("lab", constant(22, 10), 50)}
	gw := &fakeGateway{response: modelResponse}
	cfg := DefaultEngineConfig()
	cfg.CacheTTL = 10 * time.Minute
	e, clock := newTestEngine(repo, gw, cfg)

	if _, err := e.GenerateInsights(context.Background(), Params{Location: "lab"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Minute)
	if _, err := e.GenerateInsights(context.Background(), Params{Location: "lab"}); err != nil {
		t.Fatal(err)
	}
	if gw.callCount() != 2 {
		t.Errorf("model calls = %d, want 2 after expiry", gw.callCount())
	}
}

func TestEngine_FallbackPaths(t *testing.T) {
	tests := []struct {
		name string
		gw   llm.Gateway
	}{
		{name: "no provider", gw: nil},
		{name: "rate limited", gw: &fakeGateway{err: fmt.Errorf("%w: %w", llm.ErrRetriesExhausted, llm.ErrRateLimited)}},
		{name: "unavailable", gw: &fakeGateway{err: llm.ErrServiceUnavailable}},
		{name: "timeout", gw: &fakeGateway{err: llm.ErrTimeout}},
		{name: "malformed output", gw: &fakeGateway{response: "I think it is warm."}},
		{name: "wrong kind", gw: &fakeGateway{response: `{"summary":["x"],"comfortScore":50}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{readings: series("lab", linear(30, 10, 20), 50)}
			cfg := DefaultEngineConfig()
			cfg.FallbackCacheTTL = 2 * time.Minute
			e, clock := newTestEngine(repo, tt.gw, cfg)

			in, err := e.GenerateInsights(context.Background(), Params{Location: "lab"})
			if err != nil {
				t.Fatalf("GenerateInsights() error = %v", err)
			}
			if err := ValidateInsight(in); err != nil {
				t.Errorf("fallback insight invalid: %v", err)
			}
			if !in.GeneratedAt.Equal(clock.Now()) {
				t.Errorf("GeneratedAt = %v, want engine clock %v", in.GeneratedAt, clock.Now())
			}

			_, origin, ok := e.Cache().Lookup("insights|lab|period=24h")
			if !ok || origin != OriginFallback {
				t.Fatalf("fallback should be cached, origin = %q ok = %v", origin, ok)
			}

			clock.Advance(2 * time.Minute)
			if _, ok := e.Cache().Get("insights|lab|period=24h"); ok {
				t.Error("fallback entry should use the fallback TTL")
			}
		})
	}
}

func TestEngine_NoReadings(t *testing.T) {
	repo := &fakeRepo{}
	gw := &fakeGateway{response: modelResponse}
	e, _ := newTestEngine(repo, gw, DefaultEngineConfig())

	in, err := e.GenerateInsights(context.Background(), Params{Location: "void"})
	if err != nil {
		t.Fatalf("GenerateInsights() error = %v", err)
	}
	if err := ValidateInsight(in); err != nil {
		t.Errorf("no-data insight invalid: %v", err)
	}
	if !strings.Contains(in.Summary, "void") {
		t.Errorf("Summary = %q", in.Summary)
	}
	if gw.callCount() != 0 {
		t.Error("model must not be called without readings")
	}
	if e.Cache().Len() != 0 {
		t.Error("no-data insight should not be cached")
	}
}

func TestEngine_InvalidParams(t *testing.T) {
	e, _ := newTestEngine(&fakeRepo{}, nil, DefaultEngineConfig())
	start := baseTime

	tests := []struct {
		name   string
		params Params
	}{
		{name: "unknown period", params: Params{Period: "1y"}},
		{name: "start without end", params: Params{Start: start}},
		{name: "end before start", params: Params{Start: start, End: start.Add(-time.Hour)}},
		{name: "location too long", params: Params{Location: strings.Repeat("a", 200)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.GenerateInsights(context.Background(), tt.params); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestEngine_DateRange(t *testing.T) {
	repo := &fakeRepo{readings: series("lab", constant(22, 5), 50)}
	e, _ := newTestEngine(repo, nil, DefaultEngineConfig())

	p := Params{Location: "lab", Period: "7d", Start: baseTime, End: baseTime.Add(6 * time.Hour)}
	if _, err := e.GenerateInsights(context.Background(), p); err != nil {
		t.Fatalf("GenerateInsights() error = %v", err)
	}
	if !repo.ranged {
		t.Error("explicit range should query FindInRange")
	}
	key := fmt.Sprintf("insights|lab|range=%d-%d", baseTime.Unix(), baseTime.Add(6*time.Hour).Unix())
	if _, ok := e.Cache().Get(key); !ok {
		t.Errorf("expected cache entry %q", key)
	}
}

func TestEngine_RepositoryError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("disk on fire")}
	e, _ := newTestEngine(repo, nil, DefaultEngineConfig())

	_, err := e.GenerateInsights(context.Background(), Params{})
	if err == nil || errors.Is(err, ErrInvalidParams) {
		t.Errorf("error = %v, want repository failure", err)
	}
}

func TestEngine_Refresh(t *testing.T) {
	repo := &fakeRepo{readings: series("lab", constant(22, 10), 50)}
	gw := &fakeGateway{response: modelResponse}
	e, _ := newTestEngine(repo, gw, DefaultEngineConfig())

	ctx := context.Background()
	if _, err := e.GenerateInsights(ctx, Params{Location: "lab"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Refresh(ctx, Params{Location: "lab"}); err != nil {
		t.Fatal(err)
	}
	if gw.callCount() != 2 {
		t.Errorf("model calls = %d, Refresh should bypass the cache", gw.callCount())
	}
}

func TestEngine_Analyze(t *testing.T) {
	repo := &fakeRepo{readings: series("lab", linear(30, 10, 20), 50)}
	e, _ := newTestEngine(repo, nil, DefaultEngineConfig())

	a, err := e.Analyze(context.Background(), Params{Location: "lab"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if a.Statistics.Count != 20 {
		t.Errorf("Count = %d, want 20", a.Statistics.Count)
	}
	if _, ok := findPattern(a.Patterns, PatternTemperatureTrend); !ok {
		t.Errorf("Patterns = %+v", a.Patterns)
	}

	empty, _ := newTestEngine(&fakeRepo{}, nil, DefaultEngineConfig())
	if _, err := empty.Analyze(context.Background(), Params{}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("error = %v, want ErrEmptyInput", err)
	}
}

func TestEngine_ConcurrentMissesCoalesced(t *testing.T) {
	repo := &fakeRepo{readings: series("lab", constant(22, 10), 50)}
	gw := &fakeGateway{response: modelResponse, release: make(chan struct{})}
	e, _ := newTestEngine(repo, gw, DefaultEngineConfig())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Insight, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.GenerateInsights(context.Background(), Params{Location: "lab"})
		}(i)
	}

	// Wait for the leader to reach the model, then give followers time to join
	deadline := time.Now().Add(5 * time.Second)
	for gw.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(gw.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if results[i].ComfortScore != 64 {
			t.Errorf("caller %d got %+v", i, results[i])
		}
	}
	if gw.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", gw.callCount())
	}
}

func TestEngine_RequestTimeoutFallsBack(t *testing.T) {
	repo := &fakeRepo{readings: series("lab", constant(22, 10), 50)}
	gw := &fakeGateway{response: modelResponse, release: make(chan struct{})}
	cfg := DefaultEngineConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	e, _ := newTestEngine(repo, gw, cfg)
	defer close(gw.release)

	in, err := e.GenerateInsights(context.Background(), Params{Location: "lab"})
	if err != nil {
		t.Fatalf("GenerateInsights() error = %v", err)
	}
	if err := ValidateInsight(in); err != nil {
		t.Errorf("insight invalid: %v", err)
	}
	if _, origin, _ := e.Cache().Lookup("insights|lab|period=24h"); origin != OriginFallback {
		t.Errorf("origin = %q, want fallback", origin)
	}
}

func TestEngine_LeaderCancelDoesNotAffectFollowers(t *testing.T) {
	repo := &fakeRepo{readings: series("lab", constant(22, 10), 50)}
	gw := &fakeGateway{response: modelResponse, release: make(chan struct{})}
	e, _ := newTestEngine(repo, gw, DefaultEngineConfig())

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := e.GenerateInsights(leaderCtx, Params{Location: "lab"})
		leaderErr <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for gw.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	type result struct {
		in  Insight
		err error
	}
	follower := make(chan result, 1)
	go func() {
		in, err := e.GenerateInsights(context.Background(), Params{Location: "lab"})
		follower <- result{in, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader error = %v, want context.Canceled", err)
	}

	close(gw.release)
	res := <-follower
	if res.err != nil {
		t.Fatalf("follower error = %v", res.err)
	}
	if res.in.ComfortScore != 64 {
		t.Errorf("follower got %+v, want the model insight", res.in)
	}
	if _, origin, ok := e.Cache().Lookup("insights|lab|period=24h"); !ok || origin != OriginLLM {
		t.Errorf("cache origin = %q, ok = %v; want llm", origin, ok)
	}
	if gw.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", gw.callCount())
	}
}

func TestEngine_StampsGeneratedAt(t *testing.T) {
	repo := &fakeRepo{readings: series("lab", constant(22, 10), 50)}
	gw := &fakeGateway{response: `{"summary":"Backdated.","comfortScore":70,"generatedAt":"2001-01-01T00:00:00Z"}`}
	e, clock := newTestEngine(repo, gw, DefaultEngineConfig())

	in, err := e.GenerateInsights(context.Background(), Params{Location: "lab"})
	if err != nil {
		t.Fatalf("GenerateInsights() error = %v", err)
	}
	if in.Summary != "Backdated." {
		t.Fatalf("expected the model insight, got %+v", in)
	}
	if !in.GeneratedAt.Equal(clock.Now()) {
		t.Errorf("GeneratedAt = %v, want engine clock %v", in.GeneratedAt, clock.Now())
	}
}

func TestEngine_LogsWithContextLogger(t *testing.T) {
	repo := &fakeRepo{readings: series("lab", constant(22, 10), 50)}
	gw := &fakeGateway{err: llm.ErrServiceUnavailable}
	e, _ := newTestEngine(repo, gw, DefaultEngineConfig())

	var buf bytes.Buffer
	ctx := zerolog.New(&buf).With().Str("request_id", "req-42").Logger().WithContext(context.Background())

	if _, err := e.GenerateInsights(ctx, Params{Location: "lab"}); err != nil {
		t.Fatalf("GenerateInsights() error = %v", err)
	}

	var fallbackLine string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "using fallback insight") {
			fallbackLine = line
		}
	}
	if fallbackLine == "" {
		t.Fatalf("no fallback warning logged: %s", buf.String())
	}
	if !strings.Contains(fallbackLine, `"request_id":"req-42"`) {
		t.Errorf("fallback warning lacks the request ID: %s", fallbackLine)
	}
}
