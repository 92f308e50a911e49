package insights

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func sampleInsight() Insight {
	return Insight{
		Summary: `Warm afternoon; "feels like" 27°C {humid}`,
		Trends:  []string{"Temperature is rising (+2.1°C).", "Humidity is stable."},
		Alerts: []Alert{
			{Type: AlertWarning, Message: "Heat building in the greenhouse"},
			{Type: AlertInfo, Message: `Path C:\data\"logs"`},
		},
		ComfortScore:    72,
		Recommendations: []string{"Open the roof vents."},
		GeneratedAt:     time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC),
	}
}

func assertInsightEqual(t *testing.T, got, want Insight) {
	t.Helper()
	if !got.GeneratedAt.Equal(want.GeneratedAt) {
		t.Errorf("GeneratedAt = %v, want %v", got.GeneratedAt, want.GeneratedAt)
	}
	got.GeneratedAt, want.GeneratedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("insight mismatch\n got: %+v\nwant: %+v", got, want)
	}
}

func TestExtractInsight_RoundTrip(t *testing.T) {
	want := sampleInsight()
	body, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	pretty, err := json.MarshalIndent(want, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent: %v", err)
	}

	wrappers := map[string]string{
		"bare":                    string(body),
		"fenced with language":    "```json\n" + string(pretty) + "\n```",
		"fenced without language": "```\n" + string(body) + "\n```\n\n",
		"prose around fence":      "Here is the analysis you asked for:\n```json\n" + string(pretty) + "\n```\nLet me know if you need anything else. }",
		"prose no fence":          "Sure! " + string(body) + " Hope this helps {really}.",
		"leading whitespace":      "\n\n   " + string(body) + "   \n",
	}

	for name, raw := range wrappers {
		t.Run(name, func(t *testing.T) {
			got, err := ExtractInsight(raw)
			if err != nil {
				t.Fatalf("ExtractInsight() error = %v", err)
			}
			assertInsightEqual(t, got, want)
		})
	}
}

func TestExtractInsight_Adversarial(t *testing.T) {
	raw := `{"summary":"risk is \"high\" {not a brace}","trends":[],"alerts":[],"comfortScore":50,"recommendations":[]}`

	got, err := ExtractInsight(raw)
	if err != nil {
		t.Fatalf("ExtractInsight() error = %v", err)
	}
	if got.Summary != `risk is "high" {not a brace}` {
		t.Errorf("Summary = %q", got.Summary)
	}
	if got.ComfortScore != 50 {
		t.Errorf("ComfortScore = %d, want 50", got.ComfortScore)
	}
	if got.Trends == nil || got.Alerts == nil || got.Recommendations == nil {
		t.Error("array fields should be empty, not nil")
	}
}

func TestExtractInsight_FirstObjectOnly(t *testing.T) {
	raw := `{"summary":"first","comfortScore":10}
{"summary":"second","comfortScore":90}`

	got, err := ExtractInsight(raw)
	if err != nil {
		t.Fatalf("ExtractInsight() error = %v", err)
	}
	if got.Summary != "first" || got.ComfortScore != 10 {
		t.Errorf("got %q/%d, want first/10", got.Summary, got.ComfortScore)
	}
}

func TestExtractInsight_EscapedBackslashBeforeQuote(t *testing.T) {
	// The string ends after an escaped backslash, so the following brace closes
	raw := `{"summary":"dir C:\\","comfortScore":40} trailing }`
	got, err := ExtractInsight(raw)
	if err != nil {
		t.Fatalf("ExtractInsight() error = %v", err)
	}
	if got.Summary != `dir C:\` {
		t.Errorf("Summary = %q", got.Summary)
	}
}

func TestExtractInsight_Coercion(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, in Insight)
	}{
		{
			name: "missing arrays default to empty",
			raw:  `{"summary":"ok","comfortScore":60}`,
			check: func(t *testing.T, in Insight) {
				if in.Trends == nil || len(in.Trends) != 0 || in.Alerts == nil || in.Recommendations == nil {
					t.Errorf("arrays = %v %v %v", in.Trends, in.Alerts, in.Recommendations)
				}
			},
		},
		{
			name: "score above range clamps to 100",
			raw:  `{"summary":"ok","comfortScore":150}`,
			check: func(t *testing.T, in Insight) {
				if in.ComfortScore != 100 {
					t.Errorf("ComfortScore = %d, want 100", in.ComfortScore)
				}
			},
		},
		{
			name: "negative score clamps to 0",
			raw:  `{"summary":"ok","comfortScore":-12}`,
			check: func(t *testing.T, in Insight) {
				if in.ComfortScore != 0 {
					t.Errorf("ComfortScore = %d, want 0", in.ComfortScore)
				}
			},
		},
		{
			name: "fractional score rounds",
			raw:  `{"summary":"ok","comfortScore":72.6}`,
			check: func(t *testing.T, in Insight) {
				if in.ComfortScore != 73 {
					t.Errorf("ComfortScore = %d, want 73", in.ComfortScore)
				}
			},
		},
		{
			name: "wrong array kinds become empty",
			raw:  `{"summary":"ok","comfortScore":50,"trends":"rising","alerts":{"type":"info"},"recommendations":42}`,
			check: func(t *testing.T, in Insight) {
				if len(in.Trends) != 0 || len(in.Alerts) != 0 || len(in.Recommendations) != 0 {
					t.Errorf("expected empty arrays, got %+v", in)
				}
			},
		},
		{
			name: "non-string elements dropped",
			raw:  `{"summary":"ok","comfortScore":50,"trends":["up",3,null,"down"]}`,
			check: func(t *testing.T, in Insight) {
				if !reflect.DeepEqual(in.Trends, []string{"up", "down"}) {
					t.Errorf("Trends = %v", in.Trends)
				}
			},
		},
		{
			name: "alert types normalized",
			raw:  `{"summary":"ok","comfortScore":50,"alerts":[{"type":"WARNING","message":"hot"},{"type":"critical","message":"odd"},{"message":"untyped"},{"type":"info"},"junk"]}`,
			check: func(t *testing.T, in Insight) {
				want := []Alert{
					{Type: AlertWarning, Message: "hot"},
					{Type: AlertInfo, Message: "odd"},
					{Type: AlertInfo, Message: "untyped"},
				}
				if !reflect.DeepEqual(in.Alerts, want) {
					t.Errorf("Alerts = %+v, want %+v", in.Alerts, want)
				}
			},
		},
		{
			name: "unparseable generatedAt left for the caller",
			raw:  `{"summary":"ok","comfortScore":50,"generatedAt":"yesterday"}`,
			check: func(t *testing.T, in Insight) {
				if !in.GeneratedAt.IsZero() {
					t.Errorf("GeneratedAt = %v, want zero", in.GeneratedAt)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ExtractInsight(tt.raw)
			if err != nil {
				t.Fatalf("ExtractInsight() error = %v", err)
			}
			tt.check(t, in)
		})
	}
}

func TestExtractInsight_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "prose only", raw: "I'm sorry, I can't help with that."},
		{name: "fence only", raw: "```json"},
		{name: "unterminated", raw: `{"summary":"ok","comfortScore":50`},
		{name: "unterminated string", raw: `{"summary":"ok}`},
		{name: "invalid json inside braces", raw: `{summary: ok}`},
		{name: "summary wrong kind", raw: `{"summary":5,"comfortScore":50}`},
		{name: "summary missing", raw: `{"comfortScore":50}`},
		{name: "summary blank", raw: `{"summary":"  ","comfortScore":50}`},
		{name: "score as string", raw: `{"summary":"ok","comfortScore":"high"}`},
		{name: "score missing", raw: `{"summary":"ok"}`},
		{name: "generatedAt wrong kind", raw: `{"summary":"ok","comfortScore":50,"generatedAt":12}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractInsight(tt.raw)
			if !errors.Is(err, ErrMalformedOutput) {
				t.Errorf("error = %v, want ErrMalformedOutput", err)
			}
		})
	}
}

func TestExtractInsight_BoundedExcerpt(t *testing.T) {
	raw := "{" + strings.Repeat("x", 5000)
	_, err := ExtractInsight(raw)
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("error = %v, want ErrMalformedOutput", err)
	}
	if len(err.Error()) > 400 {
		t.Errorf("error message is %d bytes, excerpt should be bounded", len(err.Error()))
	}
	if got := excerpt(strings.Repeat("é", 300)); len(got) > maxExcerptSize {
		t.Errorf("excerpt is %d bytes, want <= %d", len(got), maxExcerptSize)
	}
}

func TestExtractInsight_RoundTripValidInsights(t *testing.T) {
	padded := sampleInsight()
	padded.Summary = "  Mild and calm.  \n"

	fallback := GenerateFallback(Statistics{
		Count:       12,
		Temperature: MetricStats{Avg: 31, Min: 27, Max: 34, Trend: 4},
		Humidity:    MetricStats{Avg: 82},
		WindSpeed:   MetricStats{Avg: 35, Max: 50},
	})
	fallback.GeneratedAt = baseTime

	for name, want := range map[string]Insight{
		"padded summary": padded,
		"fallback":       fallback,
		"no data":        NoDataInsight(Params{Location: "attic", Period: "24h"}, baseTime),
	} {
		t.Run(name, func(t *testing.T) {
			if err := ValidateInsight(want); err != nil {
				t.Fatalf("ValidateInsight() = %v", err)
			}
			body, err := json.Marshal(want)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := ExtractInsight(string(body))
			if err != nil {
				t.Fatalf("ExtractInsight() error = %v", err)
			}
			assertInsightEqual(t, got, want)
		})
	}
}
