package insights

import (
	"testing"
)

func findPattern(patterns []Pattern, typ string) (Pattern, bool) {
	for _, p := range patterns {
		if p.Type == typ {
			return p, true
		}
	}
	return Pattern{}, false
}

func TestDetectPatterns_Empty(t *testing.T) {
	patterns := DetectPatterns(nil, Statistics{}, 10)
	if patterns == nil || len(patterns) != 0 {
		t.Errorf("DetectPatterns(nil) = %v, want empty non-nil slice", patterns)
	}
}

func TestDetectPatterns_DecreasingSeries(t *testing.T) {
	readings := series("greenhouse", linear(30, 10, 20), 50)
	stats, err := ComputeStatistics(readings)
	if err != nil {
		t.Fatalf("ComputeStatistics() error = %v", err)
	}

	patterns := DetectPatterns(readings, stats, DefaultPatternWindow)
	p, ok := findPattern(patterns, PatternTemperatureTrend)
	if !ok {
		t.Fatalf("expected %s pattern, got %+v", PatternTemperatureTrend, patterns)
	}
	if p.Value >= 0 {
		t.Errorf("Value = %v, want negative change", p.Value)
	}
	if p.Severity != SeverityHigh {
		t.Errorf("Severity = %s, want high", p.Severity)
	}
	if _, ok := findPattern(patterns, PatternHighHumidity); ok {
		t.Error("humidity 50% should not be flagged")
	}
}

func TestDetectPatterns_Rules(t *testing.T) {
	tests := []struct {
		name     string
		temps    []float64
		humidity float64
		mutate   func(i int, wind, precip *float64)
		wantType string
		wantSev  Severity
		wantNone bool
	}{
		{
			name:     "medium temperature trend",
			temps:    []float64{20, 20, 20, 20, 20, 23, 23, 23, 23, 23},
			humidity: 50,
			wantType: PatternTemperatureTrend,
			wantSev:  SeverityMedium,
		},
		{
			name:     "change of exactly 2 is not a trend",
			temps:    []float64{20, 20, 22, 22},
			humidity: 50,
			wantNone: true,
		},
		{
			name:     "high humidity",
			temps:    constant(22, 10),
			humidity: 85,
			wantType: PatternHighHumidity,
			wantSev:  SeverityMedium,
		},
		{
			name:     "strong winds",
			temps:    constant(22, 10),
			humidity: 50,
			mutate: func(i int, wind, precip *float64) {
				if i == 3 {
					*wind = 45
				}
			},
			wantType: PatternStrongWinds,
			wantSev:  SeverityHigh,
		},
		{
			name:     "heavy precipitation",
			temps:    constant(22, 10),
			humidity: 50,
			mutate: func(i int, wind, precip *float64) {
				*precip = 1.5
			},
			wantType: PatternHeavyPrecipitation,
			wantSev:  SeverityHigh,
		},
		{
			name:     "calm conditions",
			temps:    constant(22, 10),
			humidity: 50,
			wantNone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			readings := series("lab", tt.temps, tt.humidity)
			if tt.mutate != nil {
				for i := range readings {
					tt.mutate(i, &readings[i].WindSpeed, &readings[i].Precipitation)
				}
			}
			stats, _ := ComputeStatistics(readings)
			patterns := DetectPatterns(readings, stats, 10)

			if tt.wantNone {
				if len(patterns) != 0 {
					t.Errorf("expected no patterns, got %+v", patterns)
				}
				return
			}
			p, ok := findPattern(patterns, tt.wantType)
			if !ok {
				t.Fatalf("expected %s, got %+v", tt.wantType, patterns)
			}
			if p.Severity != tt.wantSev {
				t.Errorf("Severity = %s, want %s", p.Severity, tt.wantSev)
			}
			if p.Description == "" {
				t.Error("Description should not be empty")
			}
		})
	}
}

func TestDetectPatterns_WindowLimitsInspection(t *testing.T) {
	// Rain only in the oldest readings, outside a window of 5
	readings := series("lab", constant(22, 10), 50)
	for i := 5; i < 10; i++ {
		readings[i].Precipitation = 5
	}
	stats, _ := ComputeStatistics(readings)

	if _, ok := findPattern(DetectPatterns(readings, stats, 5), PatternHeavyPrecipitation); ok {
		t.Error("precipitation outside the window should be ignored")
	}
	if _, ok := findPattern(DetectPatterns(readings, stats, 10), PatternHeavyPrecipitation); !ok {
		t.Error("precipitation inside the window should be detected")
	}
}

func TestDetectPatterns_SingleReading(t *testing.T) {
	readings := series("lab", []float64{40}, 90)
	stats, _ := ComputeStatistics(readings)
	patterns := DetectPatterns(readings, stats, 10)

	if _, ok := findPattern(patterns, PatternTemperatureTrend); ok {
		t.Error("a single reading has no trend")
	}
	if _, ok := findPattern(patterns, PatternHighHumidity); !ok {
		t.Error("high humidity should still be detected")
	}
}
