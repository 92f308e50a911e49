// Package insights turns a window of environmental readings into an Insight:
// descriptive statistics, rule-based patterns and a summary produced by a
// language model, with a deterministic fallback when the model is missing,
// failing or talking nonsense.
package insights

import (
	"fmt"
	"strings"
	"time"
)

// MetricStats summarizes one numeric reading field
type MetricStats struct {
	Current float64 `json:"current"`
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Median  float64 `json:"median"`
	Trend   float64 `json:"trend"` // newer-half mean minus older-half mean
}

// PrecipitationStats summarizes accumulated precipitation
type PrecipitationStats struct {
	Total float64 `json:"total"`
	Avg   float64 `json:"avg"`
	Max   float64 `json:"max"`
}

// Period is the time span covered by a set of readings
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Statistics are the aggregates computed over a reading window
type Statistics struct {
	Count         int                `json:"count"`
	Temperature   MetricStats        `json:"temperature"`
	Humidity      MetricStats        `json:"humidity"`
	WindSpeed     MetricStats        `json:"windSpeed"`
	Pressure      MetricStats        `json:"pressure"`
	Precipitation PrecipitationStats `json:"precipitation"`
	Period        Period             `json:"period"`
}

// Severity ranks a detected pattern
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Pattern types
const (
	PatternTemperatureTrend   = "temperature_trend"
	PatternHighHumidity       = "high_humidity"
	PatternStrongWinds        = "strong_winds"
	PatternHeavyPrecipitation = "heavy_precipitation"
)

// Pattern is a notable condition found in the recent window
type Pattern struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Value       float64  `json:"value"`
	Severity    Severity `json:"severity"`
}

// AlertType is the alert enum shared by the model and the fallback path
type AlertType string

const (
	AlertWarning AlertType = "warning"
	AlertInfo    AlertType = "info"
)

// Alert is one user-facing alert
type Alert struct {
	Type    AlertType `json:"type"`
	Message string    `json:"message"`
}

// Insight is the engine's output and the wire contract of the insight API
type Insight struct {
	Summary         string    `json:"summary"`
	Trends          []string  `json:"trends"`
	Alerts          []Alert   `json:"alerts"`
	ComfortScore    int       `json:"comfortScore"`
	Recommendations []string  `json:"recommendations"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

// Clone returns a deep copy. Nil slices come back empty so the copy always
// serializes its arrays as [].
func (in Insight) Clone() Insight {
	out := in
	out.Trends = append(make([]string, 0, len(in.Trends)), in.Trends...)
	out.Alerts = append(make([]Alert, 0, len(in.Alerts)), in.Alerts...)
	out.Recommendations = append(make([]string, 0, len(in.Recommendations)), in.Recommendations...)
	return out
}

// Origin records which path produced an Insight
type Origin string

const (
	OriginLLM      Origin = "llm"
	OriginFallback Origin = "fallback"
	OriginNoData   Origin = "no_data"
)

// DefaultPeriod is used when a request names neither a period nor a range
const DefaultPeriod = "24h"

// PeriodHours maps the supported period names to look-back hours
var PeriodHours = map[string]int{
	"24h": 24,
	"7d":  168,
	"30d": 720,
}

// Params selects the readings an Insight is generated from. An explicit
// Start/End range takes precedence over Period.
type Params struct {
	Location string    `json:"location,omitempty" validate:"omitempty,max=128"`
	Period   string    `json:"period,omitempty" validate:"omitempty,oneof=24h 7d 30d"`
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
}

// HasRange reports whether an explicit date range was requested
func (p Params) HasRange() bool {
	return !p.Start.IsZero() || !p.End.IsZero()
}

// Normalize validates p and fills in defaults
func (p Params) Normalize() (Params, error) {
	p.Location = strings.TrimSpace(p.Location)
	if err := validate.Struct(p); err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	if p.HasRange() {
		if p.Start.IsZero() || p.End.IsZero() {
			return Params{}, fmt.Errorf("%w: both start and end are required for a date range", ErrInvalidParams)
		}
		if !p.End.After(p.Start) {
			return Params{}, fmt.Errorf("%w: end must be after start", ErrInvalidParams)
		}
		p.Start = p.Start.UTC()
		p.End = p.End.UTC()
		p.Period = ""
		return p, nil
	}

	if p.Period == "" {
		p.Period = DefaultPeriod
	}
	return p, nil
}

// Hours returns the look-back window for a period request
func (p Params) Hours() int {
	if h, ok := PeriodHours[p.Period]; ok {
		return h
	}
	return PeriodHours[DefaultPeriod]
}

// CacheKey encodes normalized params deterministically
func CacheKey(p Params) string {
	location := p.Location
	if location == "" {
		location = "*"
	}
	if p.HasRange() {
		return fmt.Sprintf("insights|%s|range=%d-%d", location, p.Start.Unix(), p.End.Unix())
	}
	period := p.Period
	if period == "" {
		period = DefaultPeriod
	}
	return fmt.Sprintf("insights|%s|period=%s", location, period)
}
