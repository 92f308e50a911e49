package insights

import (
	"fmt"
	"math"

	"github.com/afroash/envinsight/internal/models"
)

// DefaultPatternWindow is the number of most recent readings inspected
const DefaultPatternWindow = 10

// Detection thresholds
const (
	trendThreshold         = 2.0  // °C between half-window means
	trendHighThreshold     = 5.0  // °C
	highHumidityThreshold  = 80.0 // %
	strongWindThreshold    = 40.0 // km/h
	heavyPrecipitationMark = 10.0 // mm summed over the window
)

// DetectPatterns applies independent rules to the window most recent
// readings (newest first). A window <= 0 uses DefaultPatternWindow.
func DetectPatterns(readings []models.Reading, stats Statistics, window int) []Pattern {
	patterns := []Pattern{}
	if len(readings) == 0 {
		return patterns
	}
	if window <= 0 {
		window = DefaultPatternWindow
	}
	if window > len(readings) {
		window = len(readings)
	}
	recent := readings[:window]

	temps := extract(recent, func(r models.Reading) float64 { return r.Temperature })
	if change := halfTrend(temps); math.Abs(change) > trendThreshold {
		severity := SeverityMedium
		if math.Abs(change) > trendHighThreshold {
			severity = SeverityHigh
		}
		direction := "risen"
		if change < 0 {
			direction = "fallen"
		}
		patterns = append(patterns, Pattern{
			Type:        PatternTemperatureTrend,
			Description: fmt.Sprintf("Temperature has %s by %.1f°C over the last %d readings (period average %.1f°C)", direction, math.Abs(change), window, stats.Temperature.Avg),
			Value:       change,
			Severity:    severity,
		})
	}

	humidity := mean(extract(recent, func(r models.Reading) float64 { return r.Humidity }))
	if humidity > highHumidityThreshold {
		patterns = append(patterns, Pattern{
			Type:        PatternHighHumidity,
			Description: fmt.Sprintf("Average humidity of %.1f%% over the last %d readings", humidity, window),
			Value:       humidity,
			Severity:    SeverityMedium,
		})
	}

	wind := maxOf(extract(recent, func(r models.Reading) float64 { return r.WindSpeed }))
	if wind > strongWindThreshold {
		patterns = append(patterns, Pattern{
			Type:        PatternStrongWinds,
			Description: fmt.Sprintf("Wind gusts up to %.1f km/h", wind),
			Value:       wind,
			Severity:    SeverityHigh,
		})
	}

	precip := sum(extract(recent, func(r models.Reading) float64 { return r.Precipitation }))
	if precip > heavyPrecipitationMark {
		patterns = append(patterns, Pattern{
			Type:        PatternHeavyPrecipitation,
			Description: fmt.Sprintf("%.1f mm of precipitation over the last %d readings", precip, window),
			Value:       precip,
			Severity:    SeverityHigh,
		})
	}

	return patterns
}
