package insights

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Comfort bands and penalty weights for the rule-based score
const (
	comfortTempLow      = 20.0
	comfortTempHigh     = 25.0
	comfortHumidityLow  = 40.0
	comfortHumidityHigh = 60.0

	tempPenaltyPerDegree      = 4.0
	humidityPenaltyPerPercent = 1.5
	instabilityPenalty        = 2.0 // per °C of |trend| beyond trendThreshold
)

// Alert thresholds
const (
	hotAlert       = 35.0
	coldAlert      = 5.0
	humidAlert     = 80.0
	windyAlert     = 30.0
	rainAlertTotal = 5.0
)

// GenerateFallback builds an Insight from statistics alone. It never fails.
func GenerateFallback(stats Statistics) Insight {
	temp := stats.Temperature
	hum := stats.Humidity
	wind := stats.WindSpeed
	precip := stats.Precipitation

	in := Insight{
		Summary:         fallbackSummary(stats),
		Trends:          fallbackTrends(stats),
		Alerts:          []Alert{},
		ComfortScore:    ComfortScore(stats),
		Recommendations: []string{},
		GeneratedAt:     time.Now().UTC(),
	}

	if temp.Avg > hotAlert {
		in.Alerts = append(in.Alerts, Alert{Type: AlertWarning, Message: fmt.Sprintf("High average temperature of %.1f°C", temp.Avg)})
	} else if temp.Avg < coldAlert {
		in.Alerts = append(in.Alerts, Alert{Type: AlertWarning, Message: fmt.Sprintf("Low average temperature of %.1f°C", temp.Avg)})
	}
	if hum.Avg > humidAlert {
		in.Alerts = append(in.Alerts, Alert{Type: AlertInfo, Message: fmt.Sprintf("High average humidity of %.0f%%", hum.Avg)})
	}
	if wind.Avg > windyAlert {
		in.Alerts = append(in.Alerts, Alert{Type: AlertWarning, Message: fmt.Sprintf("Sustained winds averaging %.1f km/h", wind.Avg)})
	}
	if precip.Total > rainAlertTotal {
		in.Alerts = append(in.Alerts, Alert{Type: AlertInfo, Message: fmt.Sprintf("%.1f mm of precipitation recorded", precip.Total)})
	}

	switch {
	case temp.Avg > comfortTempHigh:
		in.Recommendations = append(in.Recommendations, "Increase ventilation or cooling to bring the temperature down.")
	case temp.Avg < comfortTempLow:
		in.Recommendations = append(in.Recommendations, "Consider heating to bring the temperature into the comfortable range.")
	}
	switch {
	case hum.Avg > comfortHumidityHigh:
		in.Recommendations = append(in.Recommendations, "Use a dehumidifier or improve airflow to reduce humidity.")
	case hum.Avg < comfortHumidityLow:
		in.Recommendations = append(in.Recommendations, "Air is dry; a humidifier may improve comfort.")
	}
	if math.Abs(temp.Trend) > trendThreshold {
		in.Recommendations = append(in.Recommendations, "Temperature is changing quickly; keep an eye on the next readings.")
	}
	if wind.Avg > windyAlert {
		in.Recommendations = append(in.Recommendations, "Secure loose outdoor items.")
	}
	if len(in.Recommendations) == 0 {
		in.Recommendations = append(in.Recommendations, "Conditions are within the comfortable range; no action needed.")
	}

	return in
}

// ComfortScore rates conditions from 0 to 100. It starts from 100 and
// subtracts penalties for average temperature and humidity outside their
// comfort bands and for rapid temperature change.
func ComfortScore(stats Statistics) int {
	score := 100.0
	score -= tempPenaltyPerDegree * outside(stats.Temperature.Avg, comfortTempLow, comfortTempHigh)
	score -= humidityPenaltyPerPercent * outside(stats.Humidity.Avg, comfortHumidityLow, comfortHumidityHigh)
	if swing := math.Abs(stats.Temperature.Trend) - trendThreshold; swing > 0 {
		score -= instabilityPenalty * swing
	}
	return clampScore(score)
}

// outside returns the distance of v from the band [lo, hi]
func outside(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo - v
	case v > hi:
		return v - hi
	default:
		return 0
	}
}

func fallbackSummary(stats Statistics) string {
	return fmt.Sprintf("Across %d readings the temperature averaged %.1f°C (%.1f to %.1f°C) with %.0f%% average humidity, currently %.1f°C and %.0f%%.",
		stats.Count,
		stats.Temperature.Avg, stats.Temperature.Min, stats.Temperature.Max,
		stats.Humidity.Avg,
		stats.Temperature.Current, stats.Humidity.Current,
	)
}

func fallbackTrends(stats Statistics) []string {
	trends := []string{
		describeTrend("Temperature", stats.Temperature.Trend, "°C", 0.5),
		describeTrend("Humidity", stats.Humidity.Trend, "%", 2),
	}
	if stats.WindSpeed.Max > 0 {
		trends = append(trends, describeTrend("Wind speed", stats.WindSpeed.Trend, " km/h", 2))
	}
	if stats.Pressure.Avg > 0 {
		trends = append(trends, describeTrend("Pressure", stats.Pressure.Trend, " hPa", 1))
	}
	if stats.Precipitation.Total > 0 {
		trends = append(trends, fmt.Sprintf("Precipitation totalled %.1f mm, peaking at %.1f mm in a single reading.", stats.Precipitation.Total, stats.Precipitation.Max))
	}
	return trends
}

func describeTrend(name string, change float64, unit string, stable float64) string {
	switch {
	case change > stable:
		return fmt.Sprintf("%s is rising (%+.1f%s).", name, change, unit)
	case change < -stable:
		return fmt.Sprintf("%s is falling (%+.1f%s).", name, change, unit)
	default:
		return fmt.Sprintf("%s is stable.", name)
	}
}

// NoDataInsight is returned when a request matches no readings
func NoDataInsight(p Params, now time.Time) Insight {
	where := "any location"
	if p.Location != "" {
		where = p.Location
	}
	var span string
	if p.HasRange() {
		span = fmt.Sprintf("between %s and %s", p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
	} else {
		span = "in the last " + p.Period
	}
	return Insight{
		Summary:         fmt.Sprintf("No readings are available for %s %s.", where, span),
		Trends:          []string{},
		Alerts:          []Alert{{Type: AlertInfo, Message: "No sensor data received for the requested period."}},
		ComfortScore:    0,
		Recommendations: []string{"Check that the sensors for this location are online and reporting."},
		GeneratedAt:     now.UTC(),
	}
}

// ValidateInsight checks that in satisfies the Insight contract
func ValidateInsight(in Insight) error {
	var problems []string
	if strings.TrimSpace(in.Summary) == "" {
		problems = append(problems, "summary is empty")
	}
	if in.ComfortScore < 0 || in.ComfortScore > 100 {
		problems = append(problems, fmt.Sprintf("comfortScore %d outside [0,100]", in.ComfortScore))
	}
	if in.Trends == nil {
		problems = append(problems, "trends is nil")
	}
	if in.Alerts == nil {
		problems = append(problems, "alerts is nil")
	}
	if in.Recommendations == nil {
		problems = append(problems, "recommendations is nil")
	}
	for i, t := range in.Trends {
		if strings.TrimSpace(t) == "" {
			problems = append(problems, fmt.Sprintf("trends[%d] is blank", i))
		}
	}
	for i, r := range in.Recommendations {
		if strings.TrimSpace(r) == "" {
			problems = append(problems, fmt.Sprintf("recommendations[%d] is blank", i))
		}
	}
	for i, a := range in.Alerts {
		if a.Type != AlertWarning && a.Type != AlertInfo {
			problems = append(problems, fmt.Sprintf("alerts[%d] has type %q", i, a.Type))
		}
		if strings.TrimSpace(a.Message) == "" {
			problems = append(problems, fmt.Sprintf("alerts[%d] has no message", i))
		}
	}
	if in.GeneratedAt.IsZero() {
		problems = append(problems, "generatedAt is not set")
	}
	if len(problems) > 0 {
		return errors.New("invalid insight: " + strings.Join(problems, "; "))
	}
	return nil
}
