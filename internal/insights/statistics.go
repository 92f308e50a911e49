package insights

import (
	"math"
	"sort"

	"github.com/afroash/envinsight/internal/models"
)

// ComputeStatistics aggregates readings ordered newest first
func ComputeStatistics(readings []models.Reading) (Statistics, error) {
	if len(readings) == 0 {
		return Statistics{}, ErrEmptyInput
	}

	stats := Statistics{
		Count:       len(readings),
		Temperature: metricStats(extract(readings, func(r models.Reading) float64 { return r.Temperature })),
		Humidity:    metricStats(extract(readings, func(r models.Reading) float64 { return r.Humidity })),
		WindSpeed:   metricStats(extract(readings, func(r models.Reading) float64 { return r.WindSpeed })),
		Pressure:    metricStats(extract(readings, func(r models.Reading) float64 { return r.Pressure })),
	}

	precip := extract(readings, func(r models.Reading) float64 { return r.Precipitation })
	stats.Precipitation = PrecipitationStats{
		Total: sum(precip),
		Avg:   mean(precip),
		Max:   maxOf(precip),
	}

	// Don't trust the ordering for the period bounds
	start, end := readings[0].Timestamp, readings[0].Timestamp
	for _, r := range readings[1:] {
		if r.Timestamp.Before(start) {
			start = r.Timestamp
		}
		if r.Timestamp.After(end) {
			end = r.Timestamp
		}
	}
	stats.Period = Period{Start: start, End: end}

	return stats, nil
}

func extract(readings []models.Reading, field func(models.Reading) float64) []float64 {
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = field(r)
	}
	return values
}

// metricStats expects values ordered newest first
func metricStats(values []float64) MetricStats {
	if len(values) == 0 {
		return MetricStats{}
	}
	m := MetricStats{
		Current: values[0],
		Min:     minOf(values),
		Max:     maxOf(values),
		Median:  median(values),
		Trend:   halfTrend(values),
	}
	// Summation rounding can push the mean a hair outside the extrema
	m.Avg = clamp(mean(values), m.Min, m.Max)
	return m
}

// halfTrend is the mean of the newer half minus the mean of the older half.
// On odd counts the middle value belongs to the older half.
func halfTrend(values []float64) float64 {
	half := len(values) / 2
	if half == 0 {
		return 0
	}
	return clamp(mean(values[:half])-mean(values[half:]), -math.MaxFloat64, math.MaxFloat64)
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// mean divides before summing so that it stays finite for finite input
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	n := float64(len(values))
	var avg float64
	for _, v := range values {
		avg += v / n
	}
	return avg
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return sorted[mid-1]/2 + sorted[mid]/2
	}
	return sorted[mid]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
