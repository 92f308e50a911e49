package models

import (
	"fmt"
	"time"
)

// Reading is one timestamped environmental measurement reported by a sensor
// station at a location.
type Reading struct {
	SensorID      string    `json:"sensor_id"`
	Location      string    `json:"location"`
	Timestamp     time.Time `json:"timestamp"`
	Temperature   float64   `json:"temperature"`   // °C
	Humidity      float64   `json:"humidity"`      // %
	WindSpeed     float64   `json:"wind_speed"`    // km/h
	Pressure      float64   `json:"pressure"`      // hPa
	Precipitation float64   `json:"precipitation"` // mm
	CloudCover    float64   `json:"cloud_cover"`   // %
}

// IsValid checks if the reading values are within physically plausible ranges
func (r *Reading) IsValid() bool {
	const (
		minTemp     = -60.0
		maxTemp     = 60.0
		minPressure = 800.0
		maxPressure = 1100.0
	)

	if r.SensorID == "" || r.Location == "" {
		return false
	}

	if r.Timestamp.IsZero() {
		return false
	}

	if r.Temperature < minTemp || r.Temperature > maxTemp {
		return false
	}

	if !inPercentRange(r.Humidity) || !inPercentRange(r.CloudCover) {
		return false
	}

	if r.WindSpeed < 0 || r.Precipitation < 0 {
		return false
	}

	// Stations without a barometer report 0
	if r.Pressure != 0 && (r.Pressure < minPressure || r.Pressure > maxPressure) {
		return false
	}

	return true
}

func inPercentRange(v float64) bool {
	return v >= 0 && v <= 100
}

// get the reading as a string
func (r *Reading) String() string {
	return fmt.Sprintf("SensorID: %s, Location: %s, Timestamp: %s, Temperature: %.1f°C, Humidity: %.1f%%, Wind: %.1fkm/h, Pressure: %.1fhPa, Precipitation: %.1fmm",
		r.SensorID,
		r.Location,
		r.Timestamp.Format(time.RFC3339),
		r.Temperature,
		r.Humidity,
		r.WindSpeed,
		r.Pressure,
		r.Precipitation)
}

// NewReading creates a new Reading with the current timestamp
func NewReading(sensorID, location string, temperature, humidity float64) *Reading {
	return &Reading{
		SensorID:    sensorID,
		Location:    location,
		Timestamp:   time.Now(),
		Temperature: temperature,
		Humidity:    humidity,
	}
}

// Copy returns a deep copy of the Reading
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
