package insights

import (
	"context"
	"sync"
	"time"

	"github.com/afroash/envinsight/internal/llm"
	"github.com/afroash/envinsight/internal/models"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// series builds newest-first readings from chronological temperatures
func series(location string, temps []float64, humidity float64) []models.Reading {
	n := len(temps)
	readings := make([]models.Reading, n)
	for i, temp := range temps {
		// temps[0] is the oldest; readings[0] is the newest
		readings[n-1-i] = models.Reading{
			SensorID:    "sensor-1",
			Location:    location,
			Timestamp:   baseTime.Add(time.Duration(i) * 10 * time.Minute),
			Temperature: temp,
			Humidity:    humidity,
			Pressure:    1013,
		}
	}
	return readings
}

func linear(from, to float64, n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = from + (to-from)*float64(i)/float64(n-1)
	}
	return values
}

func constant(v float64, n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return values
}

// fakeRepo serves fixed readings and counts calls
type fakeRepo struct {
	mu       sync.Mutex
	readings []models.Reading
	err      error
	calls    int
	lastLoc  string
	lastHrs  int
	ranged   bool
}

func (f *fakeRepo) FindRecent(ctx context.Context, location string, sinceHours int, limit int) ([]models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastLoc = location
	f.lastHrs = sinceHours
	return f.result(limit)
}

func (f *fakeRepo) FindInRange(ctx context.Context, location string, start, end time.Time, limit int) ([]models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastLoc = location
	f.ranged = true
	return f.result(limit)
}

func (f *fakeRepo) result(limit int) ([]models.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := f.readings
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]models.Reading(nil), out...), nil
}

// fakeGateway returns a fixed response or error, optionally blocking
type fakeGateway struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	release  chan struct{}
	prompts  []string
}

func (f *fakeGateway) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.response, f.err
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// manualClock is a settable time source
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
