package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/afroash/envinsight/internal/models"
)

// MemoryStore is an in-memory ring buffer of readings per location. When the
// database is disabled it also serves as the insight engine's repository.
type MemoryStore struct {
	capacity      int
	data          map[string][]*models.Reading
	mutex         sync.RWMutex
	totalReadings int64
	now           func() time.Time
}

// StoreStats contains statistics about the memory store
type StoreStats struct {
	TotalReadings   int64     `json:"total_readings"`
	UniqueLocations int       `json:"unique_locations"`
	CurrentReadings int       `json:"current_readings"` // In memory now
	OldestReading   time.Time `json:"oldest_reading,omitempty"`
	NewestReading   time.Time `json:"newest_reading,omitempty"`
}

// NewMemoryStore creates a store keeping at most capacity readings per location
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryStore{
		capacity: capacity,
		data:     make(map[string][]*models.Reading),
		now:      time.Now,
	}
}

// Add stores a copy of the reading, evicting the oldest for its location
// once the buffer is full. Readings are kept in timestamp order.
func (ms *MemoryStore) Add(reading *models.Reading) {
	if reading == nil {
		return
	}
	r := reading.Copy()

	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	readings := ms.data[r.Location]
	// Stations flushing a backlog can deliver out of order
	i := sort.Search(len(readings), func(i int) bool {
		return readings[i].Timestamp.After(r.Timestamp)
	})
	readings = append(readings, nil)
	copy(readings[i+1:], readings[i:])
	readings[i] = r

	if len(readings) > ms.capacity {
		readings = readings[len(readings)-ms.capacity:]
	}
	ms.data[r.Location] = readings
	ms.totalReadings++
}

// GetLatest returns copies of the n most recent readings for a location,
// newest first
func (ms *MemoryStore) GetLatest(location string, n int) []*models.Reading {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	readings := ms.data[location]
	if len(readings) == 0 || n <= 0 {
		return nil
	}

	start := len(readings) - n
	if start < 0 {
		start = 0
	}

	result := make([]*models.Reading, 0, len(readings)-start)
	for i := len(readings) - 1; i >= start; i-- {
		result = append(result, readings[i].Copy())
	}
	return result
}

// GetAll returns copies of every buffered reading
func (ms *MemoryStore) GetAll() []*models.Reading {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	result := make([]*models.Reading, 0)
	for _, readings := range ms.data {
		for _, reading := range readings {
			result = append(result, reading.Copy())
		}
	}
	return result
}

// GetCurrentReading returns the most recent reading for a location
func (ms *MemoryStore) GetCurrentReading(location string) *models.Reading {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	readings := ms.data[location]
	if len(readings) == 0 {
		return nil
	}
	return readings[len(readings)-1].Copy()
}

// GetLocations returns all locations with buffered readings, sorted
func (ms *MemoryStore) GetLocations() []string {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	keys := make([]string, 0, len(ms.data))
	for key := range ms.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns statistics about the store
func (ms *MemoryStore) Stats() StoreStats {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	stats := StoreStats{
		TotalReadings:   ms.totalReadings,
		UniqueLocations: len(ms.data),
	}
	for _, readings := range ms.data {
		stats.CurrentReadings += len(readings)
		if len(readings) == 0 {
			continue
		}
		oldest, newest := readings[0].Timestamp, readings[len(readings)-1].Timestamp
		if stats.OldestReading.IsZero() || oldest.Before(stats.OldestReading) {
			stats.OldestReading = oldest
		}
		if newest.After(stats.NewestReading) {
			stats.NewestReading = newest
		}
	}
	return stats
}

// Clear removes all data from the store
func (ms *MemoryStore) Clear() {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.data = make(map[string][]*models.Reading)
	ms.totalReadings = 0
}

// FindRecent returns up to limit buffered readings from the last sinceHours
// hours, newest first. An empty location matches all locations.
func (ms *MemoryStore) FindRecent(ctx context.Context, location string, sinceHours int, limit int) ([]models.Reading, error) {
	end := ms.now()
	return ms.FindInRange(ctx, location, end.Add(-time.Duration(sinceHours)*time.Hour), end, limit)
}

// FindInRange returns up to limit buffered readings within [start, end],
// newest first. An empty location matches all locations.
func (ms *MemoryStore) FindInRange(ctx context.Context, location string, start, end time.Time, limit int) ([]models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mutex.RLock()
	var result []models.Reading
	collect := func(readings []*models.Reading) {
		for _, r := range readings {
			if r.Timestamp.Before(start) || r.Timestamp.After(end) {
				continue
			}
			result = append(result, *r)
		}
	}
	if location != "" {
		collect(ms.data[location])
	} else {
		for _, readings := range ms.data {
			collect(readings)
		}
	}
	ms.mutex.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
