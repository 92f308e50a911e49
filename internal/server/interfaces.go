package server

import (
	"context"
	"time"

	"github.com/afroash/envinsight/internal/insights"
	"github.com/afroash/envinsight/internal/models"
	"github.com/afroash/envinsight/internal/storage"
)

// ReadingStore is the live, in-memory view of recent readings per location.
// MemoryStore implements this interface.
type ReadingStore interface {
	// Add adds a reading to the store
	Add(reading *models.Reading)

	// GetLatest returns the n most recent readings for a location (newest first)
	GetLatest(location string, n int) []*models.Reading

	// GetCurrentReading returns the most recent reading for a location
	GetCurrentReading(location string) *models.Reading

	// GetLocations returns all locations that have sent data, sorted
	GetLocations() []string

	// Stats returns statistics about the store
	Stats() StoreStats

	// GetAll returns all readings from all locations
	GetAll() []*models.Reading

	// Clear removes all data from the store
	Clear()
}

// HistoricalStore is the persistent side used by the history endpoints.
// storage.SQLiteStore implements this interface.
type HistoricalStore interface {
	FindInRange(ctx context.Context, location string, start, end time.Time, limit int) ([]models.Reading, error)
	GetReadingsBefore(location string, before time.Time, limit int) ([]*models.Reading, error)
	GetReadingsAfter(location string, after time.Time, limit int) ([]*models.Reading, error)
	GetLatestReading(location string) (*models.Reading, error)
	GetLocations() ([]string, error)
	GetDailyStats(location string, start, end time.Time) ([]storage.DailyStat, error)
	GetStorageStats() (*storage.StorageStats, error)
}

// ReadingWriter persists readings off the request path.
// storage.DBWriter implements this interface.
type ReadingWriter interface {
	Write(reading *models.Reading) bool
}

// InsightService produces insights and their underlying analysis.
// insights.Engine implements this interface.
type InsightService interface {
	GenerateInsights(ctx context.Context, p insights.Params) (insights.Insight, error)
	Analyze(ctx context.Context, p insights.Params) (insights.Analysis, error)
}

var (
	_ ReadingStore               = (*MemoryStore)(nil)
	_ insights.ReadingRepository = (*MemoryStore)(nil)
	_ HistoricalStore            = (*storage.SQLiteStore)(nil)
	_ ReadingWriter              = (*storage.DBWriter)(nil)
	_ InsightService             = (*insights.Engine)(nil)
)
