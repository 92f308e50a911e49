package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/envinsight/internal/models"
)

// timeLayout is how timestamps are stored; always UTC
const timeLayout = "2006-01-02 15:04:05"

const readingColumns = `id, sensor_id, location, temperature, humidity, wind_speed, pressure, precipitation, cloud_cover, recorded_at`

// Store defines the interface for persistent reading storage
type Store interface {
	Close() error
	Migrate() error
	InsertReading(reading *models.Reading) error
	InsertBatch(readings []*models.Reading) error
	FindRecent(ctx context.Context, location string, sinceHours int, limit int) ([]models.Reading, error)
	FindInRange(ctx context.Context, location string, start, end time.Time, limit int) ([]models.Reading, error)
	GetReadingsBefore(location string, before time.Time, limit int) ([]*models.Reading, error)
	GetReadingsAfter(location string, after time.Time, limit int) ([]*models.Reading, error)
	GetLatestReading(location string) (*models.Reading, error)
	GetDailyStats(location string, start, end time.Time) ([]DailyStat, error)
	DeleteOlderThan(days int) (int64, error)
	GetStorageStats() (*StorageStats, error)
	GetLocations() ([]string, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore handles persistent storage of sensor readings
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// DailyStat represents aggregated statistics for a single day at a location
type DailyStat struct {
	Date               time.Time `json:"date"`
	Location           string    `json:"location"`
	MinTemperature     float64   `json:"min_temperature"`
	MaxTemperature     float64   `json:"max_temperature"`
	AvgTemperature     float64   `json:"avg_temperature"`
	MinHumidity        float64   `json:"min_humidity"`
	MaxHumidity        float64   `json:"max_humidity"`
	AvgHumidity        float64   `json:"avg_humidity"`
	MaxWindSpeed       float64   `json:"max_wind_speed"`
	TotalPrecipitation float64   `json:"total_precipitation"`
	ReadingCount       int       `json:"reading_count"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings   int64     `json:"total_readings"`
	OldestReading   time.Time `json:"oldest_reading,omitempty"`
	NewestReading   time.Time `json:"newest_reading,omitempty"`
	UniqueSensors   int       `json:"unique_sensors"`
	UniqueLocations int       `json:"unique_locations"`
	DatabaseSizeMB  float64   `json:"database_size_mb"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Apply performance pragmas for SQLite
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	// Auto-migrate schema
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id TEXT NOT NULL,
		location TEXT NOT NULL,
		temperature REAL NOT NULL,
		humidity REAL NOT NULL,
		wind_speed REAL NOT NULL DEFAULT 0,
		pressure REAL NOT NULL DEFAULT 0,
		precipitation REAL NOT NULL DEFAULT 0,
		cloud_cover REAL NOT NULL DEFAULT 0,
		recorded_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_readings_location_time ON readings(location, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_created ON readings(created_at);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

const insertReading = `
	INSERT INTO readings (sensor_id, location, temperature, humidity, wind_speed, pressure, precipitation, cloud_cover, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func readingArgs(r *models.Reading) []interface{} {
	return []interface{}{
		r.SensorID,
		r.Location,
		r.Temperature,
		r.Humidity,
		r.WindSpeed,
		r.Pressure,
		r.Precipitation,
		r.CloudCover,
		formatTime(r.Timestamp),
	}
}

// InsertReading inserts a single reading into the database
func (s *SQLiteStore) InsertReading(reading *models.Reading) error {
	if _, err := s.db.Exec(insertReading, readingArgs(reading)...); err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple readings in a single transaction
func (s *SQLiteStore) InsertBatch(readings []*models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertReading)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, reading := range readings {
		if _, err := stmt.Exec(readingArgs(reading)...); err != nil {
			return fmt.Errorf("failed to insert reading in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(readings)).Msg("Batch insert completed")
	return nil
}

// FindRecent returns up to limit readings from the last sinceHours hours,
// newest first. An empty location matches all locations.
func (s *SQLiteStore) FindRecent(ctx context.Context, location string, sinceHours int, limit int) ([]models.Reading, error) {
	end := s.now().UTC()
	start := end.Add(-time.Duration(sinceHours) * time.Hour)
	return s.FindInRange(ctx, location, start, end, limit)
}

// FindInRange returns up to limit readings recorded within [start, end],
// newest first. An empty location matches all locations.
func (s *SQLiteStore) FindInRange(ctx context.Context, location string, start, end time.Time, limit int) ([]models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE recorded_at BETWEEN ? AND ?`
	args := []interface{}{formatTime(start), formatTime(end)}
	if location != "" {
		query += ` AND location = ?`
		args = append(args, location)
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings, err := s.scanReadings(rows)
	if err != nil {
		return nil, err
	}

	out := make([]models.Reading, len(readings))
	for i, r := range readings {
		out[i] = *r
	}
	return out, nil
}

// GetReadingsBefore returns readings before a specific time (for scrolling back)
func (s *SQLiteStore) GetReadingsBefore(location string, before time.Time, limit int) ([]*models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE recorded_at < ?`
	args := []interface{}{formatTime(before)}
	if location != "" {
		query += ` AND location = ?`
		args = append(args, location)
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return s.scanReadings(rows)
}

// GetReadingsAfter returns readings after a specific time (for scrolling forward)
func (s *SQLiteStore) GetReadingsAfter(location string, after time.Time, limit int) ([]*models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE recorded_at > ?`
	args := []interface{}{formatTime(after)}
	if location != "" {
		query += ` AND location = ?`
		args = append(args, location)
	}
	query += ` ORDER BY recorded_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings, err := s.scanReadings(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to return newest first (for consistency with other methods)
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}

	return readings, nil
}

// GetLatestReading returns the most recent reading for a location, or nil
// when there is none
func (s *SQLiteStore) GetLatestReading(location string) (*models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE location = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`

	row := s.db.QueryRow(query, location)
	reading, err := s.scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}

	return reading, nil
}

// GetDailyStats returns aggregated daily statistics for a time range
func (s *SQLiteStore) GetDailyStats(location string, start, end time.Time) ([]DailyStat, error) {
	query := `
		SELECT
			date(recorded_at) as date,
			location,
			MIN(temperature), MAX(temperature), AVG(temperature),
			MIN(humidity), MAX(humidity), AVG(humidity),
			MAX(wind_speed),
			SUM(precipitation),
			COUNT(*) as reading_count
		FROM readings
		WHERE recorded_at BETWEEN ? AND ?`
	args := []interface{}{formatTime(start), formatTime(end)}
	if location != "" {
		query += ` AND location = ?`
		args = append(args, location)
	}
	query += `
		GROUP BY date(recorded_at), location
		ORDER BY date DESC, location`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var stat DailyStat
		var dateStr string

		err := rows.Scan(
			&dateStr,
			&stat.Location,
			&stat.MinTemperature,
			&stat.MaxTemperature,
			&stat.AvgTemperature,
			&stat.MinHumidity,
			&stat.MaxHumidity,
			&stat.AvgHumidity,
			&stat.MaxWindSpeed,
			&stat.TotalPrecipitation,
			&stat.ReadingCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}

		stat.Date, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}

		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan removes readings older than the specified number of days
// Note: Deletes based on recorded_at (sensor timestamp), not created_at (insert time)
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec("DELETE FROM readings WHERE recorded_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old readings")

	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow("SELECT COUNT(*) FROM readings").Scan(&stats.TotalReadings)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	// If no readings, return early with zero values
	if stats.TotalReadings == 0 {
		return stats, nil
	}

	var oldestStr, newestStr string
	err = s.db.QueryRow("SELECT MIN(recorded_at), MAX(recorded_at) FROM readings").
		Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}

	stats.OldestReading, _ = parseTimestamp(oldestStr)
	stats.NewestReading, _ = parseTimestamp(newestStr)

	err = s.db.QueryRow("SELECT COUNT(DISTINCT sensor_id), COUNT(DISTINCT location) FROM readings").
		Scan(&stats.UniqueSensors, &stats.UniqueLocations)
	if err != nil {
		return nil, fmt.Errorf("failed to count sensors: %w", err)
	}

	// Get database size using PRAGMA
	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// GetLocations returns all locations that have stored readings
func (s *SQLiteStore) GetLocations() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT location FROM readings ORDER BY location")
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locations []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return locations, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanReading scans one row selected with readingColumns
func (s *SQLiteStore) scanReading(row rowScanner) (*models.Reading, error) {
	var r models.Reading
	var id int64
	var recordedAt string

	err := row.Scan(&id, &r.SensorID, &r.Location, &r.Temperature, &r.Humidity,
		&r.WindSpeed, &r.Pressure, &r.Precipitation, &r.CloudCover, &recordedAt)
	if err != nil {
		return nil, err
	}

	r.Timestamp, err = parseTimestamp(recordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
	}

	return &r, nil
}

// scanReadings scans multiple rows into a slice of readings
func (s *SQLiteStore) scanReadings(rows *sql.Rows) ([]*models.Reading, error) {
	var readings []*models.Reading

	for rows.Next() {
		r, err := s.scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return readings, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTimestamp tries the formats the sqlite3 driver may hand back
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeLayout,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
