package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envinsight/internal/insights"
	"github.com/afroash/envinsight/internal/models"
	"github.com/afroash/envinsight/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	defaultDailyDays    = 7
	maxDailyDays        = 365
)

// APIHandler handles the JSON API
type APIHandler struct {
	store    ReadingStore
	history  HistoricalStore
	insights InsightService
	logger   zerolog.Logger
}

// NewAPIHandler creates an API handler backed only by the live store
func NewAPIHandler(store ReadingStore, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:  store,
		logger: logger,
	}
}

// NewAPIHandlerWithHistory creates an API handler that falls back to
// persistent storage for history queries
func NewAPIHandlerWithHistory(store ReadingStore, history HistoricalStore, logger zerolog.Logger) *APIHandler {
	api := NewAPIHandler(store, logger)
	api.history = history
	return api
}

// SetInsights enables the insight endpoints
func (api *APIHandler) SetInsights(svc InsightService) {
	api.insights = svc
}

// RegisterRoutes wires every API endpoint onto mux
func (api *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/current", api.HandleCurrent)
	mux.HandleFunc("GET /api/history", api.HandleHistory)
	mux.HandleFunc("GET /api/stats", api.HandleStats)
	mux.HandleFunc("GET /api/locations", api.HandleLocations)
	mux.HandleFunc("GET /api/daily/stats", api.HandleDailyStats)
	mux.HandleFunc("GET /api/insights", api.HandleInsights)
	mux.HandleFunc("GET /api/insights/statistics", api.HandleInsightStatistics)
}

// HandleCurrent returns the current reading for a location, defaulting to
// the first known location
func (api *APIHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	if location == "" {
		locations := api.locations()
		if len(locations) == 0 {
			writeError(w, http.StatusNotFound, "no locations found")
			return
		}
		location = locations[0]
	}

	reading := api.store.GetCurrentReading(location)
	if reading == nil && api.history != nil {
		var err error
		reading, err = api.history.GetLatestReading(location)
		if err != nil {
			api.logger.Error().Err(err).Str("location", location).Msg("Failed to load latest reading")
			writeError(w, http.StatusInternalServerError, "failed to load reading")
			return
		}
	}
	if reading == nil {
		writeError(w, http.StatusNotFound, "no readings available")
		return
	}

	writeJSON(w, http.StatusOK, reading)
}

// HandleHistory returns readings for charting. With before or after
// (RFC3339) it pages through persistent storage.
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	location := q.Get("location")
	if location == "" {
		if locations := api.locations(); len(locations) > 0 {
			location = locations[0]
		}
	}

	limit := defaultHistoryLimit
	if s := q.Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = min(parsed, maxHistoryLimit)
		}
	}

	before, err := parseTimeParam(q.Get("before"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	after, err := parseTimeParam(q.Get("after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if (!before.IsZero() || !after.IsZero()) && api.history == nil {
		writeError(w, http.StatusNotImplemented, "historical storage is disabled")
		return
	}

	var readings []*models.Reading
	switch {
	case !before.IsZero():
		readings, err = api.history.GetReadingsBefore(location, before, limit)
	case !after.IsZero():
		readings, err = api.history.GetReadingsAfter(location, after, limit)
	default:
		readings = api.store.GetLatest(location, limit)
	}
	if err != nil {
		api.logger.Error().Err(err).Str("location", location).Msg("Failed to load history")
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if readings == nil {
		readings = []*models.Reading{}
	}

	writeJSON(w, http.StatusOK, readings)
}

// StatsResponse combines live and persistent storage statistics
type StatsResponse struct {
	Memory   StoreStats            `json:"memory"`
	Database *storage.StorageStats `json:"database,omitempty"`
}

// HandleStats returns store statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Memory: api.store.Stats()}

	if api.history != nil {
		stats, err := api.history.GetStorageStats()
		if err != nil {
			api.logger.Error().Err(err).Msg("Failed to load storage stats")
			writeError(w, http.StatusInternalServerError, "failed to load storage stats")
			return
		}
		resp.Database = stats
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleLocations lists every location with live or stored readings
func (api *APIHandler) HandleLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.locations())
}

// HandleDailyStats returns per-day aggregates for the last ?days days
func (api *APIHandler) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		writeError(w, http.StatusNotImplemented, "historical storage is disabled")
		return
	}

	days := defaultDailyDays
	if s := r.URL.Query().Get("days"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed <= 0 || parsed > maxDailyDays {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxDailyDays))
			return
		}
		days = parsed
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	stats, err := api.history.GetDailyStats(r.URL.Query().Get("location"), start, end)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to load daily stats")
		writeError(w, http.StatusInternalServerError, "failed to load daily stats")
		return
	}
	if stats == nil {
		stats = []storage.DailyStat{}
	}

	writeJSON(w, http.StatusOK, stats)
}

// HandleInsights returns an Insight for ?location, ?period or ?start/?end
func (api *APIHandler) HandleInsights(w http.ResponseWriter, r *http.Request) {
	if api.insights == nil {
		writeError(w, http.StatusServiceUnavailable, "insights are not configured")
		return
	}

	params, err := insightParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	insight, err := api.insights.GenerateInsights(r.Context(), params)
	if err != nil {
		api.insightError(w, r, err, params)
		return
	}

	writeJSON(w, http.StatusOK, insight)
}

// HandleInsightStatistics returns the statistics and patterns an Insight
// would be built from
func (api *APIHandler) HandleInsightStatistics(w http.ResponseWriter, r *http.Request) {
	if api.insights == nil {
		writeError(w, http.StatusServiceUnavailable, "insights are not configured")
		return
	}

	params, err := insightParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	analysis, err := api.insights.Analyze(r.Context(), params)
	if err != nil {
		api.insightError(w, r, err, params)
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

func (api *APIHandler) insightError(w http.ResponseWriter, r *http.Request, err error, p insights.Params) {
	switch {
	case errors.Is(err, insights.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, insights.ErrEmptyInput):
		writeError(w, http.StatusNotFound, "no readings for the requested range")
	default:
		api.logger.Error().Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("location", p.Location).
			Str("period", p.Period).
			Msg("Insight request failed")
		writeError(w, http.StatusInternalServerError, "failed to generate insights")
	}
}

// locations merges live and stored locations, sorted
func (api *APIHandler) locations() []string {
	seen := make(map[string]struct{})
	for _, loc := range api.store.GetLocations() {
		seen[loc] = struct{}{}
	}
	if api.history != nil {
		stored, err := api.history.GetLocations()
		if err != nil {
			api.logger.Warn().Err(err).Msg("Failed to load stored locations")
		}
		for _, loc := range stored {
			seen[loc] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for loc := range seen {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

func insightParams(r *http.Request) (insights.Params, error) {
	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		return insights.Params{}, err
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		return insights.Params{}, err
	}
	return insights.Params{
		Location: q.Get("location"),
		Period:   q.Get("period"),
		Start:    start,
		End:      end,
	}, nil
}

// parseTimeParam accepts RFC3339 or an empty string
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: expected RFC3339", s)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
