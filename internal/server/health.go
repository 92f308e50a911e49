package server

import (
	"net/http"
	"time"
)

// HealthResponse is served at /health
type HealthResponse struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Database     bool      `json:"database"`
	FallbackOnly bool      `json:"fallback_only"`
	Locations    int       `json:"locations"`
	Sensors      int       `json:"connected_sensors"`
	Time         time.Time `json:"time"`
}

// HealthHandler reports liveness plus a summary of what is wired
type HealthHandler struct {
	Version      string
	Store        ReadingStore
	Ingest       *Handler
	Database     bool
	FallbackOnly bool
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		Version:      h.Version,
		Database:     h.Database,
		FallbackOnly: h.FallbackOnly,
		Time:         time.Now().UTC(),
	}
	if h.Store != nil {
		resp.Locations = len(h.Store.GetLocations())
	}
	if h.Ingest != nil {
		resp.Sensors = len(h.Ingest.GetActiveSensors())
	}
	writeJSON(w, http.StatusOK, resp)
}
