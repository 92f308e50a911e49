package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/envinsight/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Handler manages WebSocket connections from sensor stations
type Handler struct {
	upgrader       websocket.Upgrader
	authToken      string
	store          ReadingStore
	writer         ReadingWriter
	logger         zerolog.Logger
	activeSensors  map[string]*SensorConnection // keyed by remote address
	allowedOrigins []string
	mutex          sync.RWMutex
}

// SensorConnection represents an active station connection
type SensorConnection struct {
	SensorID    string    `json:"sensor_id"`
	Location    string    `json:"location"`
	RemoteAddr  string    `json:"remote_addr"`
	LastSeen    time.Time `json:"last_seen"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewHandler creates a new WebSocket handler
func NewHandler(authToken string, store ReadingStore, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		authToken:      authToken,
		store:          store,
		logger:         logger,
		activeSensors:  make(map[string]*SensorConnection),
		allowedOrigins: allowedOrigins,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// SetDBWriter makes accepted readings flow to persistent storage too
func (h *Handler) SetDBWriter(w ReadingWriter) {
	h.writer = w
}

// checkOrigin validates the request's Origin against the configured allowlist.
// Requests without an Origin header are same-origin and always allowed.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.validateToken(r.Header.Get("Authorization")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	h.handleConnection(conn)
}

// validateToken expects "Bearer <token>"
func (h *Handler) validateToken(authHeader string) bool {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || h.authToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) == 1
}

func (h *Handler) handleConnection(conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()

	h.mutex.Lock()
	h.activeSensors[connKey] = &SensorConnection{
		SensorID:    connKey, // replaced by the first heartbeat or reading
		RemoteAddr:  connKey,
		LastSeen:    now,
		ConnectedAt: now,
	}
	h.mutex.Unlock()

	defer conn.Close()
	defer h.removeSensor(connKey)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("remote", connKey).Msg("WebSocket error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		reply := h.handleMessage(connKey, &msg)
		if reply == nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reply); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send reply")
			return
		}
	}
}

// handleMessage processes one message and returns the reply to send
func (h *Handler) handleMessage(connKey string, msg *models.Message) *models.Message {
	h.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")
	h.touch(connKey, "", "")

	switch msg.Type {
	case models.MessageTypeReading:
		var reading models.Reading
		if err := msg.UnmarshalPayload(&reading); err != nil {
			h.logger.Error().Err(err).Msg("Failed to unmarshal reading")
			return h.errorReply("bad_payload", "reading payload could not be decoded")
		}
		return h.ack(h.ingest(connKey, []models.Reading{reading}))

	case models.MessageTypeBatch:
		var batch models.BatchMessage
		if err := msg.UnmarshalPayload(&batch); err != nil {
			h.logger.Error().Err(err).Msg("Failed to unmarshal batch")
			return h.errorReply("bad_payload", "batch payload could not be decoded")
		}
		return h.ack(h.ingest(connKey, batch.Readings))

	case models.MessageTypeHeartbeat:
		var hb models.HeartbeatMessage
		if err := msg.UnmarshalPayload(&hb); err != nil {
			h.logger.Error().Err(err).Msg("Failed to unmarshal heartbeat")
			return h.errorReply("bad_payload", "heartbeat payload could not be decoded")
		}
		h.touch(connKey, hb.SensorID, hb.Location)
		h.logger.Debug().
			Str("sensor_id", hb.SensorID).
			Str("location", hb.Location).
			Int64("uptime", hb.Uptime).
			Int("buffer_size", hb.BufferSize).
			Msg("Heartbeat received")
		return h.ack(models.AckMessage{Status: "ok"})

	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		return h.errorReply("unknown_type", "unsupported message type "+string(msg.Type))
	}
}

// ingest stores every valid reading and counts the rest as rejected
func (h *Handler) ingest(connKey string, readings []models.Reading) models.AckMessage {
	ack := models.AckMessage{Status: "ok"}
	for i := range readings {
		r := &readings[i]
		if r.Timestamp.IsZero() {
			r.Timestamp = time.Now().UTC()
		}
		if !r.IsValid() {
			ack.Rejected++
			h.logger.Warn().
				Str("sensor_id", r.SensorID).
				Str("location", r.Location).
				Float64("temp", r.Temperature).
				Float64("humidity", r.Humidity).
				Msg("Reading ignored: invalid")
			continue
		}

		h.store.Add(r)
		if h.writer != nil {
			h.writer.Write(r)
		}
		h.touch(connKey, r.SensorID, r.Location)
		ack.Accepted++
	}

	if ack.Rejected > 0 {
		ack.Status = "partial"
		if ack.Accepted == 0 {
			ack.Status = "rejected"
		}
	}
	h.logger.Debug().Int("accepted", ack.Accepted).Int("rejected", ack.Rejected).Msg("Readings ingested")
	return ack
}

func (h *Handler) ack(payload models.AckMessage) *models.Message {
	msg, err := models.NewMessage(models.MessageTypeAck, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create ack message")
		return nil
	}
	return msg
}

func (h *Handler) errorReply(code, text string) *models.Message {
	msg, err := models.NewMessage(models.MessageTypeError, models.ErrorMessage{Code: code, Message: text})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create error message")
		return nil
	}
	return msg
}

// touch refreshes LastSeen and records the station identity once known
func (h *Handler) touch(connKey, sensorID, location string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	sensor, ok := h.activeSensors[connKey]
	if !ok {
		return
	}
	sensor.LastSeen = time.Now()
	if sensorID != "" {
		sensor.SensorID = sensorID
	}
	if location != "" {
		sensor.Location = location
	}
}

func (h *Handler) removeSensor(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	sensorID := connKey
	if sensor, ok := h.activeSensors[connKey]; ok {
		sensorID = sensor.SensorID
	}
	delete(h.activeSensors, connKey)
	h.logger.Info().Str("sensor_id", sensorID).Msg("Sensor disconnected")
}

// GetActiveSensors returns a snapshot of connected stations
func (h *Handler) GetActiveSensors() []SensorConnection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	sensors := make([]SensorConnection, 0, len(h.activeSensors))
	for _, sensor := range h.activeSensors {
		sensors = append(sensors, *sensor)
	}
	return sensors
}
