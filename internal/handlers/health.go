package handlers

import (
	"net/http"
	"time"

	"github.com/ukydev/hajj-fleet-dispatch/internal/hub"
)

// LimiterStats reports rate limiter occupancy.
type LimiterStats interface {
	Stats() map[string]interface{}
}

// SessionCounter reports how many telemetry sessions are open.
type SessionCounter interface {
	Sessions() int
}

// HealthHandler reports liveness.
type HealthHandler struct {
	hub      *hub.Hub
	started  time.Time
	limiter  LimiterStats
	sessions SessionCounter
}

// HealthOption configures a HealthHandler.
type HealthOption func(*HealthHandler)

// WithLimiterStats adds the rate limiter occupancy to the health report.
func WithLimiterStats(l LimiterStats) HealthOption {
	return func(h *HealthHandler) { h.limiter = l }
}

// WithTelemetrySessions adds the open telemetry sessions to the health report.
func WithTelemetrySessions(s SessionCounter) HealthOption {
	return func(h *HealthHandler) { h.sessions = s }
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(h *hub.Hub, opts ...HealthOption) *HealthHandler {
	hh := &HealthHandler{hub: h, started: h.Now()}
	for _, opt := range opts {
		opt(hh)
	}
	return hh
}

type healthResponse struct {
	Status            string                 `json:"status"`
	Connections       int                    `json:"connections"`
	Rooms             map[string]int         `json:"rooms"`
	TelemetrySessions *int                   `json:"telemetrySessions,omitempty"`
	RateLimit         map[string]interface{} `json:"rateLimit,omitempty"`
	Uptime            string                 `json:"uptime"`
	ServerTime        time.Time              `json:"serverTime"`
}

// Health always answers 200 while the process serves requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := h.hub.Now()
	resp := healthResponse{
		Status:      "ok",
		Connections: h.hub.ClientCount(),
		Rooms: map[string]int{
			hub.RoomMaintenance: h.hub.RoomSize(hub.RoomMaintenance),
			hub.RoomEmergencies: h.hub.RoomSize(hub.RoomEmergencies),
		},
		Uptime:     now.Sub(h.started).Round(time.Second).String(),
		ServerTime: now,
	}
	if h.sessions != nil {
		n := h.sessions.Sessions()
		resp.TelemetrySessions = &n
	}
	if h.limiter != nil {
		resp.RateLimit = h.limiter.Stats()
	}
	respondJSON(w, http.StatusOK, resp)
}
