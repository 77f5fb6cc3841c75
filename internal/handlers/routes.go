package handlers

import (
	"net/http"

	"github.com/ukydev/hajj-fleet-dispatch/internal/middleware"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// Router holds everything the HTTP surface is built from.
type Router struct {
	Auth          *middleware.AuthMiddleware
	RateLimit     *middleware.RateLimitMiddleware
	Fleet         *FleetHandler
	Tokens        *AuthHandler
	WS            *WSHandler
	Health        *HealthHandler
	Notifications *NotificationHandler
}

// Handler wires the routes. Everything except /health and /ws requires a
// bearer credential; /ws authenticates in-band.
func (rt Router) Handler() http.Handler {
	mux := http.NewServeMux()

	perm := func(action string, h http.HandlerFunc) http.Handler {
		return rt.Auth.RequirePermission(action)(h)
	}

	assign := perm("request_ride", rt.Fleet.Assign)
	if rt.RateLimit != nil {
		assign = rt.RateLimit.RateLimit("assign")(assign)
	}
	mux.Handle("POST /api/requests/assign", assign)
	mux.Handle("GET /api/requests",
		rt.Auth.RequireRole(models.RoleAdmin, models.RoleSupervisor)(http.HandlerFunc(rt.Fleet.Requests)))
	mux.HandleFunc("GET /api/requests/{id}", rt.Fleet.GetRequest)
	mux.Handle("POST /api/requests/{id}/complete",
		rt.Auth.RequireRole(models.RoleDriver, models.RoleDevice, models.RoleSupervisor)(http.HandlerFunc(rt.Fleet.Complete)))
	mux.Handle("POST /api/requests/{id}/cancel", perm("cancel_ride", rt.Fleet.Cancel))

	mux.Handle("GET /api/buses/nearest", perm("view_fleet", rt.Fleet.Nearest))
	mux.Handle("GET /api/buses/{id}/location", perm("view_fleet", rt.Fleet.Location))
	mux.Handle("GET /api/buses/{id}/eta", perm("view_fleet", rt.Fleet.ETA))
	mux.Handle("GET /api/buses/{id}/history", perm("view_fleet", rt.Fleet.History))

	mux.Handle("GET /api/metrics", perm("view_metrics", rt.Fleet.Metrics))
	mux.Handle("GET /api/metrics/{name}", perm("view_metrics", rt.Fleet.Metric))
	mux.Handle("GET /api/metrics/{name}/alerts", perm("view_metrics", rt.Fleet.Alerts))

	if rt.Notifications != nil {
		mux.Handle("GET /api/notifications/{type}", perm("view_metrics", rt.Notifications.History))
	}

	mux.Handle("POST /api/tokens", rt.Auth.RequireRole(models.RoleAdmin)(http.HandlerFunc(rt.Tokens.IssueToken)))
	mux.HandleFunc("GET /api/me", rt.Tokens.Me)

	mux.HandleFunc("GET /ws", rt.WS.ServeWS)
	mux.HandleFunc("GET /health", rt.Health.Health)

	return rt.Auth.Authenticate(mux)
}
