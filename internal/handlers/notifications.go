package handlers

import (
	"net/http"

	"github.com/ukydev/hajj-fleet-dispatch/internal/notify"
)

// NotificationHandler serves the retained notification history.
type NotificationHandler struct {
	router *notify.Router
}

// NewNotificationHandler creates a notification handler.
func NewNotificationHandler(router *notify.Router) *NotificationHandler {
	return &NotificationHandler{router: router}
}

// History returns the notifications of one type sent within the retention
// window, oldest first.
func (h *NotificationHandler) History(w http.ResponseWriter, r *http.Request) {
	typ := r.PathValue("type")
	sent := h.router.History(typ)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"type":          typ,
		"notifications": sent,
		"count":         len(sent),
	})
}
