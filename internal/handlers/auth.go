package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/auth"
	"github.com/ukydev/hajj-fleet-dispatch/internal/middleware"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// AuthHandler issues credentials for devices and operators and reports the
// identity behind a credential.
type AuthHandler struct {
	authService *auth.Service
	logger      logrus.FieldLogger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, logger logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger.WithField("component", "auth_api"),
	}
}

type tokenRequest struct {
	Subject string      `json:"subject"`
	Role    models.Role `json:"role"`
}

type tokenResponse struct {
	Token   string      `json:"token"`
	Subject string      `json:"subject"`
	Role    models.Role `json:"role"`
}

// IssueToken signs a credential for another identity. Admin only.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.NewValidationError("payload must be a JSON object"))
		return
	}

	var fields []string
	if req.Subject == "" {
		fields = append(fields, `"subject" is required`)
	}
	if !models.IsValidRole(req.Role) {
		fields = append(fields, fmt.Sprintf(`"role" must be one of [%s, %s, %s, %s, %s, %s]`,
			models.RoleAdmin, models.RoleSupervisor, models.RoleMaintenance,
			models.RoleDriver, models.RolePassenger, models.RoleDevice))
	}
	if len(fields) > 0 {
		respondError(w, apperr.NewValidationError(fields...))
		return
	}

	token, err := h.authService.GenerateToken(req.Subject, req.Role)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate token")
		respondError(w, err)
		return
	}

	issuer, _ := middleware.GetUserFromContext(r.Context())
	entry := h.logger.WithFields(logrus.Fields{"subject": req.Subject, "role": req.Role})
	if issuer != nil {
		entry = entry.WithField("issued_by", issuer.Subject)
	}
	entry.Info("Token issued")

	respondJSON(w, http.StatusCreated, tokenResponse{Token: token, Subject: req.Subject, Role: req.Role})
}

// Me returns the claims of the caller's credential.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, fmt.Errorf("%w: user context not found", apperr.ErrUnauthorized))
		return
	}
	respondJSON(w, http.StatusOK, claims)
}
