package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/models"
	"github.com/gatehouse/gatehouse/internal/services"
	pkghttp "github.com/gatehouse/gatehouse/pkg/http"
)

// MfaEnroller covers the two-step TOTP enrollment flow.
type MfaEnroller interface {
	Enabled() bool
	Setup(ctx context.Context, user *models.AdminUser) (*services.SetupResult, error)
	Enable(ctx context.Context, userID, code string) error
}

type MfaHandler struct {
	service MfaEnroller
	logger  *slog.Logger
}

func NewMfaHandler(service MfaEnroller, logger *slog.Logger) *MfaHandler {
	return &MfaHandler{service: service, logger: logger}
}

type MfaEnableRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// Setup handles POST /api/admin/mfa/setup. It provisions a pending TOTP
// secret; the enrollment is not active until Enable confirms a valid code.
func (h *MfaHandler) Setup(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}
	if !h.service.Enabled() {
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "mfa_unavailable", "MFA is not configured on this server")
		return
	}

	result, err := h.service.Setup(r.Context(), identity.User)
	if err != nil {
		h.logger.Error("mfa setup failed", "error", err, "user_id", identity.User.ID)
		pkghttp.WriteInternalError(w, "Failed to set up MFA")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"otpauthUrl": result.OtpauthURL,
		"qrCode":     result.QrDataURL,
	})
}

// Enable handles POST /api/admin/mfa/enable, confirming a pending
// enrollment with a code from the authenticator app.
func (h *MfaHandler) Enable(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}
	if !h.service.Enabled() {
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "mfa_unavailable", "MFA is not configured on this server")
		return
	}

	var req MfaEnableRequest
	if err := DecodeRequest(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.Enable(r.Context(), identity.User.ID, req.Code)
	switch {
	case err == nil:
		pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, models.ErrMfaCodeInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "Invalid MFA code", "")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "No pending MFA enrollment")
	default:
		h.logger.Error("mfa enable failed", "error", err, "user_id", identity.User.ID)
		pkghttp.WriteInternalError(w, "Failed to enable MFA")
	}
}
