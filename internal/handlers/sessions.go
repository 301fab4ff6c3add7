package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/models"
	pkghttp "github.com/gatehouse/gatehouse/pkg/http"
)

// SessionDirectory covers session enumeration and revocation for the
// authenticated user.
type SessionDirectory interface {
	List(ctx context.Context, userID string) ([]*models.Session, error)
	RevokeOwn(ctx context.Context, userID, sessionID string) error
	RevokeAllExcept(ctx context.Context, userID, currentSessionID string) (int64, error)
}

type SessionHandler struct {
	sessions SessionDirectory
	logger   *slog.Logger
}

func NewSessionHandler(sessions SessionDirectory, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

type SessionResponse struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
	ExpiresAt     time.Time `json:"expiresAt"`
	IPAddress     string    `json:"ipAddress"`
	UserAgent     string    `json:"userAgent"`
	SecurityLevel string    `json:"securityLevel"`
	Current       bool      `json:"current"`
}

// List handles GET /api/admin/sessions, returning every active session for
// the authenticated user with the caller's own session flagged.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	sessions, err := h.sessions.List(r.Context(), identity.User.ID)
	if err != nil {
		h.logger.Error("session listing failed", "error", err, "user_id", identity.User.ID)
		pkghttp.WriteInternalError(w, "Failed to list sessions")
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			ID:            s.ID,
			CreatedAt:     s.CreatedAt,
			LastActivity:  s.LastActivity,
			ExpiresAt:     s.ExpiresAt,
			IPAddress:     s.IPAddress,
			UserAgent:     s.UserAgent,
			SecurityLevel: s.SecurityLevel,
			Current:       s.ID == identity.Session.ID,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":         resp,
		"currentSessionId": identity.Session.ID,
	})
}

// RevokeOne handles DELETE /api/admin/sessions/{sessionID}. Sessions
// belonging to other users cannot be terminated this way.
func (h *SessionHandler) RevokeOne(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Session id is required")
		return
	}

	err := h.sessions.RevokeOwn(r.Context(), identity.User.ID, sessionID)
	switch {
	case err == nil:
		pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Cannot terminate another user's session")
	case errors.Is(err, models.ErrSessionNotFound) || errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Session not found")
	default:
		h.logger.Error("session revocation failed", "error", err, "session_id", sessionID)
		pkghttp.WriteInternalError(w, "Failed to terminate session")
	}
}

// RevokeOthers handles DELETE /api/admin/sessions, terminating every
// session for the user except the one making the request.
func (h *SessionHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	count, err := h.sessions.RevokeAllExcept(r.Context(), identity.User.ID, identity.Session.ID)
	if err != nil {
		h.logger.Error("bulk session revocation failed", "error", err, "user_id", identity.User.ID)
		pkghttp.WriteInternalError(w, "Failed to terminate sessions")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"terminatedCount": count,
	})
}
