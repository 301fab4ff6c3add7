package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/models"
	"github.com/gatehouse/gatehouse/internal/services"
	pkgauth "github.com/gatehouse/gatehouse/pkg/auth"
	pkghttp "github.com/gatehouse/gatehouse/pkg/http"
)

// AuthFlow covers the login lifecycle operations the handlers dispatch to.
type AuthFlow interface {
	Login(ctx context.Context, username, password, ip, userAgent string) (*services.LoginResult, error)
	CompleteMfa(ctx context.Context, mfaToken, code, ip, userAgent string) (*services.LoginResult, error)
	Logout(ctx context.Context, identity *auth.Identity) error
	ChangePassword(ctx context.Context, identity *auth.Identity, currentPassword, newPassword, ip, userAgent string) (*services.LoginResult, error)
}

// CsrfProvider issues and retrieves per-session CSRF tokens.
type CsrfProvider interface {
	Get(ctx context.Context, sessionID string) (string, error)
	Issue(ctx context.Context, sessionID string) (string, error)
}

type AuthHandler struct {
	service  AuthFlow
	csrf     CsrfProvider
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewAuthHandler(service AuthFlow, csrf CsrfProvider, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		csrf:     csrf,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

type MfaLoginRequest struct {
	MfaToken string `json:"mfaToken" validate:"required"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=128"`
	NewPassword     string `json:"newPassword" validate:"required,max=128"`
}

type UserResponse struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Email               *string    `json:"email,omitempty"`
	Role                string     `json:"role"`
	ForcePasswordChange bool       `json:"forcePasswordChange"`
	MfaEnabled          bool       `json:"mfaEnabled"`
	LastLogin           *time.Time `json:"lastLogin,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

func NewUserResponse(user *models.AdminUser) UserResponse {
	return UserResponse{
		ID:                  user.ID,
		Username:            user.Username,
		Email:               user.Email,
		Role:                user.Role,
		ForcePasswordChange: user.ForcePasswordChange,
		MfaEnabled:          user.MfaEnabled,
		LastLogin:           user.LastLogin,
		CreatedAt:           user.CreatedAt,
	}
}

type LoginResponse struct {
	Success   bool          `json:"success"`
	User      *UserResponse `json:"user,omitempty"`
	CsrfToken string        `json:"csrfToken,omitempty"`

	MfaRequired bool   `json:"mfaRequired,omitempty"`
	MfaToken    string `json:"mfaToken,omitempty"`
}

// Login handles POST /api/admin/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := DecodeRequest(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	result, err := h.service.Login(r.Context(), req.Username, req.Password, ip, r.UserAgent())
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	if result.MfaRequired {
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			Success:     true,
			MfaRequired: true,
			MfaToken:    result.MfaToken,
		})
		return
	}

	h.writeLoginSuccess(w, result)
}

// CompleteMfa handles POST /api/admin/login/mfa, the second step of an
// MFA-enabled login.
func (h *AuthHandler) CompleteMfa(w http.ResponseWriter, r *http.Request) {
	var req MfaLoginRequest
	if err := DecodeRequest(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	result, err := h.service.CompleteMfa(r.Context(), req.MfaToken, req.Code, ip, r.UserAgent())
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	h.writeLoginSuccess(w, result)
}

// Logout handles POST /api/admin/logout. Logout always succeeds from the
// client's perspective: cookies are cleared and 200 returned even if the
// session row was already gone.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity != nil {
		if err := h.service.Logout(r.Context(), identity); err != nil {
			h.logger.Warn("logout cleanup failed", "error", err, "session_id", identity.Session.ID)
		}
	}

	auth.ClearSessionCookie(w, h.cookies)
	auth.ClearCsrfCookie(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me handles GET /api/admin/auth, reporting the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	user := NewUserResponse(identity.User)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"user":          user,
	})
}

// CsrfToken handles GET /api/admin/csrf-token. A session that somehow lost
// its token row gets a fresh one rather than an error.
func (h *AuthHandler) CsrfToken(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	token, err := h.csrf.Get(r.Context(), identity.Session.ID)
	if errors.Is(err, models.ErrNotFound) {
		token, err = h.csrf.Issue(r.Context(), identity.Session.ID)
	}
	if err != nil {
		h.logger.Error("csrf token retrieval failed", "error", err, "session_id", identity.Session.ID)
		pkghttp.WriteInternalError(w, "Failed to retrieve CSRF token")
		return
	}

	auth.SetCsrfCookie(w, token, identity.Session.ExpiresAt, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

// ChangePassword handles POST /api/admin/password. A successful change
// invalidates every outstanding token and establishes a fresh session.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var req ChangePasswordRequest
	if err := DecodeRequest(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	result, err := h.service.ChangePassword(r.Context(), identity, req.CurrentPassword, req.NewPassword, ip, r.UserAgent())
	if err != nil {
		var pve *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pve):
			pkghttp.WriteBadRequest(w, pve.Error())
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteError(w, http.StatusUnauthorized, "Invalid credentials", "Current password is incorrect")
		default:
			h.logger.Error("password change failed", "error", err, "user_id", identity.User.ID)
			pkghttp.WriteInternalError(w, "Failed to change password")
		}
		return
	}

	h.writeLoginSuccess(w, result)
}

// writeLoginSuccess sets the auth cookies and writes the standard success
// payload shared by login, MFA completion and password change.
func (h *AuthHandler) writeLoginSuccess(w http.ResponseWriter, result *services.LoginResult) {
	artifacts := result.Artifacts
	auth.SetSessionCookie(w, artifacts.Token, artifacts.Session.ExpiresAt, h.cookies)
	auth.SetCsrfCookie(w, artifacts.CsrfToken, artifacts.Session.ExpiresAt, h.cookies)

	user := NewUserResponse(result.User)
	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		User:      &user,
		CsrfToken: artifacts.CsrfToken,
	})
}

// writeLoginError maps authentication failures onto the wire. Credential
// failures stay deliberately generic so the response cannot distinguish an
// unknown username from a wrong password.
func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var rateLimitErr *models.RateLimitError
	switch {
	case errors.As(err, &rateLimitErr):
		pkghttp.WriteRateLimited(w, rateLimitErr.RetryAfter, rateLimitErr.LockedUntil)
	case errors.Is(err, models.ErrMfaCodeInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "Invalid MFA code", "")
	case errors.Is(err, models.ErrInvalidCredentials), errors.Is(err, models.ErrTokenInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "Invalid credentials", "")
	default:
		h.logger.Error("login failed", "error", err)
		pkghttp.WriteInternalError(w, "Login failed")
	}
}
