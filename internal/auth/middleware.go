package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gatehouse/gatehouse/internal/models"
	pkghttp "github.com/gatehouse/gatehouse/pkg/http"
	pkglogger "github.com/gatehouse/gatehouse/pkg/logger"
)

// contextKey is a custom type for context keys
type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the authenticated caller attached to the request context once
// the guard has passed.
type Identity struct {
	User    *models.AdminUser
	Session *models.Session
	Claims  *models.SessionClaims
}

// UserFetcher loads the current user record so the guard can compare the
// embedded token_version against the live one.
type UserFetcher interface {
	GetByID(ctx context.Context, id string) (*models.AdminUser, error)
}

// SessionStore is the guard's view of the Session Store.
type SessionStore interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	Touch(ctx context.Context, id string, expiresAt, lastActivity time.Time) error
}

// GuardConfig holds session renewal behavior.
type GuardConfig struct {
	IdleTimeout   time.Duration // sliding expiry granted on each touch
	TouchInterval time.Duration // skip the renewal write if touched more recently
}

// Guard verifies every admin request: token signature, token_version
// freshness, and session liveness. A cryptographically valid token whose
// session row is gone is rejected; that is the revocation mechanism.
type Guard struct {
	tm       *TokenManager
	users    UserFetcher
	sessions SessionStore
	config   GuardConfig
	audit    *pkglogger.AuditLogger
}

func NewGuard(tm *TokenManager, users UserFetcher, sessions SessionStore, config GuardConfig, audit *pkglogger.AuditLogger) *Guard {
	return &Guard{
		tm:       tm,
		users:    users,
		sessions: sessions,
		config:   config,
		audit:    audit,
	}
}

// Middleware authenticates the request and injects the Identity into
// context. The wrapped handler is never invoked on failure.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}

		claims, err := g.tm.VerifyToken(tokenString)
		if err != nil {
			g.reject(r, "", "token_invalid")
			pkghttp.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		if claims.Type != models.TokenTypeSession {
			g.reject(r, claims.UserID, "wrong_token_type")
			pkghttp.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		user, err := g.users.GetByID(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				g.reject(r, claims.UserID, "user_not_found")
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}

		// VersionStale: valid signature, stale counter. This is how
		// password change logs every device out at once.
		if claims.TokenVersion != user.TokenVersion {
			g.reject(r, user.ID, "token_version_stale")
			pkghttp.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		session, err := g.sessions.GetByTokenHash(r.Context(), HashToken(tokenString))
		if err != nil {
			if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrSessionNotFound) {
				g.reject(r, user.ID, "session_not_found")
				pkghttp.WriteUnauthorized(w, "Session expired or revoked")
				return
			}
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}

		now := time.Now()
		if session.IsExpired(now) {
			g.reject(r, user.ID, "session_expired")
			pkghttp.WriteUnauthorized(w, "Session expired or revoked")
			return
		}

		// Sliding renewal, rate limited to one write per TouchInterval.
		if now.Sub(session.LastActivity) >= g.config.TouchInterval {
			newExpiry := now.Add(g.config.IdleTimeout)
			if err := g.sessions.Touch(r.Context(), session.ID, newExpiry, now); err == nil {
				session.ExpiresAt = newExpiry
				session.LastActivity = now
			}
		}

		// Admins flagged for a forced password change may not mutate
		// anything until they set a new password.
		if user.ForcePasswordChange && isMutatingMethod(r.Method) && !isPasswordChangeExempt(r.URL.Path) {
			pkghttp.WriteForbidden(w, "Password change required")
			return
		}

		identity := &Identity{User: user, Session: session, Claims: claims}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole enforces role-based access on top of the guard.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r)
			if identity == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}

			if identity.User.Role != role {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetIdentity extracts the authenticated identity from request context.
func GetIdentity(r *http.Request) *Identity {
	identity, ok := r.Context().Value(identityContextKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}

// WithIdentity returns a request carrying the given identity; used by
// handler tests.
func WithIdentity(r *http.Request, identity *Identity) *http.Request {
	ctx := context.WithValue(r.Context(), identityContextKey, identity)
	return r.WithContext(ctx)
}

func (g *Guard) reject(r *http.Request, userID, reason string) {
	if g.audit == nil {
		return
	}
	g.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "request_rejected",
		UserID:        userID,
		IPAddress:     r.RemoteAddr,
		Success:       false,
		FailureReason: reason,
	})
}

// extractToken prefers the session cookie; Authorization: Bearer is the
// fallback for non-browser clients. The authoritative check is the same
// either way.
func extractToken(r *http.Request) string {
	if token, err := GetSessionCookie(r); err == nil && token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func isMutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}

func isPasswordChangeExempt(path string) bool {
	return strings.HasSuffix(path, "/password") || strings.HasSuffix(path, "/logout")
}
