package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/metrics"
	pkghttp "github.com/gatehouse/gatehouse/pkg/http"
)

// CsrfValidator checks a supplied token against the stored token for a
// session.
type CsrfValidator interface {
	Validate(ctx context.Context, sessionID, suppliedToken string) (bool, error)
}

const csrfHeaderName = "X-CSRF-Token"

// Csrf enforces double-submit CSRF protection on state-changing requests.
// The token is read from the X-CSRF-Token header, falling back to the CSRF
// cookie for form-style clients. Safe methods pass through untouched.
//
// Must run after the session guard: it relies on the request identity.
func Csrf(validator CsrfValidator, m *metrics.Metrics, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			identity := auth.GetIdentity(r)
			if identity == nil {
				pkghttp.WriteUnauthorized(w, "Not authenticated")
				return
			}

			supplied := r.Header.Get(csrfHeaderName)
			if supplied == "" {
				if cookie, err := r.Cookie(auth.CsrfCookieName); err == nil {
					supplied = cookie.Value
				}
			}

			if supplied == "" {
				reject(w, m, logger, identity.Session.ID, "missing token")
				return
			}

			valid, err := validator.Validate(r.Context(), identity.Session.ID, supplied)
			if err != nil {
				logger.Error("csrf validation failed", "error", err, "session_id", identity.Session.ID)
				pkghttp.WriteInternalError(w, "Failed to validate request")
				return
			}
			if !valid {
				reject(w, m, logger, identity.Session.ID, "token mismatch")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, m *metrics.Metrics, logger *slog.Logger, sessionID, reason string) {
	if m != nil {
		m.CsrfRejections.Inc()
	}
	logger.Warn("csrf check rejected request", "session_id", sessionID, "reason", reason)
	pkghttp.WriteError(w, http.StatusForbidden, "Invalid CSRF token", "")
}
