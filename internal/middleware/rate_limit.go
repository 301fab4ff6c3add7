package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/gatehouse/gatehouse/pkg/http"
)

// LoginRateLimit applies a coarse per-IP request ceiling to the login
// endpoints. This is a volumetric backstop in front of the DB-backed
// lockout logic, not a replacement for it.
func LoginRateLimit(requestLimit int, window time.Duration) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteRateLimited(w, window, time.Time{})
		}),
	)
}

// APIRateLimit applies a generous per-IP ceiling to the rest of the admin
// API.
func APIRateLimit(requestLimit int, window time.Duration) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteRateLimited(w, window, time.Time{})
		}),
	)
}
