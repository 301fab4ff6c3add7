package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/handlers"
	"github.com/gatehouse/gatehouse/internal/metrics"
	"github.com/gatehouse/gatehouse/internal/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth     *handlers.AuthHandler
	Sessions *handlers.SessionHandler
	Mfa      *handlers.MfaHandler
	Health   *handlers.HealthHandler
}

// New assembles the full router: global middleware, the public login
// surface, and the guarded admin API.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
	guard *auth.Guard,
	csrfValidator middleware.CsrfValidator,
	h Handlers,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.SecureLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", h.Health.Health)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api/admin", func(r chi.Router) {
		// Public: credential submission, throttled per IP on top of the
		// DB-backed lockout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.LoginRateLimit(20, 1*time.Minute))
			r.Post("/login", h.Auth.Login)
			r.Post("/login/mfa", h.Auth.CompleteMfa)
		})

		// Everything past this point requires a live session.
		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware)
			r.Use(middleware.APIRateLimit(120, 1*time.Minute))

			// Logout is CSRF-exempt: a forged logout is at worst a
			// nuisance, and demanding a token here can strand clients
			// that lost theirs.
			r.Post("/logout", h.Auth.Logout)
			r.Get("/auth", h.Auth.Me)
			r.Get("/csrf-token", h.Auth.CsrfToken)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Csrf(csrfValidator, m, logger))

				r.Post("/password", h.Auth.ChangePassword)

				r.Get("/sessions", h.Sessions.List)
				r.Delete("/sessions", h.Sessions.RevokeOthers)
				r.Delete("/sessions/{sessionID}", h.Sessions.RevokeOne)

				r.Post("/mfa/setup", h.Mfa.Setup)
				r.Post("/mfa/enable", h.Mfa.Enable)
			})
		})
	})

	return r
}
