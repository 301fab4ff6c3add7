package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gatehouse/gatehouse/internal/database"
	pkghttp "github.com/gatehouse/gatehouse/pkg/http"
)

type HealthHandler struct {
	db     *database.DB
	logger *slog.Logger
}

func NewHealthHandler(db *database.DB, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// Health handles GET /health. Reports degraded with a 503 when the
// database is unreachable, since every auth decision depends on it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": "unreachable",
		})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "ok",
	})
}
