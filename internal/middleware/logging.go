package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	pkglogger "github.com/gatehouse/gatehouse/pkg/logger"
)

// SecureLogger logs one structured line per request. Query strings are
// never logged verbatim: credentials and tokens must not leak into log
// storage, so only the presence of suspicious parameters is flagged.
func SecureLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", chimiddleware.GetReqID(r.Context()),
			}
			if pkglogger.SanitizeQueryString(r.URL.RawQuery) {
				attrs = append(attrs, "suspicious_query", true)
			}

			logger.Info("http request", attrs...)
		})
	}
}
