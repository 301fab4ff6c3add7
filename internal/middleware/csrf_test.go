package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/metrics"
	"github.com/gatehouse/gatehouse/internal/models"
)

type fakeValidator struct {
	expected string
}

func (f *fakeValidator) Validate(_ context.Context, _, supplied string) (bool, error) {
	return supplied == f.expected, nil
}

func csrfTestHandler(t *testing.T, expectedToken string, m *metrics.Metrics) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := Csrf(&fakeValidator{expected: expectedToken}, m, logger)
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func authedRequest(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	return auth.WithIdentity(r, &auth.Identity{
		User:    &models.AdminUser{ID: "u1", Username: "webmaster"},
		Session: &models.Session{ID: "session-1", UserID: "u1"},
	})
}

func TestCsrf_HeaderTokenAccepted(t *testing.T) {
	handler := csrfTestHandler(t, "tok-123", nil)

	r := authedRequest(http.MethodPost, "/api/admin/password")
	r.Header.Set("X-CSRF-Token", "tok-123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCsrf_CookieFallback(t *testing.T) {
	handler := csrfTestHandler(t, "tok-123", nil)

	r := authedRequest(http.MethodPost, "/api/admin/password")
	r.AddCookie(&http.Cookie{Name: auth.CsrfCookieName, Value: "tok-123"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCsrf_MissingTokenRejected(t *testing.T) {
	m := metrics.New()
	handler := csrfTestHandler(t, "tok-123", m)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/admin/password"))

	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Invalid CSRF token", body["error"])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CsrfRejections))
}

func TestCsrf_WrongTokenRejected(t *testing.T) {
	m := metrics.New()
	handler := csrfTestHandler(t, "tok-123", m)

	r := authedRequest(http.MethodDelete, "/api/admin/sessions")
	r.Header.Set("X-CSRF-Token", "tok-456")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CsrfRejections))
}

func TestCsrf_SafeMethodsExempt(t *testing.T) {
	handler := csrfTestHandler(t, "tok-123", nil)

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, authedRequest(method, "/api/admin/sessions"))
		assert.Equal(t, http.StatusOK, rec.Code, method)
	}
}

func TestCsrf_NoIdentityIsUnauthorized(t *testing.T) {
	handler := csrfTestHandler(t, "tok-123", nil)

	r := httptest.NewRequest(http.MethodPost, "/api/admin/password", nil)
	r.Header.Set("X-CSRF-Token", "tok-123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
