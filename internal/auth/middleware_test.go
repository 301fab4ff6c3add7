package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/models"
)

type fakeUserFetcher struct {
	user *models.AdminUser
}

func (f *fakeUserFetcher) GetByID(_ context.Context, id string) (*models.AdminUser, error) {
	if f.user != nil && f.user.ID == id {
		return f.user, nil
	}
	return nil, models.ErrNotFound
}

type fakeSessionStore struct {
	session *models.Session

	touched       bool
	touchedExpiry time.Time
}

func (f *fakeSessionStore) GetByTokenHash(_ context.Context, tokenHash string) (*models.Session, error) {
	if f.session != nil && f.session.TokenHash == tokenHash {
		return f.session, nil
	}
	return nil, models.ErrSessionNotFound
}

func (f *fakeSessionStore) Touch(_ context.Context, id string, expiresAt, lastActivity time.Time) error {
	f.touched = true
	f.touchedExpiry = expiresAt
	return nil
}

type guardFixture struct {
	guard    *Guard
	tm       *TokenManager
	user     *models.AdminUser
	session  *models.Session
	sessions *fakeSessionStore
	token    string
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()

	tm := NewTokenManager(testSecret, 24*time.Hour, 5*time.Minute)
	user := &models.AdminUser{ID: "u1", Username: "webmaster", Role: models.RoleAdmin, TokenVersion: 2}

	token, err := tm.IssueSessionToken(user, "session-1")
	require.NoError(t, err)

	session := &models.Session{
		ID:            "session-1",
		UserID:        "u1",
		TokenHash:     HashToken(token),
		ExpiresAt:     time.Now().Add(2 * time.Hour),
		LastActivity:  time.Now().Add(-10 * time.Minute),
		SecurityLevel: models.SecurityLevelPassword,
	}

	sessions := &fakeSessionStore{session: session}
	guard := NewGuard(tm, &fakeUserFetcher{user: user}, sessions, GuardConfig{
		IdleTimeout:   2 * time.Hour,
		TouchInterval: 1 * time.Minute,
	}, nil)

	return &guardFixture{guard: guard, tm: tm, user: user, session: session, sessions: sessions, token: token}
}

func (f *guardFixture) serve(t *testing.T, r *http.Request) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()

	var captured *Identity
	handler := f.guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetIdentity(r)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	return rec, captured
}

func requestWithCookie(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/admin/auth", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	return r
}

func TestGuard_ValidCookiePasses(t *testing.T) {
	f := newGuardFixture(t)

	rec, identity := f.serve(t, requestWithCookie(f.token))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, identity)
	assert.Equal(t, "u1", identity.User.ID)
	assert.Equal(t, "session-1", identity.Session.ID)
}

func TestGuard_BearerFallback(t *testing.T) {
	f := newGuardFixture(t)

	r := httptest.NewRequest(http.MethodGet, "/api/admin/auth", nil)
	r.Header.Set("Authorization", "Bearer "+f.token)

	rec, identity := f.serve(t, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, identity)
}

func TestGuard_MissingToken(t *testing.T) {
	f := newGuardFixture(t)

	rec, identity := f.serve(t, httptest.NewRequest(http.MethodGet, "/api/admin/auth", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, identity)
}

func TestGuard_StaleTokenVersion(t *testing.T) {
	f := newGuardFixture(t)

	// Password change bumps the live version; the issued token still
	// carries the old one.
	f.user.TokenVersion = 3

	rec, identity := f.serve(t, requestWithCookie(f.token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, identity)
}

func TestGuard_RevokedSession(t *testing.T) {
	f := newGuardFixture(t)
	f.sessions.session = nil // row deleted = revoked

	rec, identity := f.serve(t, requestWithCookie(f.token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, identity)
}

func TestGuard_ExpiredSessionRow(t *testing.T) {
	f := newGuardFixture(t)
	f.session.ExpiresAt = time.Now().Add(-1 * time.Minute)

	rec, identity := f.serve(t, requestWithCookie(f.token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, identity)
}

func TestGuard_MfaTokenRejected(t *testing.T) {
	f := newGuardFixture(t)

	mfaToken, err := f.tm.IssueMfaToken(f.user)
	require.NoError(t, err)

	rec, _ := f.serve(t, requestWithCookie(mfaToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGuard_SlidingRenewal(t *testing.T) {
	f := newGuardFixture(t)
	f.session.LastActivity = time.Now().Add(-10 * time.Minute)

	rec, _ := f.serve(t, requestWithCookie(f.token))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, f.sessions.touched)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), f.sessions.touchedExpiry, 5*time.Second)
}

func TestGuard_TouchRateLimited(t *testing.T) {
	f := newGuardFixture(t)
	f.session.LastActivity = time.Now().Add(-10 * time.Second) // inside the interval

	rec, _ := f.serve(t, requestWithCookie(f.token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.sessions.touched, "renewal writes are rate limited")
}

func TestGuard_ForcePasswordChangeBlocksMutations(t *testing.T) {
	f := newGuardFixture(t)
	f.user.ForcePasswordChange = true

	post := httptest.NewRequest(http.MethodPost, "/api/admin/sessions", nil)
	post.AddCookie(&http.Cookie{Name: SessionCookieName, Value: f.token})
	rec, _ := f.serve(t, post)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Reads still work so the UI can tell the admin what to do.
	rec, _ = f.serve(t, requestWithCookie(f.token))
	assert.Equal(t, http.StatusOK, rec.Code)

	// And the way out stays open.
	for _, path := range []string{"/api/admin/password", "/api/admin/logout"} {
		r := httptest.NewRequest(http.MethodPost, path, nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: f.token})
		rec, _ = f.serve(t, r)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	admin := httptest.NewRequest(http.MethodGet, "/", nil)
	admin = WithIdentity(admin, &Identity{User: &models.AdminUser{ID: "u1", Role: models.RoleAdmin}})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	webmaster := httptest.NewRequest(http.MethodGet, "/", nil)
	webmaster = WithIdentity(webmaster, &Identity{User: &models.AdminUser{ID: "u2", Role: models.RoleWebmaster}})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, webmaster)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
