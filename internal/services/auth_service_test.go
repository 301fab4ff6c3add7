package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/models"
	pkgauth "github.com/gatehouse/gatehouse/pkg/auth"
	pkglogger "github.com/gatehouse/gatehouse/pkg/logger"
)

type fakeUserStore struct {
	users           map[string]*models.AdminUser // keyed by username
	byUsernameCalls int
}

func (f *fakeUserStore) GetByUsername(_ context.Context, username string) (*models.AdminUser, error) {
	f.byUsernameCalls++
	if u, ok := f.users[username]; ok {
		return u, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (*models.AdminUser, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, id, passwordHash string) (*models.AdminUser, error) {
	for _, u := range f.users {
		if u.ID == id {
			updated := *u
			updated.PasswordHash = passwordHash
			updated.TokenVersion++
			updated.ForcePasswordChange = false
			f.users[u.Username] = &updated
			return &updated, nil
		}
	}
	return nil, models.ErrNotFound
}

type fakeLockout struct {
	state     LockoutState
	failures  []string
	successes int
}

func (f *fakeLockout) CheckLockout(_ context.Context, _, _ string) (*LockoutState, error) {
	state := f.state
	return &state, nil
}

func (f *fakeLockout) RecordFailure(_ context.Context, _, _, _, reason string) error {
	f.failures = append(f.failures, reason)
	return nil
}

func (f *fakeLockout) RecordSuccess(_ context.Context, _, _, _ string) error {
	f.successes++
	return nil
}

type fakeSessionManager struct {
	established int
	revoked     []string
}

func (f *fakeSessionManager) Establish(_ context.Context, user *models.AdminUser, ip, userAgent, securityLevel string) (*LoginArtifacts, error) {
	f.established++
	return &LoginArtifacts{
		Session: &models.Session{
			ID:            "session-1",
			UserID:        user.ID,
			ExpiresAt:     time.Now().Add(2 * time.Hour),
			IPAddress:     ip,
			UserAgent:     userAgent,
			SecurityLevel: securityLevel,
		},
		Token:     "signed-token",
		CsrfToken: "csrf-token",
	}, nil
}

func (f *fakeSessionManager) Revoke(_ context.Context, sessionID string) error {
	f.revoked = append(f.revoked, sessionID)
	return nil
}

func hashForTest(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestAuthService(users *fakeUserStore, lockout *fakeLockout, sessions *fakeSessionManager) *AuthService {
	tm := auth.NewTokenManager("test-secret-at-least-sixteen", 24*time.Hour, 5*time.Minute)
	timing := auth.NewTimingDelay(auth.TimingConfig{})
	logger := discardLogger()

	return NewAuthService(users, lockout, sessions, tm, nil, timing, logger, pkglogger.NewAuditLogger(logger), nil)
}

func TestLogin_Success(t *testing.T) {
	users := &fakeUserStore{users: map[string]*models.AdminUser{
		"webmaster": {ID: "u1", Username: "webmaster", PasswordHash: hashForTest(t, "correct horse battery")},
	}}
	lockout := &fakeLockout{}
	sessions := &fakeSessionManager{}
	svc := newTestAuthService(users, lockout, sessions)

	result, err := svc.Login(context.Background(), "webmaster", "correct horse battery", "203.0.113.7", "curl")
	require.NoError(t, err)

	assert.False(t, result.MfaRequired)
	require.NotNil(t, result.Artifacts)
	assert.Equal(t, "signed-token", result.Artifacts.Token)
	assert.Equal(t, models.SecurityLevelPassword, result.Artifacts.Session.SecurityLevel)
	assert.Equal(t, 1, lockout.successes)
	assert.Equal(t, 1, sessions.established)
}

func TestLogin_UnknownUsernameAndWrongPasswordAreIndistinguishable(t *testing.T) {
	users := &fakeUserStore{users: map[string]*models.AdminUser{
		"webmaster": {ID: "u1", Username: "webmaster", PasswordHash: hashForTest(t, "correct horse battery")},
	}}
	lockout := &fakeLockout{}
	svc := newTestAuthService(users, lockout, &fakeSessionManager{})

	_, errUnknown := svc.Login(context.Background(), "nobody", "whatever", "203.0.113.7", "curl")
	_, errWrongPw := svc.Login(context.Background(), "webmaster", "wrong", "203.0.113.7", "curl")

	assert.ErrorIs(t, errUnknown, models.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrongPw, models.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrongPw.Error())
	assert.Len(t, lockout.failures, 2)
}

func TestLogin_LockedSkipsCredentialStore(t *testing.T) {
	users := &fakeUserStore{users: map[string]*models.AdminUser{}}
	lockout := &fakeLockout{state: LockoutState{
		Locked:      true,
		Scope:       "account",
		RetryAfter:  5 * time.Minute,
		LockedUntil: time.Now().Add(5 * time.Minute),
	}}
	svc := newTestAuthService(users, lockout, &fakeSessionManager{})

	_, err := svc.Login(context.Background(), "webmaster", "anything", "203.0.113.7", "curl")

	var rateLimitErr *models.RateLimitError
	require.ErrorAs(t, err, &rateLimitErr)
	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.Equal(t, "account", rateLimitErr.Scope)
	assert.Zero(t, users.byUsernameCalls, "credential store must not be consulted while locked")
}

func TestLogin_EmptyCredentialsRejected(t *testing.T) {
	svc := newTestAuthService(&fakeUserStore{}, &fakeLockout{}, &fakeSessionManager{})

	_, err := svc.Login(context.Background(), "", "", "203.0.113.7", "curl")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestLogin_MfaEnabledReturnsPendingToken(t *testing.T) {
	users := &fakeUserStore{users: map[string]*models.AdminUser{
		"webmaster": {
			ID:           "u1",
			Username:     "webmaster",
			PasswordHash: hashForTest(t, "correct horse battery"),
			MfaEnabled:   true,
		},
	}}
	sessions := &fakeSessionManager{}
	svc := newTestAuthService(users, &fakeLockout{}, sessions)

	result, err := svc.Login(context.Background(), "webmaster", "correct horse battery", "203.0.113.7", "curl")
	require.NoError(t, err)

	assert.True(t, result.MfaRequired)
	assert.NotEmpty(t, result.MfaToken)
	assert.Nil(t, result.Artifacts)
	assert.Zero(t, sessions.established, "no session until the second factor passes")

	tm := auth.NewTokenManager("test-secret-at-least-sixteen", 24*time.Hour, 5*time.Minute)
	claims, err := tm.VerifyToken(result.MfaToken)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeMfa, claims.Type)
	assert.Equal(t, "u1", claims.UserID)
}

func TestCompleteMfa_RejectsSessionToken(t *testing.T) {
	users := &fakeUserStore{users: map[string]*models.AdminUser{
		"webmaster": {ID: "u1", Username: "webmaster", MfaEnabled: true},
	}}
	svc := newTestAuthService(users, &fakeLockout{}, &fakeSessionManager{})

	tm := auth.NewTokenManager("test-secret-at-least-sixteen", 24*time.Hour, 5*time.Minute)
	sessionToken, err := tm.IssueSessionToken(users.users["webmaster"], "session-1")
	require.NoError(t, err)

	_, err = svc.CompleteMfa(context.Background(), sessionToken, "123456", "203.0.113.7", "curl")
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestCompleteMfa_BadCodeCountsTowardLockout(t *testing.T) {
	key := make([]byte, 32)
	totp, err := auth.NewTOTPManager(key, "Gatehouse Test")
	require.NoError(t, err)

	secret, nonce, _, _, err := totp.GenerateSecretWithQR("webmaster")
	require.NoError(t, err)

	user := &models.AdminUser{
		ID:         "u1",
		Username:   "webmaster",
		MfaEnabled: true,
		TotpSecret: secret,
		TotpNonce:  nonce,
	}
	users := &fakeUserStore{users: map[string]*models.AdminUser{"webmaster": user}}
	lockout := &fakeLockout{}
	sessions := &fakeSessionManager{}

	tm := auth.NewTokenManager("test-secret-at-least-sixteen", 24*time.Hour, 5*time.Minute)
	logger := discardLogger()
	svc := NewAuthService(users, lockout, sessions, tm, totp, auth.NewTimingDelay(auth.TimingConfig{}), logger, pkglogger.NewAuditLogger(logger), nil)

	mfaToken, err := tm.IssueMfaToken(user)
	require.NoError(t, err)

	_, err = svc.CompleteMfa(context.Background(), mfaToken, "000000", "203.0.113.7", "curl")
	assert.ErrorIs(t, err, models.ErrMfaCodeInvalid)
	assert.Equal(t, []string{"bad_mfa_code"}, lockout.failures)
	assert.Zero(t, sessions.established)
}

func TestLogout_RevokesSession(t *testing.T) {
	sessions := &fakeSessionManager{}
	svc := newTestAuthService(&fakeUserStore{}, &fakeLockout{}, sessions)

	identity := &auth.Identity{
		User:    &models.AdminUser{ID: "u1", Username: "webmaster"},
		Session: &models.Session{ID: "session-1", UserID: "u1"},
	}
	require.NoError(t, svc.Logout(context.Background(), identity))
	assert.Equal(t, []string{"session-1"}, sessions.revoked)
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	user := &models.AdminUser{ID: "u1", Username: "webmaster", PasswordHash: hashForTest(t, "old password 123")}
	users := &fakeUserStore{users: map[string]*models.AdminUser{"webmaster": user}}
	svc := newTestAuthService(users, &fakeLockout{}, &fakeSessionManager{})

	identity := &auth.Identity{User: user, Session: &models.Session{ID: "session-1", UserID: "u1"}}
	_, err := svc.ChangePassword(context.Background(), identity, "not the password", "Str0nger-Passphrase!", "203.0.113.7", "curl")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestChangePassword_PolicyRejected(t *testing.T) {
	user := &models.AdminUser{ID: "u1", Username: "webmaster", PasswordHash: hashForTest(t, "old password 123")}
	users := &fakeUserStore{users: map[string]*models.AdminUser{"webmaster": user}}
	svc := newTestAuthService(users, &fakeLockout{}, &fakeSessionManager{})

	identity := &auth.Identity{User: user, Session: &models.Session{ID: "session-1", UserID: "u1"}}
	_, err := svc.ChangePassword(context.Background(), identity, "old password 123", "short", "203.0.113.7", "curl")

	var pve *pkgauth.PasswordValidationError
	assert.ErrorAs(t, err, &pve)
}

func TestChangePassword_RotatesSessionAndBumpsVersion(t *testing.T) {
	user := &models.AdminUser{ID: "u1", Username: "webmaster", PasswordHash: hashForTest(t, "old password 123"), TokenVersion: 3}
	users := &fakeUserStore{users: map[string]*models.AdminUser{"webmaster": user}}
	sessions := &fakeSessionManager{}
	svc := newTestAuthService(users, &fakeLockout{}, sessions)

	identity := &auth.Identity{User: user, Session: &models.Session{ID: "session-1", UserID: "u1", SecurityLevel: models.SecurityLevelPassword}}
	result, err := svc.ChangePassword(context.Background(), identity, "old password 123", "Str0nger-Passphrase!", "203.0.113.7", "curl")
	require.NoError(t, err)

	assert.Equal(t, []string{"session-1"}, sessions.revoked)
	assert.Equal(t, 1, sessions.established)
	assert.Equal(t, 4, result.User.TokenVersion)
	assert.False(t, result.User.ForcePasswordChange)
}
