package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/metrics"
	"github.com/gatehouse/gatehouse/internal/models"
	pkgauth "github.com/gatehouse/gatehouse/pkg/auth"
	pkglogger "github.com/gatehouse/gatehouse/pkg/logger"
)

// UserStore defines the Credential Store operations
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	GetByID(ctx context.Context, id string) (*models.AdminUser, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) (*models.AdminUser, error)
}

// LockoutChecker defines the Lockout Tracker operations the authenticator uses
type LockoutChecker interface {
	CheckLockout(ctx context.Context, username, ip string) (*LockoutState, error)
	RecordFailure(ctx context.Context, username, ip, userAgent, reason string) error
	RecordSuccess(ctx context.Context, username, ip, userAgent string) error
}

// SessionManager defines the session operations the authenticator uses
type SessionManager interface {
	Establish(ctx context.Context, user *models.AdminUser, ip, userAgent, securityLevel string) (*LoginArtifacts, error)
	Revoke(ctx context.Context, sessionID string) error
}

// LoginResult is the outcome of a successful (or MFA-pending) login.
type LoginResult struct {
	MfaRequired bool
	MfaToken    string
	User        *models.AdminUser
	Artifacts   *LoginArtifacts
}

// AuthService is the Login Authenticator. The flow is strictly ordered:
// lockout check (never touching the credential store while locked), then
// credential check (generic failure either way), then session issuance.
type AuthService struct {
	users   UserStore
	lockout LockoutChecker
	session SessionManager
	tm      *auth.TokenManager
	totp    *auth.TOTPManager // nil when MFA setup is not configured
	timing  *auth.TimingDelay
	logger  *slog.Logger
	audit   *pkglogger.AuditLogger
	metrics *metrics.Metrics
}

func NewAuthService(
	users UserStore,
	lockout LockoutChecker,
	session SessionManager,
	tm *auth.TokenManager,
	totp *auth.TOTPManager,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	m *metrics.Metrics,
) *AuthService {
	return &AuthService{
		users:   users,
		lockout: lockout,
		session: session,
		tm:      tm,
		totp:    totp,
		timing:  timing,
		logger:  logger,
		audit:   audit,
		metrics: m,
	}
}

// Login authenticates an admin and issues session artifacts, or an MFA
// pending token when the account requires a second factor.
func (s *AuthService) Login(ctx context.Context, username, password, ip, userAgent string) (*LoginResult, error) {
	start := time.Now()

	if username == "" || password == "" {
		return nil, models.ErrInvalidCredentials
	}

	// CheckLockout. While locked the credential store is never consulted,
	// so a locked caller cannot learn whether the account exists.
	state, err := s.lockout.CheckLockout(ctx, username, ip)
	if err != nil {
		s.logger.Error("lockout check failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if state.Locked {
		s.countLogin("rate_limited")
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_rejected",
			Username:      username,
			IPAddress:     ip,
			UserAgent:     userAgent,
			Success:       false,
			FailureReason: "rate_limited_" + state.Scope,
		})
		return nil, &models.RateLimitError{
			Scope:       state.Scope,
			RetryAfter:  state.RetryAfter,
			LockedUntil: state.LockedUntil,
		}
	}

	// CheckCredentials. Unknown username and wrong password produce the
	// same signal and, via the timing pad, similar latency.
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.credentialFailure(ctx, start, username, ip, userAgent, "unknown_username")
		}
		s.logger.Error("failed to get user by username", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, s.credentialFailure(ctx, start, username, ip, userAgent, "wrong_password")
	}

	if user.MfaEnabled {
		mfaToken, err := s.tm.IssueMfaToken(user)
		if err != nil {
			s.logger.Error("failed to issue mfa token", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType: "login_mfa_pending",
			UserID:    user.ID,
			Username:  username,
			IPAddress: ip,
			UserAgent: userAgent,
			Success:   true,
		})
		return &LoginResult{MfaRequired: true, MfaToken: mfaToken, User: user}, nil
	}

	return s.issueSession(ctx, user, ip, userAgent, models.SecurityLevelPassword)
}

// CompleteMfa finishes a login that returned MfaRequired.
func (s *AuthService) CompleteMfa(ctx context.Context, mfaToken, code, ip, userAgent string) (*LoginResult, error) {
	start := time.Now()

	claims, err := s.tm.VerifyToken(mfaToken)
	if err != nil || claims.Type != models.TokenTypeMfa {
		return nil, models.ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		return nil, models.ErrInternalServer
	}

	// Wrong codes count toward lockout like any other credential failure.
	state, err := s.lockout.CheckLockout(ctx, user.Username, ip)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	if state.Locked {
		s.countLogin("rate_limited")
		return nil, &models.RateLimitError{
			Scope:       state.Scope,
			RetryAfter:  state.RetryAfter,
			LockedUntil: state.LockedUntil,
		}
	}

	if s.totp == nil || !user.MfaEnabled || user.TotpSecret == nil {
		return nil, models.ErrTokenInvalid
	}

	valid, err := s.totp.Validate(user.TotpSecret, user.TotpNonce, code)
	if err != nil {
		s.logger.Error("totp validation failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !valid {
		_ = s.lockout.RecordFailure(ctx, user.Username, ip, userAgent, "bad_mfa_code")
		s.countLogin("mfa_failed")
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_rejected",
			UserID:        user.ID,
			Username:      user.Username,
			IPAddress:     ip,
			UserAgent:     userAgent,
			Success:       false,
			FailureReason: "bad_mfa_code",
		})
		s.timing.WaitFrom(start, false)
		return nil, models.ErrMfaCodeInvalid
	}

	return s.issueSession(ctx, user, ip, userAgent, models.SecurityLevelMfa)
}

// Logout revokes the current session. Best effort by contract: the handler
// clears the cookie even when this fails.
func (s *AuthService) Logout(ctx context.Context, identity *auth.Identity) error {
	if err := s.session.Revoke(ctx, identity.Session.ID); err != nil {
		s.logger.Error("failed to revoke session on logout",
			slog.String("session_id", identity.Session.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout",
		UserID:    identity.User.ID,
		Username:  identity.User.Username,
		SessionID: identity.Session.ID,
		Success:   true,
	})
	return nil
}

// ChangePassword verifies the current password, applies the policy, writes
// the new hash with a token_version bump (logging every device out), and
// establishes a fresh session for the caller.
func (s *AuthService) ChangePassword(ctx context.Context, identity *auth.Identity, currentPassword, newPassword, ip, userAgent string) (*LoginResult, error) {
	if err := pkgauth.ComparePassword(identity.User.PasswordHash, currentPassword); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.users.UpdatePassword(ctx, identity.User.ID, hash)
	if err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", identity.User.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// The old session's token is version-stale now; drop the row too.
	_ = s.session.Revoke(ctx, identity.Session.ID)

	s.audit.LogAccountAction("password_changed", user.ID, ip, nil)

	return s.issueSession(ctx, user, ip, userAgent, identity.Session.SecurityLevel)
}

// issueSession is the IssueSession state: session row, signed token, and
// CSRF token in one transaction, then the success audit trail.
func (s *AuthService) issueSession(ctx context.Context, user *models.AdminUser, ip, userAgent, securityLevel string) (*LoginResult, error) {
	artifacts, err := s.session.Establish(ctx, user, ip, userAgent, securityLevel)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	_ = s.lockout.RecordSuccess(ctx, user.Username, ip, userAgent)
	s.countLogin("success")
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		Username:  user.Username,
		IPAddress: ip,
		UserAgent: userAgent,
		SessionID: artifacts.Session.ID,
		Success:   true,
	})

	return &LoginResult{User: user, Artifacts: artifacts}, nil
}

// credentialFailure records the attempt, pads timing, and returns the
// generic signal shared by unknown-username and wrong-password.
func (s *AuthService) credentialFailure(ctx context.Context, start time.Time, username, ip, userAgent, reason string) error {
	_ = s.lockout.RecordFailure(ctx, username, ip, userAgent, reason)
	s.countLogin("invalid_credentials")
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_rejected",
		Username:      username,
		IPAddress:     ip,
		UserAgent:     userAgent,
		Success:       false,
		FailureReason: reason,
	})
	s.timing.WaitFrom(start, false)
	return models.ErrInvalidCredentials
}

func (s *AuthService) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	}
}
