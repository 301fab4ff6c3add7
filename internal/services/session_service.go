package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/database"
	"github.com/gatehouse/gatehouse/internal/metrics"
	"github.com/gatehouse/gatehouse/internal/models"
	"github.com/gatehouse/gatehouse/internal/repositories"
	pkglogger "github.com/gatehouse/gatehouse/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LoginArtifacts is everything a successful login hands back to the client.
type LoginArtifacts struct {
	Session   *models.Session
	Token     string
	CsrfToken string
}

// SessionService implements the Session Store operations plus the
// transactional issuance of session, token, and CSRF token on login.
type SessionService struct {
	db       *database.DB
	sessions *repositories.SessionRepository
	csrf     *repositories.CsrfRepository
	users    *repositories.UserRepository
	tm       *auth.TokenManager
	config   config.AuthConfig
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
	metrics  *metrics.Metrics
}

func NewSessionService(
	db *database.DB,
	sessions *repositories.SessionRepository,
	csrf *repositories.CsrfRepository,
	users *repositories.UserRepository,
	tm *auth.TokenManager,
	cfg config.AuthConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	m *metrics.Metrics,
) *SessionService {
	return &SessionService{
		db:       db,
		sessions: sessions,
		csrf:     csrf,
		users:    users,
		tm:       tm,
		config:   cfg,
		logger:   logger,
		audit:    audit,
		metrics:  m,
	}
}

// Establish creates the session row, CSRF token, and last_login update in
// one transaction, so the client never receives a token for a session that
// does not durably exist.
func (s *SessionService) Establish(ctx context.Context, user *models.AdminUser, ip, userAgent, securityLevel string) (*LoginArtifacts, error) {
	now := time.Now()
	sessionID := uuid.New().String()

	token, err := s.tm.IssueSessionToken(user, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	csrfToken, err := GenerateCsrfToken()
	if err != nil {
		return nil, err
	}

	fingerprint := deviceFingerprint(ip, userAgent)
	session := &models.Session{
		ID:                sessionID,
		UserID:            user.ID,
		TokenHash:         auth.HashToken(token),
		ExpiresAt:         now.Add(s.config.SessionIdleTimeout),
		CreatedAt:         now,
		LastActivity:      now,
		IPAddress:         ip,
		UserAgent:         userAgent,
		SecurityLevel:     securityLevel,
		DeviceFingerprint: &fingerprint,
	}

	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.sessions.CreateTx(ctx, tx, session); err != nil {
			return err
		}
		if err := s.csrf.UpsertTx(ctx, tx, sessionID, csrfToken); err != nil {
			return err
		}
		return s.users.TouchLoginTx(ctx, tx, user.ID, now)
	})
	if err != nil {
		s.logger.Error("failed to establish session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogSessionAction("session_created", user.ID, sessionID, ip)

	return &LoginArtifacts{
		Session:   session,
		Token:     token,
		CsrfToken: csrfToken,
	}, nil
}

// List returns the caller's live sessions.
func (s *SessionService) List(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.sessions.ListByUser(ctx, userID)
}

// RevokeOwn revokes one of the caller's sessions. Acting on another user's
// session is Forbidden, not NotFound, so the caller learns nothing about
// session ids that are not theirs beyond their existence.
func (s *SessionService) RevokeOwn(ctx context.Context, userID, sessionID string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrSessionNotFound
		}
		return err
	}

	if session.UserID != userID {
		return models.ErrForbidden
	}

	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SessionsRevoked.Inc()
	}
	s.audit.LogSessionAction("session_revoked", userID, sessionID, "")
	return nil
}

// Revoke removes a session unconditionally (logout path).
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID)
}

// RevokeAllExcept terminates every other session of the user and returns the
// count. The revoked sessions fail the guard on their very next request.
func (s *SessionService) RevokeAllExcept(ctx context.Context, userID, currentSessionID string) (int64, error) {
	count, err := s.sessions.RevokeAllExcept(ctx, userID, currentSessionID)
	if err != nil {
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.SessionsRevoked.Add(float64(count))
	}
	s.audit.LogSessionAction("sessions_revoked_all_except", userID, currentSessionID, "")
	return count, nil
}

// deviceFingerprint hashes IP + User-Agent for coarse device identification.
func deviceFingerprint(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + ":" + userAgent))
	return fmt.Sprintf("%x", sum)[:32]
}
