package services

import (
	"context"
	"log/slog"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/models"
	pkglogger "github.com/gatehouse/gatehouse/pkg/logger"
)

// MfaUserStore defines the user operations MFA enrollment needs
type MfaUserStore interface {
	GetByID(ctx context.Context, id string) (*models.AdminUser, error)
	SetMfa(ctx context.Context, id string, secret, nonce []byte, enabled bool) error
	EnableMfa(ctx context.Context, id string) error
}

// MfaService handles TOTP enrollment for admins. Enrollment is two-step:
// Setup stores the (encrypted) secret disabled, Enable flips it on only
// after the admin has proven they can produce a valid code.
type MfaService struct {
	users  MfaUserStore
	totp   *auth.TOTPManager
	logger *slog.Logger
	audit  *pkglogger.AuditLogger
}

func NewMfaService(users MfaUserStore, totp *auth.TOTPManager, logger *slog.Logger, audit *pkglogger.AuditLogger) *MfaService {
	return &MfaService{
		users:  users,
		totp:   totp,
		logger: logger,
		audit:  audit,
	}
}

// Enabled reports whether MFA enrollment is configured at all.
func (s *MfaService) Enabled() bool {
	return s.totp != nil
}

// SetupResult carries the enrollment material returned to the admin once.
type SetupResult struct {
	OtpauthURL string
	QrDataURL  string
}

// Setup generates and stores a fresh secret for the caller, disabled until
// confirmed. Re-running setup replaces any prior unconfirmed secret.
func (s *MfaService) Setup(ctx context.Context, user *models.AdminUser) (*SetupResult, error) {
	if s.totp == nil {
		return nil, models.ErrBadRequest
	}

	secret, nonce, otpauthURL, qrDataURL, err := s.totp.GenerateSecretWithQR(user.Username)
	if err != nil {
		s.logger.Error("failed to generate totp secret", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.users.SetMfa(ctx, user.ID, secret, nonce, false); err != nil {
		s.logger.Error("failed to store totp secret", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAccountAction("mfa_setup_started", user.ID, "", nil)

	return &SetupResult{OtpauthURL: otpauthURL, QrDataURL: qrDataURL}, nil
}

// Enable confirms enrollment with a valid code and turns MFA on.
func (s *MfaService) Enable(ctx context.Context, userID, code string) error {
	if s.totp == nil {
		return models.ErrBadRequest
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.TotpSecret == nil {
		return models.ErrBadRequest
	}

	valid, err := s.totp.Validate(user.TotpSecret, user.TotpNonce, code)
	if err != nil {
		s.logger.Error("totp validation failed", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !valid {
		return models.ErrMfaCodeInvalid
	}

	if err := s.users.EnableMfa(ctx, userID); err != nil {
		return err
	}

	s.audit.LogAccountAction("mfa_enabled", userID, "", nil)
	return nil
}
