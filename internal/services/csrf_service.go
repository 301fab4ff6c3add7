package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gatehouse/gatehouse/internal/models"
)

// CsrfRepository defines the storage operations for per-session CSRF tokens
type CsrfRepository interface {
	Upsert(ctx context.Context, sessionID, token string) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.CsrfToken, error)
}

// CsrfService issues and validates CSRF tokens bound to a session. Tokens
// are reusable for the session's lifetime and rotate on re-issue. State is
// DB-backed so any handler instance can validate any session's token.
type CsrfService struct {
	repo   CsrfRepository
	logger *slog.Logger
}

func NewCsrfService(repo CsrfRepository, logger *slog.Logger) *CsrfService {
	return &CsrfService{
		repo:   repo,
		logger: logger,
	}
}

// GenerateCsrfToken returns 32 random bytes hex-encoded.
func GenerateCsrfToken() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// Issue rotates (or creates) the token for a session and returns it.
func (s *CsrfService) Issue(ctx context.Context, sessionID string) (string, error) {
	token, err := GenerateCsrfToken()
	if err != nil {
		return "", err
	}

	if err := s.repo.Upsert(ctx, sessionID, token); err != nil {
		s.logger.Error("failed to store csrf token", slog.Any("error", err))
		return "", err
	}

	return token, nil
}

// Get returns the token currently bound to the session without rotating it.
func (s *CsrfService) Get(ctx context.Context, sessionID string) (string, error) {
	stored, err := s.repo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return stored.Token, nil
}

// Validate accepts a supplied token only when it matches the one on record
// for this exact session id. Comparison is constant time.
func (s *CsrfService) Validate(ctx context.Context, sessionID, suppliedToken string) (bool, error) {
	if suppliedToken == "" {
		return false, nil
	}

	stored, err := s.repo.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	return subtle.ConstantTimeCompare([]byte(stored.Token), []byte(suppliedToken)) == 1, nil
}
