package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gatehouse/gatehouse/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager issues and verifies signed session tokens. The payload embeds
// the user's token_version at issue time; the guard compares it against the
// stored user so bumping the version invalidates every outstanding token
// without tracking them individually.
type TokenManager struct {
	secret          string
	sessionLifetime time.Duration // absolute cap baked into exp
	mfaTokenExpiry  time.Duration
}

func NewTokenManager(secret string, sessionLifetime, mfaTokenExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:          secret,
		sessionLifetime: sessionLifetime,
		mfaTokenExpiry:  mfaTokenExpiry,
	}
}

// IssueSessionToken creates a signed token bound to a session.
func (tm *TokenManager) IssueSessionToken(user *models.AdminUser, sessionID string) (string, error) {
	now := time.Now()
	claims := &models.SessionClaims{
		Type:         models.TokenTypeSession,
		UserID:       user.ID,
		SessionID:    sessionID,
		TokenVersion: user.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.sessionLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return tokenString, nil
}

// IssueMfaToken creates the short-lived pending token returned between the
// password step and the code step. It carries no session id and the guard
// rejects it for API access.
func (tm *TokenManager) IssueMfaToken(user *models.AdminUser) (string, error) {
	now := time.Now()
	claims := &models.SessionClaims{
		Type:         models.TokenTypeMfa,
		UserID:       user.ID,
		TokenVersion: user.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.mfaTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign mfa token: %w", err)
	}

	return tokenString, nil
}

// VerifyToken checks signature, structure, and time claims. Failures map to
// ErrTokenInvalid with the category preserved for operators; callers must
// separately compare TokenVersion against the current user (VersionStale is
// a store comparison, not a signature property).
func (tm *TokenManager) VerifyToken(tokenString string) (*models.SessionClaims, error) {
	claims := &models.SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: expired", models.ErrTokenInvalid)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: signature invalid", models.ErrTokenInvalid)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: malformed", models.ErrTokenInvalid)
		default:
			return nil, fmt.Errorf("%w: %v", models.ErrTokenInvalid, err)
		}
	}

	if !token.Valid {
		return nil, models.ErrTokenInvalid
	}

	if claims.Type == "" || claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing claims", models.ErrTokenInvalid)
	}

	return claims, nil
}

// HashToken returns the hex SHA-256 used for session lookup; raw tokens are
// never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
