package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types
const (
	TokenTypeSession = "session"
	TokenTypeMfa     = "mfa" // pending second factor, cannot pass the guard
)

// SessionClaims is the signed token payload. TokenVersion is snapshotted at
// issue time and must equal the user's current version for the token to be
// accepted.
type SessionClaims struct {
	Type         string `json:"type"`
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id,omitempty"`
	TokenVersion int    `json:"token_version"`
	jwt.RegisteredClaims
}
