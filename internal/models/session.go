package models

import "time"

// Session security levels, recorded per session at issuance
const (
	SecurityLevelPassword = "password"
	SecurityLevelMfa      = "mfa"
)

// Session is the durable counterpart to a signed token. The raw token is
// never stored; lookup goes through its SHA-256 hash. A session row existing
// and being unexpired is required in addition to a cryptographically valid
// token.
type Session struct {
	ID                string
	UserID            string
	TokenHash         string
	ExpiresAt         time.Time // sliding idle expiry, renewed by Touch
	CreatedAt         time.Time
	LastActivity      time.Time
	IPAddress         string
	UserAgent         string
	SecurityLevel     string
	DeviceFingerprint *string
}

// IsExpired reports whether the sliding idle expiry has passed.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
