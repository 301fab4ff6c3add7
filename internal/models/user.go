package models

import (
	"time"
)

// Admin roles
const (
	RoleAdmin     = "admin"
	RoleWebmaster = "webmaster"
)

// AdminUser is an administrator identity. Provisioning happens outside this
// service; we only mutate the password hash, token version, MFA material,
// and last_login.
type AdminUser struct {
	ID                  string
	Username            string
	PasswordHash        string
	Email               *string
	Role                string // "admin" or "webmaster"
	ForcePasswordChange bool
	TokenVersion        int // bumped to invalidate every outstanding token at once
	MfaEnabled          bool
	TotpSecret          []byte // AES-GCM ciphertext, nil when MFA never set up
	TotpNonce           []byte
	CreatedAt           time.Time
	LastLogin           *time.Time
}
