package models

import "time"

// CsrfToken is bound 1:1 to a session. Re-issuing rotates the value in
// place; a token issued for one session never validates for another.
type CsrfToken struct {
	SessionID string
	Token     string
	CreatedAt time.Time
}
