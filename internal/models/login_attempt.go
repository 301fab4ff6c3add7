package models

import "time"

// LoginAttempt is an immutable audit row recorded for every credential
// check. Failed rows drive lockout computation via windowed counts; rows are
// never mutated and only removed by the retention sweep.
type LoginAttempt struct {
	ID            string
	Username      string
	IPAddress     string
	UserAgent     string
	AttemptTime   time.Time
	Success       bool
	FailureReason *string
}
