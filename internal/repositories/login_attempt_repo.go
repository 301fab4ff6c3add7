package repositories

import (
	"context"
	"time"

	"github.com/gatehouse/gatehouse/internal/database"
	"github.com/gatehouse/gatehouse/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Record inserts an attempt row. Called unconditionally on every credential
// check outcome, including while already locked out, to extend the evidence
// trail.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	attempt.ID = uuid.New().String()
	if attempt.AttemptTime.IsZero() {
		attempt.AttemptTime = time.Now()
	}

	query := `
		INSERT INTO login_attempts (id, username, ip_address, user_agent, attempt_time, success, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID,
		attempt.Username,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.AttemptTime,
		attempt.Success,
		attempt.FailureReason,
	)
	return database.MapPostgresError(err)
}

// CountFailedByUsername counts failed attempts for an account within the window.
func (r *LoginAttemptRepository) CountFailedByUsername(ctx context.Context, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE username = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, username, since).Scan(&count)
	return count, err
}

// CountFailedByIP counts failed attempts from an IP within the window.
func (r *LoginAttemptRepository) CountFailedByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	return count, err
}

// LastFailureByUsername returns the most recent failure time for an account,
// or nil when there is none in the window.
func (r *LoginAttemptRepository) LastFailureByUsername(ctx context.Context, username string, since time.Time) (*time.Time, error) {
	query := `
		SELECT attempt_time FROM login_attempts
		WHERE username = $1 AND success = false AND attempt_time >= $2
		ORDER BY attempt_time DESC
		LIMIT 1
	`

	var failureTime time.Time
	err := r.db.Pool.QueryRow(ctx, query, username, since).Scan(&failureTime)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &failureTime, nil
}

// LastFailureByIP returns the most recent failure time for an IP.
func (r *LoginAttemptRepository) LastFailureByIP(ctx context.Context, ipAddress string, since time.Time) (*time.Time, error) {
	query := `
		SELECT attempt_time FROM login_attempts
		WHERE ip_address = $1 AND success = false AND attempt_time >= $2
		ORDER BY attempt_time DESC
		LIMIT 1
	`

	var failureTime time.Time
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, since).Scan(&failureTime)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &failureTime, nil
}

// DeleteOlderThan prunes attempts past the retention horizon.
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM login_attempts WHERE attempt_time < $1`

	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
