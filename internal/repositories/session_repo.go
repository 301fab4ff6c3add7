package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/gatehouse/gatehouse/internal/database"
	"github.com/gatehouse/gatehouse/internal/models"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, user_id, token_hash, expires_at, created_at, last_activity,
	ip_address, user_agent, security_level, device_fingerprint`

// SessionRepository handles database operations for admin sessions
type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(scanner rowScanner) (*models.Session, error) {
	var s models.Session

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.CreatedAt,
		&s.LastActivity, &s.IPAddress, &s.UserAgent, &s.SecurityLevel,
		&s.DeviceFingerprint,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sessions, nil
}

// CreateTx inserts a session inside the login transaction so the client
// never receives a token for a session that was not durably written.
func (r *SessionRepository) CreateTx(ctx context.Context, tx pgx.Tx, s *models.Session) error {
	query := `
		INSERT INTO admin_sessions (id, user_id, token_hash, expires_at, created_at, last_activity,
			ip_address, user_agent, security_level, device_fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := tx.Exec(ctx, query,
		s.ID, s.UserID, s.TokenHash, s.ExpiresAt, s.CreatedAt, s.LastActivity,
		s.IPAddress, s.UserAgent, s.SecurityLevel, s.DeviceFingerprint,
	)
	return database.MapPostgresError(err)
}

// GetByTokenHash looks up a live session. Expired rows are treated as absent
// (lazy expiry); the sweep deletes them later for hygiene.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM admin_sessions
		WHERE token_hash = $1 AND expires_at > now()
	`
	return scanSession(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM admin_sessions WHERE id = $1`
	return scanSession(r.db.Pool.QueryRow(ctx, query, id))
}

// Touch implements sliding renewal: refresh expiry and last_activity.
func (r *SessionRepository) Touch(ctx context.Context, id string, expiresAt, lastActivity time.Time) error {
	query := `UPDATE admin_sessions SET expires_at = $1, last_activity = $2 WHERE id = $3`

	result, err := r.db.Pool.Exec(ctx, query, expiresAt, lastActivity, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM admin_sessions
		WHERE user_id = $1 AND expires_at > now()
		ORDER BY last_activity DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	return scanSessionRows(rows)
}

func (r *SessionRepository) Revoke(ctx context.Context, id string) error {
	query := `DELETE FROM admin_sessions WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// RevokeAllExcept terminates every session of the user but the current one
// and returns how many were removed.
func (r *SessionRepository) RevokeAllExcept(ctx context.Context, userID, currentSessionID string) (int64, error) {
	query := `DELETE FROM admin_sessions WHERE user_id = $1 AND id <> $2`

	result, err := r.db.Pool.Exec(ctx, query, userID, currentSessionID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions past their idle expiry. Hygiene only;
// lookups already filter on expires_at.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM admin_sessions WHERE expires_at <= now()`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
