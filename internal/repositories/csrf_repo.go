package repositories

import (
	"context"
	"time"

	"github.com/gatehouse/gatehouse/internal/database"
	"github.com/gatehouse/gatehouse/internal/models"
	"github.com/jackc/pgx/v5"
)

// CsrfRepository handles database operations for per-session CSRF tokens
type CsrfRepository struct {
	db *database.DB
}

func NewCsrfRepository(db *database.DB) *CsrfRepository {
	return &CsrfRepository{db: db}
}

const csrfUpsertQuery = `
	INSERT INTO csrf_tokens (session_id, token, created_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (session_id) DO UPDATE SET token = EXCLUDED.token, created_at = EXCLUDED.created_at
`

// Upsert writes or rotates the token for a session.
func (r *CsrfRepository) Upsert(ctx context.Context, sessionID, token string) error {
	_, err := r.db.Pool.Exec(ctx, csrfUpsertQuery, sessionID, token, time.Now())
	return database.MapPostgresError(err)
}

// UpsertTx is the login-transaction variant of Upsert.
func (r *CsrfRepository) UpsertTx(ctx context.Context, tx pgx.Tx, sessionID, token string) error {
	_, err := tx.Exec(ctx, csrfUpsertQuery, sessionID, token, time.Now())
	return database.MapPostgresError(err)
}

// GetBySessionID returns the token currently bound to the session.
func (r *CsrfRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.CsrfToken, error) {
	query := `SELECT session_id, token, created_at FROM csrf_tokens WHERE session_id = $1`

	var t models.CsrfToken
	err := r.db.Pool.QueryRow(ctx, query, sessionID).Scan(&t.SessionID, &t.Token, &t.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &t, nil
}

// DeleteOrphaned removes rows whose session no longer exists. The foreign
// key cascade covers explicit revocation; this catches sessions removed by
// the expiry sweep on older schemas and keeps the table tidy.
func (r *CsrfRepository) DeleteOrphaned(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM csrf_tokens
		WHERE session_id NOT IN (SELECT id FROM admin_sessions)
	`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
