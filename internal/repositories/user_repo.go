package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/gatehouse/gatehouse/internal/database"
	"github.com/gatehouse/gatehouse/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const adminUserColumns = `id, username, password_hash, email, role, force_password_change,
	token_version, mfa_enabled, totp_secret, totp_nonce, created_at, last_login`

// UserRepository handles database operations for admin users
type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// rowScanner covers pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAdminUser(scanner rowScanner) (*models.AdminUser, error) {
	var user models.AdminUser

	err := scanner.Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Email,
		&user.Role, &user.ForcePasswordChange, &user.TokenVersion,
		&user.MfaEnabled, &user.TotpSecret, &user.TotpNonce,
		&user.CreatedAt, &user.LastLogin,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.AdminUser, error) {
	query := `SELECT ` + adminUserColumns + ` FROM admin_users WHERE id = $1`
	return scanAdminUser(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByUsername does a case-sensitive exact match lookup.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.AdminUser, error) {
	query := `SELECT ` + adminUserColumns + ` FROM admin_users WHERE username = $1`
	return scanAdminUser(r.db.Pool.QueryRow(ctx, query, username))
}

func (r *UserRepository) Create(ctx context.Context, user *models.AdminUser) (*models.AdminUser, error) {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()

	if user.Role == "" {
		user.Role = models.RoleWebmaster
	}

	query := `
		INSERT INTO admin_users (id, username, password_hash, email, role, force_password_change, token_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + adminUserColumns

	return scanAdminUser(r.db.Pool.QueryRow(ctx, query,
		user.ID, user.Username, user.PasswordHash, user.Email,
		user.Role, user.ForcePasswordChange, user.TokenVersion, user.CreatedAt,
	))
}

// TouchLoginTx updates last_login inside the login transaction.
func (r *UserRepository) TouchLoginTx(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	query := `UPDATE admin_users SET last_login = $1 WHERE id = $2`

	result, err := tx.Exec(ctx, query, at, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdatePassword sets a new hash, clears force_password_change, and bumps
// token_version in one statement so every outstanding token goes stale
// atomically with the hash change.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) (*models.AdminUser, error) {
	query := `
		UPDATE admin_users
		SET password_hash = $1, force_password_change = FALSE, token_version = token_version + 1
		WHERE id = $2
		RETURNING ` + adminUserColumns

	return scanAdminUser(r.db.Pool.QueryRow(ctx, query, passwordHash, id))
}

// BumpTokenVersion invalidates every outstanding token for the user.
func (r *UserRepository) BumpTokenVersion(ctx context.Context, id string) (*models.AdminUser, error) {
	query := `
		UPDATE admin_users SET token_version = token_version + 1
		WHERE id = $1
		RETURNING ` + adminUserColumns

	return scanAdminUser(r.db.Pool.QueryRow(ctx, query, id))
}

// SetMfa stores the encrypted TOTP material. Enabled is set separately once
// the admin has confirmed a valid code.
func (r *UserRepository) SetMfa(ctx context.Context, id string, secret, nonce []byte, enabled bool) error {
	query := `
		UPDATE admin_users SET totp_secret = $1, totp_nonce = $2, mfa_enabled = $3
		WHERE id = $4
	`

	result, err := r.db.Pool.Exec(ctx, query, secret, nonce, enabled, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) EnableMfa(ctx context.Context, id string) error {
	query := `UPDATE admin_users SET mfa_enabled = TRUE WHERE id = $1 AND totp_secret IS NOT NULL`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("mfa not set up for user: %w", models.ErrBadRequest)
	}
	return nil
}
