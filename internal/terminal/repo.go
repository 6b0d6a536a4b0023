package terminal

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repo persists front-desk terminal registrations and their refresh tokens.
type Repo struct {
	db *sql.DB
}

// NewRepo creates a repo.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Register ensures a terminal record exists for the org.
func (r *Repo) Register(ctx context.Context, orgID, terminalID string) error {
	if orgID == "" || terminalID == "" {
		return errors.New("org id and terminal id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO terminals (org_id, terminal_id)
		VALUES ($1, $2)
		ON CONFLICT (org_id, terminal_id) DO NOTHING
	`, orgID, terminalID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repo) SaveRefreshToken(ctx context.Context, orgID, terminalID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (org_id, terminal_id, token, expires_at)
		VALUES ($1, $2, $3, $4)
	`, orgID, terminalID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repo) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}
