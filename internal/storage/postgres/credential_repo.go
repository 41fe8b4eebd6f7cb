package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/lecture-pipeline/internal/pipeline/models"
)

type CredentialRepo struct {
	db *sqlx.DB
}

func NewCredentialRepo(db *sqlx.DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

func (r *CredentialRepo) FetchValid(ctx context.Context) (*models.Credential, error) {
	const q = `
		SELECT id, access_token, refresh_token, display_name, display_image, expires_at, created_at
		FROM credentials
		WHERE expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`

	var c models.Credential
	if err := r.db.GetContext(ctx, &c, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNoCredential
		}
		return nil, fmt.Errorf("credential fetch valid: %w", err)
	}

	return &c, nil
}

func (r *CredentialRepo) SaveAccessToken(ctx context.Context, id uuid.UUID, encryptedToken string) error {
	const q = `
		UPDATE credentials
		SET access_token = $2
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, q, id, encryptedToken)
	if err != nil {
		return fmt.Errorf("credential save access token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *CredentialRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `
		DELETE FROM credentials
		WHERE expires_at < $1
	`

	res, err := r.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("credential delete expired: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("credential delete expired: rows affected: %w", err)
	}
	return n, nil
}
