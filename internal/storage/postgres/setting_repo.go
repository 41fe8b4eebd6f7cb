package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/lecture-pipeline/internal/pipeline/models"
)

type SettingRepo struct {
	db *sqlx.DB
}

func NewSettingRepo(db *sqlx.DB) *SettingRepo {
	return &SettingRepo{db: db}
}

func (r *SettingRepo) Get(ctx context.Context, key string) (*models.Setting, error) {
	const q = `
		SELECT key, value, updated_at
		FROM settings
		WHERE key = $1
	`

	var s models.Setting
	if err := r.db.GetContext(ctx, &s, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("setting get: %w", err)
	}

	return &s, nil
}

func (r *SettingRepo) Upsert(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("setting upsert: %w", err)
	}
	return nil
}

func (r *SettingRepo) Delete(ctx context.Context, key string) error {
	const q = `
		DELETE FROM settings
		WHERE key = $1
	`

	if _, err := r.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("setting delete: %w", err)
	}
	return nil
}
