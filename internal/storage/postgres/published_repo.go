package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/lecture-pipeline/internal/pipeline/models"
)

type PublishedVideoRepo struct {
	db *sqlx.DB
}

func NewPublishedVideoRepo(db *sqlx.DB) *PublishedVideoRepo {
	return &PublishedVideoRepo{db: db}
}

func (r *PublishedVideoRepo) Create(ctx context.Context, v *models.PublishedVideo) error {
	const q = `
		INSERT INTO published_videos (id, youtube_id, title, description, url, course_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, q,
		v.ID, v.YoutubeID, v.Title, v.Description, v.URL, v.CourseID, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("published video create: %w", err)
	}
	return nil
}
