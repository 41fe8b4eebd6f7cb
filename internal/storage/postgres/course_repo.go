package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/lecture-pipeline/internal/pipeline/models"
)

type CourseRepo struct {
	db *sqlx.DB
}

func NewCourseRepo(db *sqlx.DB) *CourseRepo {
	return &CourseRepo{db: db}
}

func (r *CourseRepo) ByCode(ctx context.Context, code string) (*models.Course, error) {
	const q = `
		SELECT id, code, title
		FROM courses
		WHERE code = $1
	`

	var c models.Course
	if err := r.db.GetContext(ctx, &c, q, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("course by code: %w", err)
	}

	return &c, nil
}
