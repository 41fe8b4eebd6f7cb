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

type JobRepo struct {
	db    *sqlx.DB
	lease time.Duration
}

// NewJobRepo builds a job repository. lease bounds how long an in_progress
// job may sit untouched before FetchPending offers it again: without it, a
// worker crash mid-job would strand the job in in_progress forever.
func NewJobRepo(db *sqlx.DB, lease time.Duration) *JobRepo {
	return &JobRepo{db: db, lease: lease}
}

func (r *JobRepo) FetchPending(ctx context.Context, limit int) ([]models.Job, error) {
	const q = `
		SELECT id, video_url, file_name, instructor_name, course_code, status, created_at, updated_at
		FROM jobs
		WHERE status = $1
		   OR (status = $2 AND updated_at < $3)
		ORDER BY created_at ASC
		LIMIT $4
	`

	cutoff := time.Now().Add(-r.lease)
	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, q,
		models.PendingStatus, models.InProgressStatus, cutoff, limit,
	); err != nil {
		return nil, fmt.Errorf("jobs fetch pending: %w", err)
	}

	return jobs, nil
}

func (r *JobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Job, error) {
	const q = `
		UPDATE jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, video_url, file_name, instructor_name, course_code, status, created_at, updated_at
	`

	var j models.Job
	if err := r.db.GetContext(ctx, &j, q, id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("jobs update status: %w", err)
	}

	return &j, nil
}
