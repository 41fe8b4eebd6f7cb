package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/romariotrain/lecture-pipeline/internal/pipeline/models"
)

type JobRepository interface {
	// FetchPending returns up to limit jobs ready for processing, in the
	// store's default order. Implementations also return in_progress jobs
	// whose lease has expired, so a crashed worker does not strand them.
	FetchPending(ctx context.Context, limit int) ([]models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Job, error)
}

type CourseRepository interface {
	ByCode(ctx context.Context, code string) (*models.Course, error)
}

type CredentialRepository interface {
	// FetchValid returns the single non-expired credential record, or
	// models.ErrNoCredential.
	FetchValid(ctx context.Context) (*models.Credential, error)
	SaveAccessToken(ctx context.Context, id uuid.UUID, encryptedToken string) error
	// DeleteExpired removes records with expires_at before now and
	// returns how many were deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type SettingRepository interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	Upsert(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type PublishedVideoRepository interface {
	Create(ctx context.Context, v *models.PublishedVideo) error
}
