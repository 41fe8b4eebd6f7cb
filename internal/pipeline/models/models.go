package models

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	PendingStatus    Status = "pending"
	InProgressStatus Status = "in_progress"
	CompletedStatus  Status = "completed"
	FailedStatus     Status = "failed"
)

// Job is one lecture video to anonymize and republish.
type Job struct {
	ID             uuid.UUID `db:"id"`
	VideoURL       string    `db:"video_url"`
	FileName       string    `db:"file_name"`
	InstructorName string    `db:"instructor_name"`
	CourseCode     string    `db:"course_code"`
	Status         Status    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

type Course struct {
	ID    uuid.UUID `db:"id"`
	Code  string    `db:"code"`
	Title string    `db:"title"`
}

// Credential is the stored platform session. Access and refresh tokens are
// kept encrypted at rest; repositories return them as stored.
type Credential struct {
	ID           uuid.UUID `db:"id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	DisplayName  string    `db:"display_name"`
	DisplayImage string    `db:"display_image"`
	ExpiresAt    time.Time `db:"expires_at"`
	CreatedAt    time.Time `db:"created_at"`
}

func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

type Setting struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SettingUploadLimitUntil holds an RFC-3339 timestamp until which publishing
// is suspended. It is the only durable backpressure signal.
const SettingUploadLimitUntil = "YOUTUBE_UPLOAD_LIMIT_UNTIL"

// PublishedVideo records a successful upload linked to a course.
type PublishedVideo struct {
	ID          uuid.UUID `db:"id"`
	YoutubeID   string    `db:"youtube_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	URL         string    `db:"url"`
	CourseID    uuid.UUID `db:"course_id"`
	CreatedAt   time.Time `db:"created_at"`
}
