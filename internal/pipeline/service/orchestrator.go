// Package service contains the pipeline orchestrator: the single worker
// that claims pending jobs and drives each one through image acquisition,
// video acquisition, remote anonymization and republishing.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	imagesacq "github.com/romariotrain/lecture-pipeline/internal/acquire/images"
	videoacq "github.com/romariotrain/lecture-pipeline/internal/acquire/video"
	"github.com/romariotrain/lecture-pipeline/internal/anonymizer"
	"github.com/romariotrain/lecture-pipeline/internal/pipeline/domain"
	"github.com/romariotrain/lecture-pipeline/internal/pipeline/models"
	"github.com/romariotrain/lecture-pipeline/internal/pipeline/repository"
	"github.com/romariotrain/lecture-pipeline/internal/platform/youtube"
	"github.com/romariotrain/lecture-pipeline/internal/secrets"
)

type OAuthRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

type ImageAcquirer interface {
	AcquireReferenceImages(ctx context.Context, subjectName, outputDir string, maxCount int) (*imagesacq.Result, error)
}

type VideoAcquirer interface {
	AcquireVideo(ctx context.Context, sourceURL, fileName, outputDir string) (*videoacq.Download, error)
}

type Anonymizer interface {
	WaitHealthy(ctx context.Context, maxWait time.Duration) error
	ProcessVideo(ctx context.Context, pr anonymizer.ProcessRequest) (*anonymizer.ProcessResult, error)
}

type Publisher interface {
	SearchExisting(ctx context.Context, accessToken, title string) (*youtube.SearchResult, error)
	UploadWithRetry(ctx context.Context, accessToken, localPath, title, description string, attempts int, base time.Duration) youtube.UploadResult
}

type CourseNotifier interface {
	NotifyCourseUpdated(ctx context.Context, courseCode string) error
}

// Config tunes the orchestrator. Zero values get sane defaults in New.
type Config struct {
	BatchSize          int
	WorkRoot           string
	MaxReferenceImages int
	AnonymizerMaxWait  time.Duration
	UploadAttempts     int
	UploadRetryBase    time.Duration
	SuspendFor         time.Duration
}

type Deps struct {
	Jobs        repository.JobRepository
	Courses     repository.CourseRepository
	Credentials repository.CredentialRepository
	Settings    repository.SettingRepository
	Published   repository.PublishedVideoRepository

	OAuth     OAuthRefresher
	Images    ImageAcquirer
	Video     VideoAcquirer
	Engine    Anonymizer
	Publisher Publisher
	// Notifier is optional: without Kafka the pipeline still works, the
	// LMS pages just refresh on their own schedule.
	Notifier CourseNotifier

	Cipher *secrets.Cipher
	Config Config
	Logger zerolog.Logger
}

type Orchestrator struct {
	jobs        repository.JobRepository
	courses     repository.CourseRepository
	credentials repository.CredentialRepository
	settings    repository.SettingRepository
	published   repository.PublishedVideoRepository

	oauth     OAuthRefresher
	images    ImageAcquirer
	video     VideoAcquirer
	engine    Anonymizer
	publisher Publisher
	notifier  CourseNotifier

	cipher *secrets.Cipher
	cfg    Config
	logger zerolog.Logger

	clock func() time.Time
	idGen func() uuid.UUID
}

func New(d Deps) (*Orchestrator, error) {
	if d.Jobs == nil || d.Courses == nil || d.Credentials == nil || d.Settings == nil || d.Published == nil {
		return nil, fmt.Errorf("all repositories are required")
	}
	if d.OAuth == nil || d.Images == nil || d.Video == nil || d.Engine == nil || d.Publisher == nil {
		return nil, fmt.Errorf("all collaborators are required")
	}
	if d.Cipher == nil {
		return nil, fmt.Errorf("cipher is required")
	}
	if d.Config.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}

	cfg := d.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.MaxReferenceImages <= 0 {
		cfg.MaxReferenceImages = 15
	}
	if cfg.AnonymizerMaxWait <= 0 {
		cfg.AnonymizerMaxWait = 2 * time.Minute
	}
	if cfg.UploadAttempts <= 0 {
		cfg.UploadAttempts = 3
	}
	if cfg.UploadRetryBase <= 0 {
		cfg.UploadRetryBase = 10 * time.Second
	}
	if cfg.SuspendFor <= 0 {
		cfg.SuspendFor = 24 * time.Hour
	}

	return &Orchestrator{
		jobs:        d.Jobs,
		courses:     d.Courses,
		credentials: d.Credentials,
		settings:    d.Settings,
		published:   d.Published,
		oauth:       d.OAuth,
		images:      d.Images,
		video:       d.Video,
		engine:      d.Engine,
		publisher:   d.Publisher,
		notifier:    d.Notifier,
		cipher:      d.Cipher,
		cfg:         cfg,
		logger:      d.Logger.With().Str("component", "orchestrator").Logger(),
		clock:       time.Now,
		idGen:       uuid.New,
	}, nil
}

// Start drives RunCycle on the given interval until the context is
// cancelled. One cycle runs immediately; a failed cycle is logged and the
// loop keeps going.
func (o *Orchestrator) Start(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info().Dur("interval", interval).Int("batch_size", o.cfg.BatchSize).Msg("orchestrator started")

	if err := o.RunCycle(ctx); err != nil {
		o.logger.Error().Err(err).Msg("cycle failed")
	}

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Err(ctx.Err()).Msg("orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := o.RunCycle(ctx); err != nil {
				o.logger.Error().Err(err).Msg("cycle failed")
			}
		}
	}
}

// RunCycle processes one batch of pending jobs. Cycle-level failures (active
// suspension, no usable credential) change no job state; they simply wait
// for the next interval.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	suspended, err := o.checkSuspension(ctx)
	if err != nil {
		return fmt.Errorf("check suspension: %w", err)
	}
	if suspended {
		return nil
	}

	jobs, err := o.jobs.FetchPending(ctx, o.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch pending: %w", err)
	}
	if len(jobs) == 0 {
		o.logger.Debug().Msg("no pending jobs")
		return nil
	}

	accessToken, err := o.refreshCredentials(ctx)
	if err != nil {
		// Transient by definition: nothing is marked failed, the whole
		// batch is retried next cycle with fresh credentials.
		return fmt.Errorf("refresh credentials: %w", err)
	}

	o.logger.Info().Int("count", len(jobs)).Msg("processing batch")

	touched := make(map[string]struct{})
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}

		outcome := o.processJob(ctx, &jobs[i], accessToken)
		if outcome.courseTouched {
			touched[jobs[i].CourseCode] = struct{}{}
		}
		if outcome.suspend {
			// Quota is account-wide: every further upload in this batch
			// would fail the same way after paying for scrape, download
			// and processing. Stop here.
			o.logger.Warn().Msg("upload quota exhausted, aborting batch")
			break
		}
	}

	o.notifyCourses(ctx, touched)
	return nil
}

type jobOutcome struct {
	courseTouched bool
	suspend       bool
}

func (o *Orchestrator) processJob(ctx context.Context, job *models.Job, accessToken string) jobOutcome {
	logger := o.logger.With().
		Str("job_id", job.ID.String()).
		Str("file_name", job.FileName).
		Str("course_code", job.CourseCode).
		Logger()

	if err := o.setStatus(ctx, job, models.InProgressStatus); err != nil {
		logger.Error().Err(err).Msg("claim failed")
		return jobOutcome{}
	}

	course, err := o.courses.ByCode(ctx, job.CourseCode)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			o.failJob(ctx, job, logger, "unknown course")
		} else {
			o.failJob(ctx, job, logger, fmt.Sprintf("course lookup: %v", err))
		}
		return jobOutcome{}
	}

	// Idempotency check before the expensive stages: a previous attempt may
	// have published the video and crashed before recording the status.
	existing, err := o.publisher.SearchExisting(ctx, accessToken, job.FileName)
	if err != nil {
		o.failJob(ctx, job, logger, fmt.Sprintf("search existing uploads: %v", err))
		return jobOutcome{courseTouched: true}
	}
	if existing.Exists {
		match := existing.Matches[0]
		logger.Info().Str("youtube_id", match.ID).Msg("already published, skipping processing")

		if err := o.recordPublished(ctx, match, course.ID); err != nil {
			o.failJob(ctx, job, logger, fmt.Sprintf("record published video: %v", err))
			return jobOutcome{courseTouched: true}
		}
		o.completeJob(ctx, job, logger)
		return jobOutcome{courseTouched: true}
	}

	wp := NewWorkingPaths(o.cfg.WorkRoot, job.ID.String(), job.FileName)
	if err := wp.Create(); err != nil {
		o.failJob(ctx, job, logger, fmt.Sprintf("working dir: %v", err))
		return jobOutcome{courseTouched: true}
	}
	defer func() {
		// Cleanup runs on every exit path: large media must never outlive
		// the job that produced it.
		if err := wp.Remove(); err != nil {
			logger.Error().Err(err).Str("path", wp.Root).Msg("working dir cleanup failed")
		}
	}()

	imgResult, err := o.images.AcquireReferenceImages(ctx, job.InstructorName, wp.ImagesDir, o.cfg.MaxReferenceImages)
	if err != nil {
		o.failJob(ctx, job, logger, fmt.Sprintf("acquire reference images: %v", err))
		return jobOutcome{courseTouched: true}
	}
	if imgResult.Count == 0 {
		o.failJob(ctx, job, logger, "no reference images found for instructor")
		return jobOutcome{courseTouched: true}
	}
	logger.Info().Int("images", imgResult.Count).Msg("reference images ready")

	download, err := o.video.AcquireVideo(ctx, job.VideoURL, job.FileName, wp.Root)
	if err != nil {
		o.failJob(ctx, job, logger, fmt.Sprintf("acquire video: %v", err))
		return jobOutcome{courseTouched: true}
	}
	logger.Info().Int64("bytes", download.Size).Msg("source video ready")

	if err := o.engine.WaitHealthy(ctx, o.cfg.AnonymizerMaxWait); err != nil {
		o.failJob(ctx, job, logger, fmt.Sprintf("engine not ready: %v", err))
		return jobOutcome{courseTouched: true}
	}

	processed, err := o.engine.ProcessVideo(ctx, anonymizer.ProcessRequest{
		JobID:                 job.ID.String(),
		VideoPath:             download.LocalPath,
		TargetPersonImagesDir: wp.ImagesDir,
		OutputPath:            wp.OutputVideo,
	})
	if err != nil {
		o.failJob(ctx, job, logger, fmt.Sprintf("anonymization: %v", err))
		return jobOutcome{courseTouched: true}
	}
	logger.Info().Str("output_path", processed.OutputPath).Msg("video processed")

	description := fmt.Sprintf("Lecture recorded by %s for course %s. Faces of other participants have been blurred.",
		job.InstructorName, job.CourseCode)

	upload := o.publisher.UploadWithRetry(ctx, accessToken, processed.OutputPath,
		job.FileName, description, o.cfg.UploadAttempts, o.cfg.UploadRetryBase)

	switch {
	case upload.Success:
		if err := o.recordPublished(ctx, upload.Video, course.ID); err != nil {
			o.failJob(ctx, job, logger, fmt.Sprintf("record published video: %v", err))
			return jobOutcome{courseTouched: true}
		}
		o.completeJob(ctx, job, logger)
		return jobOutcome{courseTouched: true}

	case upload.Kind == youtube.FailureQuota:
		// Not this job's fault: revert it so the next cycle after the
		// suspension window retries it from scratch.
		if err := o.suspendPublishing(ctx); err != nil {
			logger.Error().Err(err).Msg("persist suspension flag failed")
		}
		if err := o.setStatus(ctx, job, models.PendingStatus); err != nil {
			logger.Error().Err(err).Msg("revert to pending failed")
		}
		return jobOutcome{courseTouched: true, suspend: true}

	default:
		o.failJob(ctx, job, logger, fmt.Sprintf("upload: %s", upload.Err))
		return jobOutcome{courseTouched: true}
	}
}

func (o *Orchestrator) checkSuspension(ctx context.Context) (bool, error) {
	setting, err := o.settings.Get(ctx, models.SettingUploadLimitUntil)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	until, err := time.Parse(time.RFC3339, setting.Value)
	if err != nil {
		o.logger.Warn().Str("value", setting.Value).Msg("unreadable suspension flag, removing")
		return false, o.settings.Delete(ctx, models.SettingUploadLimitUntil)
	}

	if o.clock().Before(until) {
		o.logger.Info().Time("until", until).Msg("publishing suspended, skipping cycle")
		return true, nil
	}

	o.logger.Info().Time("until", until).Msg("suspension expired, resuming")
	return false, o.settings.Delete(ctx, models.SettingUploadLimitUntil)
}

func (o *Orchestrator) suspendPublishing(ctx context.Context) error {
	until := o.clock().Add(o.cfg.SuspendFor)
	return o.settings.Upsert(ctx, models.SettingUploadLimitUntil, until.UTC().Format(time.RFC3339))
}

// refreshCredentials loads the stored session, forces a token refresh and
// persists the re-encrypted result. Returns the plaintext access token used
// for the rest of the cycle.
func (o *Orchestrator) refreshCredentials(ctx context.Context) (string, error) {
	record, err := o.credentials.FetchValid(ctx)
	if err != nil {
		return "", err
	}

	refreshToken, err := o.cipher.Decrypt(record.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	accessToken, err := o.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}

	encrypted, err := o.cipher.Encrypt(accessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}
	if err := o.credentials.SaveAccessToken(ctx, record.ID, encrypted); err != nil {
		return "", fmt.Errorf("persist access token: %w", err)
	}

	o.logger.Debug().Str("display_name", record.DisplayName).Msg("credentials refreshed")
	return accessToken, nil
}

func (o *Orchestrator) recordPublished(ctx context.Context, v youtube.Video, courseID uuid.UUID) error {
	return o.published.Create(ctx, &models.PublishedVideo{
		ID:          o.idGen(),
		YoutubeID:   v.ID,
		Title:       v.Title,
		Description: v.Description,
		URL:         v.URL,
		CourseID:    courseID,
		CreatedAt:   o.clock(),
	})
}

func (o *Orchestrator) setStatus(ctx context.Context, job *models.Job, to models.Status) error {
	if err := domain.ValidateTransition(domain.Status(job.Status), domain.Status(to)); err != nil {
		return err
	}

	updated, err := o.jobs.UpdateStatus(ctx, job.ID, to)
	if err != nil {
		return err
	}
	*job = *updated
	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, job *models.Job, logger zerolog.Logger, reason string) {
	logger.Warn().Str("reason", reason).Msg("job failed")
	if err := o.setStatus(ctx, job, models.FailedStatus); err != nil {
		logger.Error().Err(err).Msg("mark failed errored")
	}
}

func (o *Orchestrator) completeJob(ctx context.Context, job *models.Job, logger zerolog.Logger) {
	if err := o.setStatus(ctx, job, models.CompletedStatus); err != nil {
		logger.Error().Err(err).Msg("mark completed errored")
		return
	}
	logger.Info().Msg("job completed")
}

func (o *Orchestrator) notifyCourses(ctx context.Context, touched map[string]struct{}) {
	if o.notifier == nil {
		return
	}
	for code := range touched {
		if err := o.notifier.NotifyCourseUpdated(ctx, code); err != nil {
			// Best effort only: course pages catch up on their own refresh.
			o.logger.Warn().Err(err).Str("course_code", code).Msg("course sync failed")
		}
	}
}
