package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	imagesacq "github.com/romariotrain/lecture-pipeline/internal/acquire/images"
	videoacq "github.com/romariotrain/lecture-pipeline/internal/acquire/video"
	"github.com/romariotrain/lecture-pipeline/internal/anonymizer"
	"github.com/romariotrain/lecture-pipeline/internal/pipeline/models"
	"github.com/romariotrain/lecture-pipeline/internal/platform/youtube"
	"github.com/romariotrain/lecture-pipeline/internal/secrets"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type fixture struct {
	jobs      *JobsMock
	courses   *CoursesMock
	creds     *CredentialsMock
	settings  *SettingsMock
	published *PublishedMock
	oauth     *OAuthMock
	images    *ImagesMock
	video     *VideoMock
	engine    *EngineMock
	publisher *PublisherMock
	notifier  *NotifierMock

	cipher   *secrets.Cipher
	workRoot string
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		jobs:      new(JobsMock),
		courses:   new(CoursesMock),
		creds:     new(CredentialsMock),
		settings:  new(SettingsMock),
		published: new(PublishedMock),
		oauth:     new(OAuthMock),
		images:    new(ImagesMock),
		video:     new(VideoMock),
		engine:    new(EngineMock),
		publisher: new(PublisherMock),
		notifier:  new(NotifierMock),
		workRoot:  t.TempDir(),
	}

	var err error
	f.cipher, err = secrets.NewCipher(testKey)
	require.NoError(t, err)

	f.orch, err = New(Deps{
		Jobs:        f.jobs,
		Courses:     f.courses,
		Credentials: f.creds,
		Settings:    f.settings,
		Published:   f.published,
		OAuth:       f.oauth,
		Images:      f.images,
		Video:       f.video,
		Engine:      f.engine,
		Publisher:   f.publisher,
		Notifier:    f.notifier,
		Cipher:      f.cipher,
		Config: Config{
			WorkRoot:   f.workRoot,
			BatchSize:  3,
			SuspendFor: 24 * time.Hour,
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	return f
}

func (f *fixture) credential(t *testing.T) *models.Credential {
	t.Helper()
	access, err := f.cipher.Encrypt("stored-access")
	require.NoError(t, err)
	refresh, err := f.cipher.Encrypt("stored-refresh")
	require.NoError(t, err)

	return &models.Credential{
		ID:           uuid.New(),
		AccessToken:  access,
		RefreshToken: refresh,
		DisplayName:  "Lecture Bot",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

// expectCyclePreamble wires up "no suspension flag" plus a successful
// credential refresh returning the token "fresh-access".
func (f *fixture) expectCyclePreamble(t *testing.T) {
	t.Helper()
	f.settings.On("Get", mock.Anything, models.SettingUploadLimitUntil).
		Return(nil, models.ErrNotFound)

	cred := f.credential(t)
	f.creds.On("FetchValid", mock.Anything).Return(cred, nil)
	f.oauth.On("Refresh", mock.Anything, "stored-refresh").Return("fresh-access", nil)
	f.creds.On("SaveAccessToken", mock.Anything, cred.ID, mock.Anything).Return(nil)
}

func (f *fixture) expectStatus(job models.Job, to models.Status) {
	updated := job
	updated.Status = to
	f.jobs.On("UpdateStatus", mock.Anything, job.ID, to).Return(&updated, nil).Once()
}

func testJob(fileName string) models.Job {
	return models.Job{
		ID:             uuid.New(),
		VideoURL:       "https://host/video.mp4",
		FileName:       fileName,
		InstructorName: "Dr. Jane Smith",
		CourseCode:     "CS101",
		Status:         models.PendingStatus,
		CreatedAt:      time.Now().Add(-time.Hour),
		UpdatedAt:      time.Now().Add(-time.Hour),
	}
}

func testCourse() *models.Course {
	return &models.Course{ID: uuid.New(), Code: "CS101", Title: "Intro to Computer Science"}
}

func TestRunCycle_SuspensionActive(t *testing.T) {
	f := newFixture(t)

	until := time.Now().Add(12 * time.Hour).UTC().Format(time.RFC3339)
	f.settings.On("Get", mock.Anything, models.SettingUploadLimitUntil).
		Return(&models.Setting{Key: models.SettingUploadLimitUntil, Value: until}, nil)

	require.NoError(t, f.orch.RunCycle(context.Background()))

	// The whole cycle is a no-op: no jobs are even fetched.
	f.jobs.AssertNotCalled(t, "FetchPending", mock.Anything, mock.Anything)
	f.creds.AssertNotCalled(t, "FetchValid", mock.Anything)
}

func TestRunCycle_SuspensionExpired(t *testing.T) {
	f := newFixture(t)

	until := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	f.settings.On("Get", mock.Anything, models.SettingUploadLimitUntil).
		Return(&models.Setting{Key: models.SettingUploadLimitUntil, Value: until}, nil)
	f.settings.On("Delete", mock.Anything, models.SettingUploadLimitUntil).Return(nil).Once()
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{}, nil)

	require.NoError(t, f.orch.RunCycle(context.Background()))
	f.settings.AssertExpectations(t)
	f.jobs.AssertExpectations(t)
}

func TestRunCycle_MalformedSuspensionFlag(t *testing.T) {
	f := newFixture(t)

	f.settings.On("Get", mock.Anything, models.SettingUploadLimitUntil).
		Return(&models.Setting{Key: models.SettingUploadLimitUntil, Value: "not-a-timestamp"}, nil)
	f.settings.On("Delete", mock.Anything, models.SettingUploadLimitUntil).Return(nil).Once()
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{}, nil)

	require.NoError(t, f.orch.RunCycle(context.Background()))
	f.settings.AssertExpectations(t)
}

func TestRunCycle_NoJobs(t *testing.T) {
	f := newFixture(t)

	f.settings.On("Get", mock.Anything, models.SettingUploadLimitUntil).
		Return(nil, models.ErrNotFound)
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{}, nil)

	require.NoError(t, f.orch.RunCycle(context.Background()))

	// An empty batch should not burn a credential refresh.
	f.creds.AssertNotCalled(t, "FetchValid", mock.Anything)
}

func TestRunCycle_NoCredentialAbortsWithoutFailingJobs(t *testing.T) {
	f := newFixture(t)

	f.settings.On("Get", mock.Anything, models.SettingUploadLimitUntil).
		Return(nil, models.ErrNotFound)
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{testJob("Lecture_01.mp4")}, nil)
	f.creds.On("FetchValid", mock.Anything).Return(nil, models.ErrNoCredential)

	err := f.orch.RunCycle(context.Background())
	require.ErrorIs(t, err, models.ErrNoCredential)

	// Transient condition: no job may change state.
	f.jobs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCycle_RefreshPersistsReencryptedToken(t *testing.T) {
	f := newFixture(t)

	f.settings.On("Get", mock.Anything, models.SettingUploadLimitUntil).
		Return(nil, models.ErrNotFound)
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{testJob("Lecture_01.mp4")}, nil)

	cred := f.credential(t)
	f.creds.On("FetchValid", mock.Anything).Return(cred, nil)
	f.oauth.On("Refresh", mock.Anything, "stored-refresh").Return("fresh-access", nil)

	var saved string
	f.creds.On("SaveAccessToken", mock.Anything, cred.ID, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.String(2) }).
		Return(nil).Once()

	job := testJob("Lecture_01.mp4")
	f.jobs.ExpectedCalls = nil // rewire with the concrete job
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{job}, nil)
	f.expectStatus(job, models.InProgressStatus)
	f.courses.On("ByCode", mock.Anything, "CS101").Return(nil, models.ErrNotFound)
	inProgress := job
	inProgress.Status = models.InProgressStatus
	f.expectStatus(inProgress, models.FailedStatus)

	require.NoError(t, f.orch.RunCycle(context.Background()))

	// Stored value is ciphertext, not the plaintext token.
	require.NotEmpty(t, saved)
	assert.NotEqual(t, "fresh-access", saved)
	plain, err := f.cipher.Decrypt(saved)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", plain)
}

func TestRunCycle_MissingCourseFailsJob(t *testing.T) {
	f := newFixture(t)
	f.expectCyclePreamble(t)

	job := testJob("Lecture_01.mp4")
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{job}, nil)
	f.expectStatus(job, models.InProgressStatus)
	f.courses.On("ByCode", mock.Anything, "CS101").Return(nil, models.ErrNotFound)
	inProgress := job
	inProgress.Status = models.InProgressStatus
	f.expectStatus(inProgress, models.FailedStatus)

	require.NoError(t, f.orch.RunCycle(context.Background()))

	f.jobs.AssertExpectations(t)
	f.publisher.AssertNotCalled(t, "SearchExisting", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCycle_SkipsWhenAlreadyPublished(t *testing.T) {
	f := newFixture(t)
	f.expectCyclePreamble(t)

	job := testJob("Lecture_01.mp4")
	course := testCourse()
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{job}, nil)
	f.expectStatus(job, models.InProgressStatus)
	f.courses.On("ByCode", mock.Anything, "CS101").Return(course, nil)

	f.publisher.On("SearchExisting", mock.Anything, "fresh-access", "Lecture_01.mp4").
		Return(&youtube.SearchResult{
			Exists: true,
			Matches: []youtube.Video{{
				ID:          "prior123",
				Title:       "Lecture_01.mp4",
				Description: "earlier upload",
				URL:         "https://www.youtube.com/watch?v=prior123",
			}},
		}, nil)

	var recorded *models.PublishedVideo
	f.published.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { recorded = args.Get(1).(*models.PublishedVideo) }).
		Return(nil).Once()

	inProgress := job
	inProgress.Status = models.InProgressStatus
	f.expectStatus(inProgress, models.CompletedStatus)
	f.notifier.On("NotifyCourseUpdated", mock.Anything, "CS101").Return(nil).Once()

	require.NoError(t, f.orch.RunCycle(context.Background()))

	// The costly stages are all skipped.
	f.images.AssertNotCalled(t, "AcquireReferenceImages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.video.AssertNotCalled(t, "AcquireVideo", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.engine.AssertNotCalled(t, "ProcessVideo", mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "UploadWithRetry",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.NotNil(t, recorded)
	assert.Equal(t, "prior123", recorded.YoutubeID)
	assert.Equal(t, course.ID, recorded.CourseID)
}

func TestRunCycle_ZeroImagesFailsAndCleansUp(t *testing.T) {
	f := newFixture(t)
	f.expectCyclePreamble(t)

	job := testJob("Lecture_01.mp4")
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{job}, nil)
	f.expectStatus(job, models.InProgressStatus)
	f.courses.On("ByCode", mock.Anything, "CS101").Return(testCourse(), nil)
	f.publisher.On("SearchExisting", mock.Anything, "fresh-access", "Lecture_01.mp4").
		Return(&youtube.SearchResult{}, nil)

	f.images.On("AcquireReferenceImages", mock.Anything, "Dr. Jane Smith", mock.Anything, 15).
		Return(&imagesacq.Result{Count: 0}, nil)

	inProgress := job
	inProgress.Status = models.InProgressStatus
	f.expectStatus(inProgress, models.FailedStatus)
	f.notifier.On("NotifyCourseUpdated", mock.Anything, "CS101").Return(nil)

	require.NoError(t, f.orch.RunCycle(context.Background()))

	f.video.AssertNotCalled(t, "AcquireVideo", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// The working directory must not survive the failure.
	_, err := os.Stat(filepath.Join(f.workRoot, job.ID.String()))
	assert.True(t, os.IsNotExist(err))
}

func TestRunCycle_QuotaRevertsJobAndAbortsBatch(t *testing.T) {
	f := newFixture(t)
	f.expectCyclePreamble(t)

	first := testJob("Lecture_01.mp4")
	second := testJob("Lecture_02.mp4")
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{first, second}, nil)

	f.expectStatus(first, models.InProgressStatus)
	f.courses.On("ByCode", mock.Anything, "CS101").Return(testCourse(), nil).Once()
	f.publisher.On("SearchExisting", mock.Anything, "fresh-access", "Lecture_01.mp4").
		Return(&youtube.SearchResult{}, nil)
	f.images.On("AcquireReferenceImages", mock.Anything, "Dr. Jane Smith", mock.Anything, 15).
		Return(&imagesacq.Result{Count: 5, Paths: []string{"a.jpg"}}, nil)
	f.video.On("AcquireVideo", mock.Anything, first.VideoURL, "Lecture_01.mp4", mock.Anything).
		Return(&videoacq.Download{LocalPath: "/shared/x/Lecture_01.mp4", Size: 1 << 20}, nil)
	f.engine.On("WaitHealthy", mock.Anything, mock.Anything).Return(nil)
	f.engine.On("ProcessVideo", mock.Anything, mock.Anything).
		Return(&anonymizer.ProcessResult{Success: true, OutputPath: "/shared/x/blurred_Lecture_01.mp4"}, nil)

	f.publisher.On("UploadWithRetry",
		mock.Anything, "fresh-access", "/shared/x/blurred_Lecture_01.mp4",
		"Lecture_01.mp4", mock.Anything, 3, mock.Anything).
		Return(youtube.UploadResult{Kind: youtube.FailureQuota, Err: "uploadLimitExceeded"})

	var flagValue string
	f.settings.On("Upsert", mock.Anything, models.SettingUploadLimitUntil, mock.Anything).
		Run(func(args mock.Arguments) { flagValue = args.String(2) }).
		Return(nil).Once()

	inProgress := first
	inProgress.Status = models.InProgressStatus
	f.expectStatus(inProgress, models.PendingStatus)
	f.notifier.On("NotifyCourseUpdated", mock.Anything, "CS101").Return(nil)

	require.NoError(t, f.orch.RunCycle(context.Background()))

	// The suspension flag points a full window into the future.
	until, err := time.Parse(time.RFC3339, flagValue)
	require.NoError(t, err)
	assert.True(t, until.After(time.Now().Add(23*time.Hour)))

	// The second job is never touched: no claim, no stages.
	f.jobs.AssertNotCalled(t, "UpdateStatus", mock.Anything, second.ID, mock.Anything)
	f.publisher.AssertNotCalled(t, "SearchExisting", mock.Anything, mock.Anything, "Lecture_02.mp4")
	f.settings.AssertExpectations(t)

	// Round trip: the flag just written suspends the next cycle entirely.
	f2 := newFixture(t)
	f2.settings.On("Get", mock.Anything, models.SettingUploadLimitUntil).
		Return(&models.Setting{Key: models.SettingUploadLimitUntil, Value: flagValue}, nil)
	require.NoError(t, f2.orch.RunCycle(context.Background()))
	f2.jobs.AssertNotCalled(t, "FetchPending", mock.Anything, mock.Anything)
}

func TestRunCycle_GenericUploadFailureContinuesBatch(t *testing.T) {
	f := newFixture(t)
	f.expectCyclePreamble(t)

	first := testJob("Lecture_01.mp4")
	second := testJob("Lecture_02.mp4")
	second.CourseCode = "MATH7"
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{first, second}, nil)

	f.expectStatus(first, models.InProgressStatus)
	f.courses.On("ByCode", mock.Anything, "CS101").Return(testCourse(), nil)
	f.publisher.On("SearchExisting", mock.Anything, "fresh-access", "Lecture_01.mp4").
		Return(&youtube.SearchResult{}, nil)
	f.images.On("AcquireReferenceImages", mock.Anything, "Dr. Jane Smith", mock.Anything, 15).
		Return(&imagesacq.Result{Count: 3}, nil)
	f.video.On("AcquireVideo", mock.Anything, first.VideoURL, "Lecture_01.mp4", mock.Anything).
		Return(&videoacq.Download{LocalPath: "/shared/x/Lecture_01.mp4", Size: 1 << 20}, nil)
	f.engine.On("WaitHealthy", mock.Anything, mock.Anything).Return(nil)
	f.engine.On("ProcessVideo", mock.Anything, mock.Anything).
		Return(&anonymizer.ProcessResult{Success: true, OutputPath: "/shared/x/blurred_Lecture_01.mp4"}, nil)
	f.publisher.On("UploadWithRetry",
		mock.Anything, "fresh-access", "/shared/x/blurred_Lecture_01.mp4",
		"Lecture_01.mp4", mock.Anything, 3, mock.Anything).
		Return(youtube.UploadResult{Kind: youtube.FailureGeneric, Err: "backend error"})

	firstInProgress := first
	firstInProgress.Status = models.InProgressStatus
	f.expectStatus(firstInProgress, models.FailedStatus)

	// Second job proceeds and fails on a missing course; the point is that
	// the batch did not abort.
	f.expectStatus(second, models.InProgressStatus)
	f.courses.On("ByCode", mock.Anything, "MATH7").Return(nil, models.ErrNotFound)
	secondInProgress := second
	secondInProgress.Status = models.InProgressStatus
	f.expectStatus(secondInProgress, models.FailedStatus)

	f.notifier.On("NotifyCourseUpdated", mock.Anything, "CS101").Return(nil)

	require.NoError(t, f.orch.RunCycle(context.Background()))
	f.jobs.AssertExpectations(t)
	f.settings.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCycle_EndToEndSuccess(t *testing.T) {
	f := newFixture(t)
	f.expectCyclePreamble(t)

	job := testJob("Lecture_01.mp4")
	course := testCourse()
	f.jobs.On("FetchPending", mock.Anything, 3).Return([]models.Job{job}, nil)
	f.expectStatus(job, models.InProgressStatus)
	f.courses.On("ByCode", mock.Anything, "CS101").Return(course, nil)
	f.publisher.On("SearchExisting", mock.Anything, "fresh-access", "Lecture_01.mp4").
		Return(&youtube.SearchResult{}, nil)

	f.images.On("AcquireReferenceImages", mock.Anything, "Dr. Jane Smith", mock.Anything, 15).
		Return(&imagesacq.Result{Count: 12}, nil)
	f.video.On("AcquireVideo", mock.Anything, "https://host/video.mp4", "Lecture_01.mp4", mock.Anything).
		Return(&videoacq.Download{LocalPath: filepath.Join(f.workRoot, job.ID.String(), "Lecture_01.mp4"), Size: 500 << 20}, nil)
	f.engine.On("WaitHealthy", mock.Anything, mock.Anything).Return(nil)

	var processReq anonymizer.ProcessRequest
	f.engine.On("ProcessVideo", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { processReq = args.Get(1).(anonymizer.ProcessRequest) }).
		Return(&anonymizer.ProcessResult{
			Success:    true,
			JobID:      job.ID.String(),
			OutputPath: filepath.Join(f.workRoot, job.ID.String(), "blurred_Lecture_01.mp4"),
		}, nil)

	f.publisher.On("UploadWithRetry",
		mock.Anything, "fresh-access",
		filepath.Join(f.workRoot, job.ID.String(), "blurred_Lecture_01.mp4"),
		"Lecture_01.mp4", mock.Anything, 3, mock.Anything).
		Return(youtube.UploadResult{
			Success: true,
			Video: youtube.Video{
				ID:          "vid789",
				Title:       "Lecture_01.mp4",
				Description: "Lecture recorded by Dr. Jane Smith for course CS101. Faces of other participants have been blurred.",
				URL:         "https://www.youtube.com/watch?v=vid789",
			},
		})

	var recorded *models.PublishedVideo
	f.published.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { recorded = args.Get(1).(*models.PublishedVideo) }).
		Return(nil).Once()

	inProgress := job
	inProgress.Status = models.InProgressStatus
	f.expectStatus(inProgress, models.CompletedStatus)
	f.notifier.On("NotifyCourseUpdated", mock.Anything, "CS101").Return(nil).Once()

	require.NoError(t, f.orch.RunCycle(context.Background()))
	f.jobs.AssertExpectations(t)
	f.notifier.AssertExpectations(t)

	// The engine request shares the job's working namespace.
	assert.Equal(t, job.ID.String(), processReq.JobID)
	assert.Equal(t, filepath.Join(f.workRoot, job.ID.String(), "images"), processReq.TargetPersonImagesDir)

	require.NotNil(t, recorded)
	assert.Equal(t, "vid789", recorded.YoutubeID)
	assert.Equal(t, "Lecture_01.mp4", recorded.Title)
	assert.Equal(t, "https://www.youtube.com/watch?v=vid789", recorded.URL)
	assert.Contains(t, recorded.Description, "Dr. Jane Smith")
	assert.Equal(t, course.ID, recorded.CourseID)

	// Working directory is gone after success too.
	_, err := os.Stat(filepath.Join(f.workRoot, job.ID.String()))
	assert.True(t, os.IsNotExist(err))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)

	f := newFixture(t)
	deps := Deps{
		Jobs:        f.jobs,
		Courses:     f.courses,
		Credentials: f.creds,
		Settings:    f.settings,
		Published:   f.published,
		OAuth:       f.oauth,
		Images:      f.images,
		Video:       f.video,
		Engine:      f.engine,
		Publisher:   f.publisher,
		Cipher:      f.cipher,
		Logger:      zerolog.Nop(),
	}
	_, err = New(deps) // no WorkRoot
	require.Error(t, err)

	deps.Config.WorkRoot = t.TempDir()
	orch, err := New(deps)
	require.NoError(t, err)

	// Defaults applied.
	assert.Equal(t, 3, orch.cfg.BatchSize)
	assert.Equal(t, 15, orch.cfg.MaxReferenceImages)
	assert.Equal(t, 24*time.Hour, orch.cfg.SuspendFor)
}
