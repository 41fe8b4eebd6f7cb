package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	imagesacq "github.com/romariotrain/lecture-pipeline/internal/acquire/images"
	videoacq "github.com/romariotrain/lecture-pipeline/internal/acquire/video"
	"github.com/romariotrain/lecture-pipeline/internal/anonymizer"
	"github.com/romariotrain/lecture-pipeline/internal/pipeline/models"
	"github.com/romariotrain/lecture-pipeline/internal/platform/youtube"
)

type JobsMock struct {
	mock.Mock
}

func (m *JobsMock) FetchPending(ctx context.Context, limit int) ([]models.Job, error) {
	args := m.Called(ctx, limit)
	if v := args.Get(0); v != nil {
		return v.([]models.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *JobsMock) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Job, error) {
	args := m.Called(ctx, id, status)
	if v := args.Get(0); v != nil {
		return v.(*models.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

type CoursesMock struct {
	mock.Mock
}

func (m *CoursesMock) ByCode(ctx context.Context, code string) (*models.Course, error) {
	args := m.Called(ctx, code)
	if v := args.Get(0); v != nil {
		return v.(*models.Course), args.Error(1)
	}
	return nil, args.Error(1)
}

type CredentialsMock struct {
	mock.Mock
}

func (m *CredentialsMock) FetchValid(ctx context.Context) (*models.Credential, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(*models.Credential), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CredentialsMock) SaveAccessToken(ctx context.Context, id uuid.UUID, encryptedToken string) error {
	args := m.Called(ctx, id, encryptedToken)
	return args.Error(0)
}

func (m *CredentialsMock) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type SettingsMock struct {
	mock.Mock
}

func (m *SettingsMock) Get(ctx context.Context, key string) (*models.Setting, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.(*models.Setting), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SettingsMock) Upsert(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *SettingsMock) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type PublishedMock struct {
	mock.Mock
}

func (m *PublishedMock) Create(ctx context.Context, v *models.PublishedVideo) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

type OAuthMock struct {
	mock.Mock
}

func (m *OAuthMock) Refresh(ctx context.Context, refreshToken string) (string, error) {
	args := m.Called(ctx, refreshToken)
	return args.String(0), args.Error(1)
}

type ImagesMock struct {
	mock.Mock
}

func (m *ImagesMock) AcquireReferenceImages(ctx context.Context, subjectName, outputDir string, maxCount int) (*imagesacq.Result, error) {
	args := m.Called(ctx, subjectName, outputDir, maxCount)
	if v := args.Get(0); v != nil {
		return v.(*imagesacq.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

type VideoMock struct {
	mock.Mock
}

func (m *VideoMock) AcquireVideo(ctx context.Context, sourceURL, fileName, outputDir string) (*videoacq.Download, error) {
	args := m.Called(ctx, sourceURL, fileName, outputDir)
	if v := args.Get(0); v != nil {
		return v.(*videoacq.Download), args.Error(1)
	}
	return nil, args.Error(1)
}

type EngineMock struct {
	mock.Mock
}

func (m *EngineMock) WaitHealthy(ctx context.Context, maxWait time.Duration) error {
	args := m.Called(ctx, maxWait)
	return args.Error(0)
}

func (m *EngineMock) ProcessVideo(ctx context.Context, pr anonymizer.ProcessRequest) (*anonymizer.ProcessResult, error) {
	args := m.Called(ctx, pr)
	if v := args.Get(0); v != nil {
		return v.(*anonymizer.ProcessResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) SearchExisting(ctx context.Context, accessToken, title string) (*youtube.SearchResult, error) {
	args := m.Called(ctx, accessToken, title)
	if v := args.Get(0); v != nil {
		return v.(*youtube.SearchResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *PublisherMock) UploadWithRetry(ctx context.Context, accessToken, localPath, title, description string, attempts int, base time.Duration) youtube.UploadResult {
	args := m.Called(ctx, accessToken, localPath, title, description, attempts, base)
	return args.Get(0).(youtube.UploadResult)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) NotifyCourseUpdated(ctx context.Context, courseCode string) error {
	args := m.Called(ctx, courseCode)
	return args.Error(0)
}
