package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/lecture-pipeline/internal/pipeline/models"
)

// MemoryStore is an in-memory implementation of every repository interface.
// It backs tests; the worker itself runs against postgres.
type MemoryStore struct {
	mu          sync.RWMutex
	jobs        map[uuid.UUID]*models.Job
	jobOrder    []uuid.UUID
	courses     map[string]*models.Course
	credentials map[uuid.UUID]*models.Credential
	settings    map[string]*models.Setting
	published   []models.PublishedVideo

	lease time.Duration
	clock func() time.Time
}

func NewMemoryStore(lease time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[uuid.UUID]*models.Job),
		courses:     make(map[string]*models.Course),
		credentials: make(map[uuid.UUID]*models.Credential),
		settings:    make(map[string]*models.Setting),
		lease:       lease,
		clock:       time.Now,
	}
}

func (s *MemoryStore) AddJob(j models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := j
	s.jobs[j.ID] = &cp
	s.jobOrder = append(s.jobOrder, j.ID)
}

func (s *MemoryStore) AddCourse(c models.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.courses[c.Code] = &cp
}

func (s *MemoryStore) AddCredential(c models.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.credentials[c.ID] = &cp
}

func (s *MemoryStore) FetchPending(ctx context.Context, limit int) ([]models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	var out []models.Job
	for _, id := range s.jobOrder {
		if len(out) >= limit {
			break
		}
		j := s.jobs[id]
		claimable := j.Status == models.PendingStatus ||
			(j.Status == models.InProgressStatus && s.lease > 0 && now.Sub(j.UpdatedAt) > s.lease)
		if claimable {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	j.Status = status
	j.UpdatedAt = s.clock()

	cp := *j
	return &cp, nil
}

func (s *MemoryStore) ByCode(ctx context.Context, code string) (*models.Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[code]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) FetchValid(ctx context.Context) (*models.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	for _, c := range s.credentials {
		if !c.Expired(now) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, models.ErrNoCredential
}

func (s *MemoryStore) SaveAccessToken(ctx context.Context, id uuid.UUID, encryptedToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[id]
	if !ok {
		return models.ErrNotFound
	}
	c.AccessToken = encryptedToken
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, c := range s.credentials {
		if c.Expired(now) {
			delete(s.credentials, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*models.Setting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.settings[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = &models.Setting{Key: key, Value: value, UpdatedAt: s.clock()}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.settings, key)
	return nil
}

func (s *MemoryStore) Create(ctx context.Context, v *models.PublishedVideo) error {
	if v == nil || v.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.published = append(s.published, *v)
	return nil
}

// Published returns a copy of all recorded uploads.
func (s *MemoryStore) Published() []models.PublishedVideo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PublishedVideo, len(s.published))
	copy(out, s.published)
	return out
}

// Job returns the stored job by id, for assertions.
func (s *MemoryStore) Job(id uuid.UUID) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return *j, true
}

// CredentialCount reports how many credential rows remain.
func (s *MemoryStore) CredentialCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.credentials)
}
