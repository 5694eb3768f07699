package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
)

type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]domain.ImageAsset
	jobs   map[string]domain.Job
	usage  []domain.UsageLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets: make(map[string]domain.ImageAsset),
		jobs:   make(map[string]domain.Job),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) SaveAsset(_ context.Context, asset domain.ImageAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[asset.ID] = asset
	return nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (domain.ImageAsset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[id]
	return asset, ok, nil
}

func (s *MemoryStore) DeleteAsset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[id]; !ok {
		return ErrAssetNotFound
	}
	delete(s.assets, id)
	return nil
}

func (s *MemoryStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, res domain.Result) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = domain.StatusForResult(res)
	job.Result = &res
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

// UsageLogs returns a copy of every recorded usage entry.
func (s *MemoryStore) UsageLogs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.UsageLog(nil), s.usage...)
}
