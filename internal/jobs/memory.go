package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sitelens/intel-cli/internal/model"
)

// MemoryStore is the fallback job store when no Redis address is
// configured. State is lost on restart, which is acceptable for
// single-instance serve mode.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	cancelled map[string]bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		cancelled: make(map[string]bool),
	}
}

func (s *MemoryStore) Create(_ context.Context, url string, owner model.Owner) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		URL:       url,
		Owner:     owner,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) SetProgress(_ context.Context, id string, stage int, label string, percent float64) error {
	return s.update(id, func(job *Job) {
		job.Status = StatusRunning
		job.Stage = stage
		job.Label = label
		job.Percent = percent
	})
}

func (s *MemoryStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[id] = true
	return nil
}

func (s *MemoryStore) IsCancelRequested(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled[id], nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, result *model.AnalysisResult) error {
	return s.update(id, func(job *Job) {
		job.Status = StatusCompleted
		job.Percent = 100
		job.Result = result
	})
}

func (s *MemoryStore) Fail(_ context.Context, id string, message string) error {
	return s.update(id, func(job *Job) {
		job.Status = StatusFailed
		job.Error = message
	})
}

func (s *MemoryStore) MarkCancelled(_ context.Context, id string) error {
	return s.update(id, func(job *Job) {
		job.Status = StatusCancelled
	})
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) update(id string, mutate func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return eris.Errorf("jobs: job %s not found", id)
	}
	mutate(job)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneJob(job *Job) *Job {
	out := *job
	return &out
}
