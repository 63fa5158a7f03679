package jobstore

import (
	"context"
	"sync"
	"time"
)

// memoryStore is an in-process Store, the non-Postgres backend analogous to
// the teacher's JSON-backed internal/storage.Storage: a mutex-guarded map
// used directly by tests and by single-process deployments.
type memoryStore struct {
	mu     sync.Mutex
	jobs   map[string]Job
	events map[string][]Event
	seen   map[string]map[string]bool // jobID -> eventID -> applied
	clock  func() time.Time
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		jobs:   make(map[string]Job),
		events: make(map[string][]Event),
		seen:   make(map[string]map[string]bool),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryStore) Upsert(_ context.Context, p UpsertParams) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	job, exists := s.jobs[p.JobID]
	if !exists {
		job = Job{
			JobID:     p.JobID,
			CreatedAt: now,
			Metadata:  map[string]string{},
		}
	}
	job.VideoURL = p.VideoURL
	job.VideoTitle = p.VideoTitle
	job.Language = p.Language
	if p.TargetLanguage != "" {
		job.TargetLanguage = p.TargetLanguage
	}
	if p.Status != "" {
		job.Status = p.Status
	} else if job.Status == "" {
		job.Status = Pending
	}
	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}
	for k, v := range p.Metadata {
		job.Metadata[k] = v
	}
	job.UpdatedAt = now
	s.jobs[p.JobID] = job
	return job.Clone(), nil
}

func (s *memoryStore) Advance(_ context.Context, p AdvanceParams) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[p.JobID]
	if !exists {
		return Job{}, ErrNotFound
	}

	if p.EventID != "" {
		applied := s.seen[p.JobID]
		if applied == nil {
			applied = map[string]bool{}
			s.seen[p.JobID] = applied
		}
		if applied[p.EventID] {
			// Duplicate redelivery: idempotent no-op.
			return job.Clone(), nil
		}
		applied[p.EventID] = true
	}

	if job.Status.Terminal() {
		// Terminal jobs are never mutated again except TTL (spec §3).
		return job.Clone(), ErrIllegalTransition
	}

	legal := CanTransition(job.Status, p.To)
	now := s.clock()
	if legal {
		job.Status = p.To
	}
	if p.ResultURL != "" {
		job.ResultURL = p.ResultURL
	}
	if p.SubtitlePath != "" {
		job.SubtitlePath = p.SubtitlePath
	}
	if p.TargetLanguage != "" {
		job.TargetLanguage = p.TargetLanguage
	}
	if p.ErrorMessage != "" {
		job.ErrorMessage = p.ErrorMessage
	}
	job.UpdatedAt = now
	s.jobs[p.JobID] = job

	if !legal {
		return job.Clone(), ErrIllegalTransition
	}
	return job.Clone(), nil
}

func (s *memoryStore) Get(_ context.Context, jobID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *memoryStore) RecordEvent(_ context.Context, jobID string, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[jobID] = append(s.events[jobID], evt)
	return nil
}

func (s *memoryStore) HasEvent(_ context.Context, jobID, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range s.events[jobID] {
		if evt.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) Events(_ context.Context, jobID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events[jobID]))
	copy(out, s.events[jobID])
	return out, nil
}

func (s *memoryStore) ApplyTTL(_ context.Context, cfg TTLConfig, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for id, job := range s.jobs {
		var window time.Duration
		switch job.Status {
		case Done:
			window = cfg.Completed
		case Failed:
			window = cfg.Failed
		default:
			continue
		}
		if window <= 0 {
			continue
		}
		if now.Sub(job.UpdatedAt) >= window {
			delete(s.jobs, id)
			delete(s.events, id)
			delete(s.seen, id)
			expired++
		}
	}
	return expired, nil
}

func (s *memoryStore) Close(context.Context) error { return nil }
