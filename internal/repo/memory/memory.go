// Package memory holds process-local repositories used when no ledger
// database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/repo"
)

type envKey struct {
	name    string
	version string
}

type EnvironmentStore struct {
	mu      sync.RWMutex
	records map[envKey]repo.EnvironmentRecord
}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{records: make(map[envKey]repo.EnvironmentRecord)}
}

func (s *EnvironmentStore) CreateEnvironment(_ context.Context, record repo.EnvironmentRecord) (repo.EnvironmentRecord, bool, error) {
	key := envKey{name: record.Identity.Name, version: record.Identity.Version}
	if key.name == "" || key.version == "" {
		return repo.EnvironmentRecord{}, false, fmt.Errorf("environment name and version are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok {
		return cloneEnvironment(existing), false, nil
	}
	if record.Identity.RegisteredAt.IsZero() {
		record.Identity.RegisteredAt = time.Now().UTC()
	}
	s.records[key] = cloneEnvironment(record)
	return cloneEnvironment(record), true, nil
}

func (s *EnvironmentStore) GetEnvironment(_ context.Context, name, version string) (repo.EnvironmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[envKey{name: strings.TrimSpace(name), version: strings.TrimSpace(version)}]
	if !ok {
		return repo.EnvironmentRecord{}, repo.ErrNotFound
	}
	return cloneEnvironment(record), nil
}

func cloneEnvironment(r repo.EnvironmentRecord) repo.EnvironmentRecord {
	if r.Descriptor.Tags != nil {
		tags := make(map[string]string, len(r.Descriptor.Tags))
		for k, v := range r.Descriptor.Tags {
			tags[k] = v
		}
		r.Descriptor.Tags = tags
	}
	return r
}

type SubmissionStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Submission
}

func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{jobs: make(map[string]domain.Submission)}
}

func (s *SubmissionStore) RecordSubmission(_ context.Context, sub domain.Submission) (domain.Submission, bool, error) {
	sub.JobName = strings.TrimSpace(sub.JobName)
	if sub.JobName == "" {
		return domain.Submission{}, false, fmt.Errorf("job name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[sub.JobName]; ok {
		return existing, false, nil
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	s.jobs[sub.JobName] = sub
	return sub, true, nil
}

func (s *SubmissionStore) GetSubmission(_ context.Context, jobName string) (domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.jobs[strings.TrimSpace(jobName)]
	if !ok {
		return domain.Submission{}, repo.ErrNotFound
	}
	return sub, nil
}

// ListSubmissions returns the newest submissions first.
func (s *SubmissionStore) ListSubmissions(_ context.Context, filter repo.SubmissionFilter) ([]domain.Submission, error) {
	s.mu.RLock()
	out := make([]domain.Submission, 0, len(s.jobs))
	for _, sub := range s.jobs {
		if filter.Experiment != "" && sub.Experiment != filter.Experiment {
			continue
		}
		out = append(out, sub)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].JobName < out[j].JobName
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *SubmissionStore) UpdateSubmissionStatus(_ context.Context, jobName string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.jobs[strings.TrimSpace(jobName)]
	if !ok {
		return repo.ErrNotFound
	}
	sub.Status = status
	s.jobs[sub.JobName] = sub
	return nil
}
