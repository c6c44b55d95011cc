// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/aperio/internal/jobs"
)

// MemoryStore is an in-memory Store intended for tests and local iteration.
// Not durable; not suitable for production.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*jobs.Job)}
}

func (m *MemoryStore) Close() error { return nil }

func clone(j *jobs.Job) *jobs.Job {
	c := *j
	return &c
}

func (m *MemoryStore) Create(_ context.Context, job *jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = clone(job)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*jobs.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

func (m *MemoryStore) List(_ context.Context, page, pageSize int, status *jobs.Status) ([]*jobs.Job, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*jobs.Job
	for _, j := range m.jobs {
		if status != nil && j.Status != *status {
			continue
		}
		all = append(all, clone(j))
	}
	sort.Slice(all, func(a, b int) bool { return all[a].CreatedAt.After(all[b].CreatedAt) })
	total := int64(len(all))
	start := page * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := min(start+pageSize, len(all))
	return all[start:end], total, nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, from, to jobs.Status, mut Mutations) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != from {
		return ErrConflict
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	if mut.DownloadedPath != nil {
		j.DownloadedPath = *mut.DownloadedPath
	}
	if mut.ProcessedPath != nil {
		j.ProcessedPath = *mut.ProcessedPath
	}
	if mut.ErrorMessage != nil {
		j.ErrorMessage = *mut.ErrorMessage
	}
	if mut.ProcessingSeconds != nil {
		j.ProcessingSeconds = *mut.ProcessingSeconds
	}
	return nil
}

// byDispatchOrder sorts priority descending, then created_at ascending.
func byDispatchOrder(list []*jobs.Job) {
	sort.Slice(list, func(a, b int) bool {
		if list[a].Priority != list[b].Priority {
			return list[a].Priority > list[b].Priority
		}
		return list[a].CreatedAt.Before(list[b].CreatedAt)
	})
}

func (m *MemoryStore) ClaimPending(_ context.Context, limit int) ([]*jobs.Job, error) {
	if limit < 1 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*jobs.Job
	for _, j := range m.jobs {
		if j.Status == jobs.StatusPending {
			pending = append(pending, j)
		}
	}
	byDispatchOrder(pending)
	if len(pending) > limit {
		pending = pending[:limit]
	}
	now := time.Now().UTC()
	claimed := make([]*jobs.Job, 0, len(pending))
	for _, j := range pending {
		j.Status = jobs.StatusClaimed
		j.UpdatedAt = now
		claimed = append(claimed, clone(j))
	}
	return claimed, nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, statuses ...jobs.Status) ([]*jobs.Job, error) {
	want := make(map[jobs.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*jobs.Job
	for _, j := range m.jobs {
		if want[j.Status] {
			out = append(out, clone(j))
		}
	}
	byDispatchOrder(out)
	return out, nil
}

func (m *MemoryStore) FindActiveByURL(_ context.Context, url string) (*jobs.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *jobs.Job
	for _, j := range m.jobs {
		if j.URL != url || j.Status.IsTerminal() {
			continue
		}
		if newest == nil || j.CreatedAt.After(newest.CreatedAt) {
			newest = j
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return clone(newest), nil
}

func (m *MemoryStore) ListTerminalOlderThan(_ context.Context, cutoff time.Time) ([]*jobs.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*jobs.Job
	for _, j := range m.jobs {
		if j.Status.IsTerminal() && j.UpdatedAt.Before(cutoff) {
			out = append(out, clone(j))
		}
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) CountByStatus(_ context.Context) (map[jobs.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[jobs.Status]int64)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}
