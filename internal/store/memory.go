package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// MemoryStore is an in-process Store. History is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	events map[string][]*schema.Event
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]*Run),
		events: make(map[string][]*schema.Event),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) SaveRun(_ context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *run
	now := time.Now().UTC()
	if prev, ok := m.runs[run.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = timeOrNow(run.CreatedAt)
	}
	cp.UpdatedAt = now
	cp.Steps = make([]*StepState, len(run.Steps))
	for i, st := range run.Steps {
		s := *st
		s.RunID = run.ID
		cp.Steps[i] = &s
	}
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*Run, error) {
	m.mu.RLock()
	var runs []*Run
	for _, r := range m.runs {
		if filter.Name != "" && r.Name != filter.Name {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && r.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *r
		cp.Steps = nil
		runs = append(runs, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[filter.Offset:]
	}
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (m *MemoryStore) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return storeNotFound("run", id)
	}
	delete(m.runs, id)
	delete(m.events, id)
	return nil
}

func (m *MemoryStore) ListStepStates(_ context.Context, runID string) ([]*StepState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(run.Steps), nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, event *schema.Event) error {
	if event == nil || event.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.events[event.RunID]
	cp := *event
	if cp.Sequence <= 0 {
		var last int64
		for _, e := range log {
			last = max(last, e.Sequence)
		}
		cp.Sequence = last + 1
	}
	for _, e := range log {
		if e.Sequence == cp.Sequence {
			return schema.NewErrorf(schema.ErrCodeConflict, "run %s already has event %d", cp.RunID, cp.Sequence)
		}
	}
	cp.Timestamp = timeOrNow(cp.Timestamp)
	cp.ID = int64(len(log) + 1)
	m.events[event.RunID] = append(log, &cp)
	return nil
}

func (m *MemoryStore) GetEvents(_ context.Context, runID string, since int64) ([]*schema.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schema.Event
	for _, e := range m.events[runID] {
		if e.Sequence > since {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *MemoryStore) GetEventsByType(_ context.Context, eventType string, filter EventFilter) ([]*schema.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schema.Event
	for runID, log := range m.events {
		if filter.RunID != "" && runID != filter.RunID {
			continue
		}
		for _, e := range log {
			if e.Type != eventType {
				continue
			}
			if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
				continue
			}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Sequence < out[j].Sequence
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
