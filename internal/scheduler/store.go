package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rollcall/internal/types"
)

// PlanStore remembers which sessions are planned and which firings happened.
// Implementations must be safe for concurrent use. The in-memory store is the
// default; db.PlanRepository provides the same contract on PostgreSQL.
type PlanStore interface {
	// Has reports whether a job is already planned for key.
	Has(ctx context.Context, key types.SessionKey) (bool, error)
	// Put stores a new job. Storing a second job for a planned key is an
	// invariant violation.
	Put(ctx context.Context, job types.PlannedJob) error
	// List returns every stored job ordered by firing time ascending.
	List(ctx context.Context) ([]types.PlannedJob, error)
	// UpdateState records a dispatcher state transition for job id.
	UpdateState(ctx context.Context, id string, state types.JobState, outcome string) error
	// RecordFiring appends a completed firing to the history.
	RecordFiring(ctx context.Context, rec types.AttendanceRecord) error
	// Records returns the firing history ordered by session start.
	Records(ctx context.Context) ([]types.AttendanceRecord, error)
	// WasAlreadyRecordedWithin reports whether a recorded firing of the
	// windows' calendar date falls inside any of them.
	WasAlreadyRecordedWithin(ctx context.Context, windows []types.WindowInstance) (bool, error)
	// Prune drops jobs and records of sessions that started before cutoff.
	Prune(ctx context.Context, cutoff time.Time) error
}

// MemoryStore is the process-lifetime PlanStore.
type MemoryStore struct {
	mu      sync.RWMutex
	loc     *time.Location
	jobs    map[types.SessionKey]types.PlannedJob
	byID    map[string]types.SessionKey
	records map[time.Time]string // session start (UTC) -> firing time of day
}

var _ PlanStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store that interprets recorded times of day
// in loc.
func NewMemoryStore(loc *time.Location) *MemoryStore {
	return &MemoryStore{
		loc:     loc,
		jobs:    make(map[types.SessionKey]types.PlannedJob),
		byID:    make(map[string]types.SessionKey),
		records: make(map[time.Time]string),
	}
}

func (m *MemoryStore) Has(_ context.Context, key types.SessionKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.jobs[key]
	return ok, nil
}

func (m *MemoryStore) Put(_ context.Context, job types.PlannedJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.jobs[job.Key]; ok {
		return types.NewAppError(types.ErrCodeInternalInvariant,
			fmt.Sprintf("session %s already planned as job %s", job.Key, existing.ID), nil)
	}
	m.jobs[job.Key] = job
	m.byID[job.ID] = job.Key
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]types.PlannedJob, error) {
	m.mu.RLock()
	out := make([]types.PlannedJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	m.mu.RUnlock()

	SortJobs(out)
	return out, nil
}

func (m *MemoryStore) UpdateState(_ context.Context, id string, state types.JobState, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byID[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundJob, fmt.Sprintf("job %s not found", id), nil)
	}
	job := m.jobs[key]
	job.State = state
	job.Outcome = outcome
	m.jobs[key] = job
	return nil
}

func (m *MemoryStore) RecordFiring(_ context.Context, rec types.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.SessionStart.UTC()] = rec.FiringTimeOfDay
	return nil
}

func (m *MemoryStore) Records(_ context.Context) ([]types.AttendanceRecord, error) {
	m.mu.RLock()
	out := make([]types.AttendanceRecord, 0, len(m.records))
	for start, tod := range m.records {
		out = append(out, types.AttendanceRecord{SessionStart: start.In(m.loc), FiringTimeOfDay: tod})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionStart.Before(out[j].SessionStart) })
	return out, nil
}

func (m *MemoryStore) WasAlreadyRecordedWithin(_ context.Context, windows []types.WindowInstance) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for start, tod := range m.records {
		fired, err := types.AttendanceRecord{SessionStart: start, FiringTimeOfDay: tod}.At(m.loc)
		if err != nil {
			return false, fmt.Errorf("memory store: corrupt record for %s: %w", start, err)
		}
		if RecordedWithin(fired, windows, m.loc) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) Prune(_ context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, job := range m.jobs {
		if job.Session.Start.Before(cutoff) {
			delete(m.jobs, key)
			delete(m.byID, job.ID)
		}
	}
	for start := range m.records {
		if start.Before(cutoff) {
			delete(m.records, start)
		}
	}
	return nil
}

// RecordedWithin reports whether a firing at fired happened on the calendar
// date of the windows and inside one of them. Shared by every PlanStore.
func RecordedWithin(fired time.Time, windows []types.WindowInstance, loc *time.Location) bool {
	firedDate := fired.In(loc).Format(types.DateLayout)
	for _, w := range windows {
		if w.Start.In(loc).Format(types.DateLayout) != firedDate {
			continue
		}
		if w.Contains(fired) {
			return true
		}
	}
	return false
}

// SortJobs orders jobs by firing time, then by key for a stable summary.
func SortJobs(jobs []types.PlannedJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].FiringTime.Equal(jobs[j].FiringTime) {
			return jobs[i].FiringTime.Before(jobs[j].FiringTime)
		}
		return jobs[i].Key.String() < jobs[j].Key.String()
	})
}
