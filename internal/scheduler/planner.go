package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/types"
)

// ReplanResult describes the effect of one Replan call.
type ReplanResult struct {
	// Unchanged is true when the filtered session list matched the previous
	// call and nothing was evaluated.
	Unchanged bool
	// New holds the jobs planned by this call, ordered by firing time.
	New []types.PlannedJob
	// Summary holds every job known to the store, ordered by firing time.
	Summary []types.PlannedJob
}

// PlannerConfig holds the dependencies of a Planner.
type PlannerConfig struct {
	Windows  *WindowTable
	Selector *Selector
	Store    PlanStore
	DenyList DenyList
	Clock    types.Clock
	Metrics  Metrics
	Locale   types.Locale
	Logger   *slog.Logger
}

// Planner turns timetable snapshots into planned jobs. It owns the
// previous-snapshot cache and serializes planning against firing records so
// that a session is never planned twice and a slot that already fired is never
// planned again.
type Planner struct {
	windows  *WindowTable
	selector *Selector
	store    PlanStore
	deny     DenyList
	clock    types.Clock
	metrics  Metrics
	msgs     types.Messages
	logger   *slog.Logger

	// mu guards previous and makes the has/match/recorded/select/put sequence
	// atomic with respect to RecordFiring.
	mu       sync.Mutex
	previous []types.Session
	primed   bool
}

// NewPlanner creates a Planner with the given configuration.
func NewPlanner(cfg PlannerConfig) (*Planner, error) {
	if cfg.Windows == nil || cfg.Selector == nil || cfg.Store == nil {
		return nil, fmt.Errorf("planner: windows, selector and store are required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		windows:  cfg.Windows,
		selector: cfg.Selector,
		store:    cfg.Store,
		deny:     cfg.DenyList,
		clock:    clock,
		metrics:  metrics,
		msgs:     types.MessagesFor(cfg.Locale),
		logger:   logger,
	}, nil
}

// Location returns the canonical zone the planner works in.
func (p *Planner) Location() *time.Location {
	return p.windows.Location()
}

// Replan filters raw, and plans a job for every session of today that has no
// job yet, overlaps at least one window, has no recorded firing in those
// windows and gets a valid firing time. Calling it again with the same
// session list is a no-op.
func (p *Planner) Replan(ctx context.Context, raw []types.Session) (ReplanResult, error) {
	sessions := p.deny.Filter(raw)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.primed && sameSessions(sessions, p.previous) {
		return ReplanResult{Unchanged: true}, nil
	}

	loc := p.windows.Location()
	today := p.clock.Now().In(loc).Format(types.DateLayout)

	var planned []types.PlannedJob
	for _, s := range sessions {
		if s.Start.In(loc).Format(types.DateLayout) != today {
			continue
		}

		job, ok, err := p.planOne(ctx, s)
		if err != nil {
			return ReplanResult{}, err
		}
		if ok {
			planned = append(planned, job)
		}
	}

	p.previous = append(p.previous[:0:0], sessions...)
	p.primed = true

	summary, err := p.store.List(ctx)
	if err != nil {
		return ReplanResult{}, fmt.Errorf("listing planned jobs: %w", err)
	}

	SortJobs(planned)
	if len(planned) > 0 {
		p.metrics.RecordPlanned(ctx, len(planned))
	}
	p.logSummary(ctx, summary)

	return ReplanResult{New: planned, Summary: summary}, nil
}

func (p *Planner) planOne(ctx context.Context, s types.Session) (types.PlannedJob, bool, error) {
	loc := p.windows.Location()
	key := s.Key(loc)

	exists, err := p.store.Has(ctx, key)
	if err != nil {
		return types.PlannedJob{}, false, fmt.Errorf("checking plan for %s: %w", key, err)
	}
	if exists {
		return types.PlannedJob{}, false, nil
	}

	windows := p.windows.Match(s.Start, s.End)
	if len(windows) == 0 {
		p.logger.DebugContext(ctx, "session outside attendance windows",
			append(types.LogAttrs(ctx), "session", s.Label(loc))...)
		return types.PlannedJob{}, false, nil
	}

	recorded, err := p.store.WasAlreadyRecordedWithin(ctx, windows)
	if err != nil {
		return types.PlannedJob{}, false, fmt.Errorf("checking firing history for %s: %w", key, err)
	}
	if recorded {
		p.logger.InfoContext(ctx, "attendance already fired in session window",
			append(types.LogAttrs(ctx), "session", s.Label(loc))...)
		return types.PlannedJob{}, false, nil
	}

	firing, window, ok := p.selector.Select(s, windows)
	if !ok {
		p.logger.InfoContext(ctx, "no firing time fits the session windows",
			append(types.LogAttrs(ctx), "session", s.Label(loc))...)
		return types.PlannedJob{}, false, nil
	}

	job := types.PlannedJob{
		ID:         uuid.New().String(),
		Key:        key,
		Session:    s,
		FiringTime: firing,
		Window:     window,
		State:      types.JobScheduled,
	}
	if err := p.store.Put(ctx, job); err != nil {
		return types.PlannedJob{}, false, fmt.Errorf("storing plan for %s: %w", key, err)
	}
	return job, true, nil
}

// RecordFiring marks job's slot as fired. It is called by the Dispatcher when
// a job starts firing, whatever the outcome turns out to be.
func (p *Planner) RecordFiring(ctx context.Context, job types.PlannedJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := types.AttendanceRecord{
		SessionStart:    job.Session.Start,
		FiringTimeOfDay: job.FiringTime.In(p.windows.Location()).Format(types.TimeOfDayLayout),
	}
	if err := p.store.RecordFiring(ctx, rec); err != nil {
		return fmt.Errorf("recording firing for %s: %w", job.Key, err)
	}
	return nil
}

// UpdateState forwards a dispatcher transition to the store.
func (p *Planner) UpdateState(ctx context.Context, job types.PlannedJob, state types.JobState, outcome string) error {
	return p.store.UpdateState(ctx, job.ID, state, outcome)
}

// Jobs returns every stored job ordered by firing time.
func (p *Planner) Jobs(ctx context.Context) ([]types.PlannedJob, error) {
	return p.store.List(ctx)
}

// Records returns the firing history.
func (p *Planner) Records(ctx context.Context) ([]types.AttendanceRecord, error) {
	return p.store.Records(ctx)
}

// Prune forgets every job and record from days before today.
func (p *Planner) Prune(ctx context.Context) error {
	cutoff := p.startOfDay()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Prune(ctx, cutoff)
}

// startOfDay is today's midnight in the canonical zone.
func (p *Planner) startOfDay() time.Time {
	loc := p.windows.Location()
	now := p.clock.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

func (p *Planner) logSummary(ctx context.Context, summary []types.PlannedJob) {
	loc := p.windows.Location()
	for _, j := range summary {
		at := j.FiringTime.In(loc).Format(types.TimeOfDayLayout)
		p.logger.InfoContext(ctx, p.msgs.Planned(j.Session.Label(loc), at),
			append(types.LogAttrs(ctx),
				"job_id", j.ID,
				"session", j.Key.Name,
				"firing_time", at,
				"state", string(j.State),
			)...)
	}
}

// sameSessions reports multiset equality of two session lists.
func sameSessions(a, b []types.Session) bool {
	if len(a) != len(b) {
		return false
	}
	as := sortedSessions(a)
	bs := sortedSessions(b)
	for i := range as {
		if !as[i].Equal(bs[i]) {
			return false
		}
	}
	return true
}

func sortedSessions(in []types.Session) []types.Session {
	out := append([]types.Session(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		if !out[i].End.Equal(out[j].End) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].Name < out[j].Name
	})
	return out
}
