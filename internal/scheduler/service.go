package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rollcall/internal/types"
)

// DefaultReplanInterval is the period of the re-plan tick.
const DefaultReplanInterval = 15 * time.Minute

// OutcomeInterrupted is stored on jobs found mid-firing at startup.
const OutcomeInterrupted = "interrupted by restart"

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	Provider   types.TimetableProvider
	Planner    *Planner
	Dispatcher *Dispatcher
	Interval   time.Duration
	Logger     *slog.Logger
}

// Service is the long-running driver: it re-plans on a fixed tick and keeps
// the dispatcher fed.
type Service struct {
	provider   types.TimetableProvider
	planner    *Planner
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *slog.Logger
}

// NewService creates a Service with the given configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Provider == nil || cfg.Planner == nil || cfg.Dispatcher == nil {
		return nil, fmt.Errorf("service: provider, planner and dispatcher are required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultReplanInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:   cfg.Provider,
		planner:    cfg.Planner,
		dispatcher: cfg.Dispatcher,
		interval:   interval,
		logger:     logger,
	}, nil
}

// Run resumes jobs left in the store, then runs the dispatcher and the
// re-plan tick until ctx is cancelled or a fatal error occurs.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Resume(ctx); err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.dispatcher.Run(gCtx)
	})
	g.Go(func() error {
		return s.tick(gCtx)
	})
	return g.Wait()
}

func (s *Service) tick(ctx context.Context) error {
	if err := s.Cycle(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Cycle(ctx); err != nil {
				return err
			}
		}
	}
}

// Cycle runs one housekeeping + fetch + re-plan pass. It returns an error only
// when the process must stop; transient failures are logged and retried on
// the next tick.
func (s *Service) Cycle(ctx context.Context) error {
	ctx = types.WithCycleID(ctx, uuid.New().String())
	attrs := types.LogAttrs(ctx)

	cutoff := s.planner.startOfDay()
	if err := s.planner.Prune(ctx); err != nil {
		s.logger.WarnContext(ctx, "housekeeping failed", append(attrs, "error", err)...)
	} else {
		s.dispatcher.Forget(cutoff)
	}

	sessions, err := s.provider.FetchTodaySessions(ctx)
	if err != nil {
		if types.IsFatal(err) {
			s.logger.ErrorContext(ctx, "timetable provider returned unusable data", append(attrs, "error", err)...)
			return err
		}
		s.logger.ErrorContext(ctx, "timetable fetch failed, retrying next tick", append(attrs, "error", err)...)
		return nil
	}

	result, err := s.planner.Replan(ctx, sessions)
	if err != nil {
		if types.IsCode(err, types.ErrCodeInternalInvariant) {
			s.logger.ErrorContext(ctx, "plan store invariant violated", append(attrs, "error", err)...)
			return err
		}
		s.logger.ErrorContext(ctx, "re-plan failed, retrying next tick", append(attrs, "error", err)...)
		return nil
	}
	if result.Unchanged {
		s.logger.DebugContext(ctx, "timetable unchanged", attrs...)
		return nil
	}

	// Summary also holds jobs stored by an earlier pass that failed before
	// returning them. Schedule skips the ones already handed over.
	s.dispatcher.Schedule(result.Summary...)
	s.logger.InfoContext(ctx, "re-plan complete",
		append(attrs, "sessions", len(sessions), "planned", len(result.New), "total", len(result.Summary))...)
	return nil
}

// Resume hands the dispatcher every job the store still holds as scheduled
// and closes jobs that were interrupted mid-firing by a restart. With the
// in-memory store this is a no-op.
func (s *Service) Resume(ctx context.Context) error {
	jobs, err := s.planner.Jobs(ctx)
	if err != nil {
		return fmt.Errorf("loading stored jobs: %w", err)
	}

	var pending []types.PlannedJob
	for _, j := range jobs {
		switch j.State {
		case types.JobScheduled:
			pending = append(pending, j)
		case types.JobFiring:
			if err := s.planner.UpdateState(ctx, j, types.JobFailed, OutcomeInterrupted); err != nil {
				s.logger.WarnContext(ctx, "failed to close interrupted job", "job_id", j.ID, "error", err)
			}
		}
	}
	if len(pending) > 0 {
		s.logger.InfoContext(ctx, "resuming stored jobs", "count", len(pending))
		s.dispatcher.Schedule(pending...)
	}
	return nil
}
