package scheduler

import (
	"context"
	"time"

	"rollcall/internal/types"
)

// Metrics receives planning and firing counters. The CloudWatch
// implementation lives in internal/metrics.
type Metrics interface {
	// RecordPlanned counts jobs created by one re-plan cycle.
	RecordPlanned(ctx context.Context, count int)
	// RecordFiring counts a finished firing and how long the submission took.
	RecordFiring(ctx context.Context, state types.JobState, latency time.Duration)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordPlanned(context.Context, int)                          {}
func (NoopMetrics) RecordFiring(context.Context, types.JobState, time.Duration) {}
