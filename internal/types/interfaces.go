package types

import (
	"context"
	"time"
)

// TimetableProvider returns the sessions scheduled for the current day.
type TimetableProvider interface {
	FetchTodaySessions(ctx context.Context) ([]Session, error)
}

// Submitter performs the attendance submission for one session.
// A nil error means the submission was confirmed.
type Submitter interface {
	Submit(ctx context.Context, s Session) error
}

// Notifier delivers a human-readable message. Implementations are
// fire-and-forget from the caller's perspective; errors are for logging only.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }
