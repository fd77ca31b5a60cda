package types

import (
	"fmt"
	"time"
)

// Layouts used for keys, records and human-readable output.
const (
	DateLayout      = "2006-01-02"
	TimeOfDayLayout = "15:04"
)

// TimeOfDay is a wall-clock offset from midnight with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(TimeOfDayLayout, s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustTimeOfDay is ParseTimeOfDay for package-level tables; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

// On localizes the time of day to the calendar date of day in loc.
// The date is read in loc, so the host's local zone never leaks in.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// AttendanceWindow is a fixed daily interval during which attendance may be
// submitted. Windows are immutable once the table is built.
type AttendanceWindow struct {
	ID    string
	Start TimeOfDay
	End   TimeOfDay
}

// WindowInstance is an AttendanceWindow localized to one calendar date.
type WindowInstance struct {
	Window AttendanceWindow `json:"-"`
	ID     string           `json:"id"`
	Start  time.Time        `json:"start"`
	End    time.Time        `json:"end"`
}

// Contains reports whether t lies inside the window, bounds included.
func (w WindowInstance) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Session is one timetabled class occurrence.
type Session struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Equal reports value equality over the session tuple.
func (s Session) Equal(o Session) bool {
	return s.Name == o.Name && s.Start.Equal(o.Start) && s.End.Equal(o.End)
}

// Key derives the dedup identity of the session in loc.
func (s Session) Key(loc *time.Location) SessionKey {
	start := s.Start.In(loc)
	return SessionKey{
		Date:  start.Format(DateLayout),
		Name:  s.Name,
		Start: start.Format(TimeOfDayLayout),
		End:   s.End.In(loc).Format(TimeOfDayLayout),
	}
}

// Label renders "Name (HH:MM - HH:MM)" in loc.
func (s Session) Label(loc *time.Location) string {
	return fmt.Sprintf("%s (%s - %s)", s.Name,
		s.Start.In(loc).Format(TimeOfDayLayout),
		s.End.In(loc).Format(TimeOfDayLayout))
}

// SessionKey identifies a session for deduplication: two sessions of the same
// day are the same iff name, start and end time of day match exactly.
type SessionKey struct {
	Date  string `json:"date"`
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Date, k.Name, k.Start, k.End)
}

// JobState is the lifecycle state of a PlannedJob.
type JobState string

const (
	JobScheduled JobState = "scheduled"
	JobFiring    JobState = "firing"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// PlannedJob is a scheduled future firing for one session.
type PlannedJob struct {
	ID         string         `json:"id"`
	Key        SessionKey     `json:"key"`
	Session    Session        `json:"session"`
	FiringTime time.Time      `json:"firing_time"`
	Window     WindowInstance `json:"window"`
	State      JobState       `json:"state"`
	Outcome    string         `json:"outcome,omitempty"`
}

// AttendanceRecord is written when a job actually fires.
type AttendanceRecord struct {
	SessionStart    time.Time `json:"session_start"`
	FiringTimeOfDay string    `json:"firing_time"`
}

// At resolves the recorded time of day onto the session's date in loc.
func (r AttendanceRecord) At(loc *time.Location) (time.Time, error) {
	tod, err := ParseTimeOfDay(r.FiringTimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return tod.On(r.SessionStart, loc), nil
}
