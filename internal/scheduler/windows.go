// Package scheduler implements the attendance planning engine: matching
// sessions to the fixed daily attendance windows, picking one randomized
// firing time per session, remembering what was planned and fired, and
// dispatching firings at the right wall-clock moment.
//
// The package performs no network I/O. The timetable, the submission and the
// notifications are injected through the interfaces in internal/types.
package scheduler

import (
	"fmt"
	"time"

	"rollcall/internal/types"
)

// DefaultWindows is the attendance window table of the school day, in
// definition order.
var DefaultWindows = []types.AttendanceWindow{
	{ID: "M1", Start: types.MustTimeOfDay("08:00"), End: types.MustTimeOfDay("09:30")},
	{ID: "M2", Start: types.MustTimeOfDay("09:45"), End: types.MustTimeOfDay("11:15")},
	{ID: "M3", Start: types.MustTimeOfDay("11:30"), End: types.MustTimeOfDay("13:00")},
	{ID: "S1", Start: types.MustTimeOfDay("13:00"), End: types.MustTimeOfDay("14:30")},
	{ID: "S2", Start: types.MustTimeOfDay("14:45"), End: types.MustTimeOfDay("16:15")},
	{ID: "S3", Start: types.MustTimeOfDay("16:30"), End: types.MustTimeOfDay("18:00")},
	{ID: "S4", Start: types.MustTimeOfDay("18:15"), End: types.MustTimeOfDay("19:45")},
}

// WindowTable is the immutable, ordered set of attendance windows, bound to
// the canonical time zone in which they are localized.
type WindowTable struct {
	windows []types.AttendanceWindow
	loc     *time.Location
}

// NewWindowTable validates and freezes a window table. Windows must be
// non-empty, well-formed and must not overlap (touching bounds are allowed).
func NewWindowTable(windows []types.AttendanceWindow, loc *time.Location) (*WindowTable, error) {
	if loc == nil {
		return nil, fmt.Errorf("window table: location is nil")
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("window table: no windows defined")
	}

	day := time.Date(2000, 1, 1, 0, 0, 0, 0, loc)
	seen := make(map[string]bool, len(windows))
	for i, w := range windows {
		if seen[w.ID] {
			return nil, fmt.Errorf("window table: duplicate window id %q", w.ID)
		}
		seen[w.ID] = true

		if !w.End.On(day, loc).After(w.Start.On(day, loc)) {
			return nil, fmt.Errorf("window table: window %q ends before it starts", w.ID)
		}
		for _, other := range windows[:i] {
			if w.Start.On(day, loc).Before(other.End.On(day, loc)) &&
				w.End.On(day, loc).After(other.Start.On(day, loc)) {
				return nil, fmt.Errorf("window table: window %q overlaps %q", w.ID, other.ID)
			}
		}
	}

	frozen := make([]types.AttendanceWindow, len(windows))
	copy(frozen, windows)
	return &WindowTable{windows: frozen, loc: loc}, nil
}

// Location returns the canonical zone of the table.
func (t *WindowTable) Location() *time.Location {
	return t.loc
}

// Windows returns a copy of the table in definition order.
func (t *WindowTable) Windows() []types.AttendanceWindow {
	out := make([]types.AttendanceWindow, len(t.windows))
	copy(out, t.windows)
	return out
}

// On localizes every window to the calendar date of day.
func (t *WindowTable) On(day time.Time) []types.WindowInstance {
	out := make([]types.WindowInstance, 0, len(t.windows))
	for _, w := range t.windows {
		out = append(out, t.instance(w, day))
	}
	return out
}

// Match returns every window the interval [start, end] overlaps, localized to
// start's calendar date. Both bounds are closed, so a session that ends
// exactly when a window opens still matches it.
func (t *WindowTable) Match(start, end time.Time) []types.WindowInstance {
	var matched []types.WindowInstance
	for _, w := range t.windows {
		inst := t.instance(w, start)
		if !start.After(inst.End) && !end.Before(inst.Start) {
			matched = append(matched, inst)
		}
	}
	return matched
}

func (t *WindowTable) instance(w types.AttendanceWindow, day time.Time) types.WindowInstance {
	return types.WindowInstance{
		Window: w,
		ID:     w.ID,
		Start:  w.Start.On(day, t.loc),
		End:    w.End.On(day, t.loc),
	}
}
