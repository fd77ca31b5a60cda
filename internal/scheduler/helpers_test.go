package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"rollcall/internal/types"
)

// ============================================================
// Shared fixtures
// ============================================================

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// at returns 2026-10-19 hh:mm in loc.
func at(loc *time.Location, hh, mm int) time.Time {
	return time.Date(2026, time.October, 19, hh, mm, 0, 0, loc)
}

func session(loc *time.Location, name string, sh, sm, eh, em int) types.Session {
	return types.Session{Name: name, Start: at(loc, sh, sm), End: at(loc, eh, em)}
}

func defaultTable(t *testing.T, loc *time.Location) *WindowTable {
	t.Helper()
	table, err := NewWindowTable(DefaultWindows, loc)
	require.NoError(t, err)
	return table
}

func fixedSelector(t *testing.T, minutes int) *Selector {
	t.Helper()
	sel, err := NewSelector(minutes, minutes, 42)
	require.NoError(t, err)
	return sel
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type plannerFixture struct {
	planner *Planner
	store   *MemoryStore
	clock   *fakeClock
	loc     *time.Location
}

func newPlannerFixture(t *testing.T, deny DenyList, delay int) *plannerFixture {
	t.Helper()
	loc := paris(t)
	store := NewMemoryStore(loc)
	clock := newFakeClock(at(loc, 7, 0))
	p, err := NewPlanner(PlannerConfig{
		Windows:  defaultTable(t, loc),
		Selector: fixedSelector(t, delay),
		Store:    store,
		DenyList: deny,
		Clock:    clock,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	return &plannerFixture{planner: p, store: store, clock: clock, loc: loc}
}

func (f *plannerFixture) replan(t *testing.T, sessions ...types.Session) ReplanResult {
	t.Helper()
	res, err := f.planner.Replan(context.Background(), sessions)
	require.NoError(t, err)
	return res
}
