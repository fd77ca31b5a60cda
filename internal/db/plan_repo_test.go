package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rollcall/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row / Rows ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// mockRows replays rows of values, assigning each to the matching Scan
// destination by type.
type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data ...[]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	for i, v := range r.data[r.idx] {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// --- Fixtures ---

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

func testJob(loc *time.Location) types.PlannedJob {
	start := time.Date(2026, time.October, 19, 8, 0, 0, 0, loc)
	s := types.Session{Name: "Algo", Start: start, End: start.Add(90 * time.Minute)}
	return types.PlannedJob{
		ID:         "job-1",
		Key:        s.Key(loc),
		Session:    s,
		FiringTime: time.Date(2026, time.October, 19, 8, 4, 0, 0, loc),
		Window: types.WindowInstance{
			ID:    "M1",
			Start: time.Date(2026, time.October, 19, 8, 0, 0, 0, loc),
			End:   time.Date(2026, time.October, 19, 9, 45, 0, 0, loc),
		},
		State: types.JobScheduled,
	}
}

func jobRow(j types.PlannedJob) []any {
	return []any{
		j.ID, j.Key.Date, j.Key.Name, j.Key.Start, j.Key.End,
		j.Session.Start.UTC(), j.Session.End.UTC(), j.FiringTime.UTC(),
		j.Window.ID, j.Window.Start.UTC(), j.Window.End.UTC(),
		string(j.State), j.Outcome,
	}
}

// --- Tests ---

func TestEnsureSchema(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "CREATE TABLE IF NOT EXISTS planned_jobs") &&
			strings.Contains(sql, "CREATE TABLE IF NOT EXISTS attendance_records")
	}), mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil)

	require.NoError(t, EnsureSchema(context.Background(), db))
	db.AssertExpectations(t)

	failing := new(mockDBTX)
	failing.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("permission denied"))
	err := EnsureSchema(context.Background(), failing)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestPlanRepository_Has(t *testing.T) {
	loc := paris(t)
	job := testJob(loc)

	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"),
		[]any{"2026-10-19", "Algo", "08:00", "09:30"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*bool) = true
			return nil
		}})

	ok, err := NewPlanRepository(db, loc).Has(context.Background(), job.Key)
	require.NoError(t, err)
	assert.True(t, ok)
	db.AssertExpectations(t)
}

func TestPlanRepository_Put(t *testing.T) {
	loc := paris(t)
	job := testJob(loc)

	t.Run("inserts utc timestamps", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

		require.NoError(t, NewPlanRepository(db, loc).Put(context.Background(), job))

		args := db.Calls[0].Arguments.Get(2).([]any)
		require.Len(t, args, 13)
		assert.Equal(t, "job-1", args[0])
		assert.Equal(t, time.UTC, args[7].(time.Time).Location())
		assert.True(t, args[7].(time.Time).Equal(job.FiringTime))
		assert.Equal(t, "scheduled", args[11])
	})

	t.Run("duplicate key is an invariant violation", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})

		err := NewPlanRepository(db, loc).Put(context.Background(), job)
		assert.True(t, types.IsCode(err, types.ErrCodeInternalInvariant))
	})

	t.Run("other errors are database errors", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.CommandTag{}, errors.New("connection reset"))

		err := NewPlanRepository(db, loc).Put(context.Background(), job)
		assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
	})
}

func TestPlanRepository_List(t *testing.T) {
	loc := paris(t)
	early := testJob(loc)
	late := testJob(loc)
	late.ID = "job-2"
	late.Session.Name = "Réseaux"
	late.Session.Start = time.Date(2026, time.October, 19, 13, 0, 0, 0, loc)
	late.Session.End = late.Session.Start.Add(90 * time.Minute)
	late.Key = late.Session.Key(loc)
	late.FiringTime = time.Date(2026, time.October, 19, 13, 5, 0, 0, loc)
	late.State = types.JobFailed
	late.Outcome = "missed window"

	db := new(mockDBTX)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(jobRow(late), jobRow(early)), nil)

	jobs, err := NewPlanRepository(db, loc).List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, early.Key, jobs[0].Key)
	assert.True(t, jobs[0].Session.Equal(early.Session))
	assert.Equal(t, loc, jobs[0].FiringTime.Location())
	assert.Equal(t, types.TimeOfDay{Hour: 9, Minute: 45}, jobs[0].Window.Window.End)

	assert.Equal(t, "job-2", jobs[1].ID)
	assert.Equal(t, types.JobFailed, jobs[1].State)
	assert.Equal(t, "missed window", jobs[1].Outcome)
}

func TestPlanRepository_ListScanError(t *testing.T) {
	db := new(mockDBTX)
	rows := newMockRows([]any{})
	rows.scanErr = errors.New("bad column")
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := NewPlanRepository(db, time.UTC).List(context.Background())
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestPlanRepository_UpdateState(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"),
		[]any{"job-1", "succeeded", ""}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"),
		[]any{"job-404", "failed", "interrupted by restart"}).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	repo := NewPlanRepository(db, time.UTC)
	require.NoError(t, repo.UpdateState(context.Background(), "job-1", types.JobSucceeded, ""))

	err := repo.UpdateState(context.Background(), "job-404", types.JobFailed, "interrupted by restart")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundJob))
}

func TestPlanRepository_WasAlreadyRecordedWithin(t *testing.T) {
	loc := paris(t)
	day := func(hh, mm int) time.Time { return time.Date(2026, time.October, 19, hh, mm, 0, 0, loc) }
	windows := []types.WindowInstance{{ID: "M1", Start: day(8, 0), End: day(9, 45)}}

	tests := []struct {
		name    string
		records [][]any
		want    bool
	}{
		{"fired inside window", [][]any{{day(8, 0).UTC(), "08:04"}}, true},
		{"fired in another window", [][]any{{day(10, 0).UTC(), "10:02"}}, false},
		{"no records", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			db.On("Query", mock.Anything, mock.AnythingOfType("string"),
				[]any{time.Date(2026, time.October, 18, 22, 0, 0, 0, time.UTC), time.Date(2026, time.October, 19, 22, 0, 0, 0, time.UTC)}).
				Return(newMockRows(tt.records...), nil)

			got, err := NewPlanRepository(db, loc).WasAlreadyRecordedWithin(context.Background(), windows)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			db.AssertExpectations(t)
		})
	}

	t.Run("no windows skips the query", func(t *testing.T) {
		db := new(mockDBTX)
		got, err := NewPlanRepository(db, loc).WasAlreadyRecordedWithin(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, got)
		db.AssertNotCalled(t, "Query")
	})
}

func TestPlanRepository_RecordsAndPrune(t *testing.T) {
	loc := paris(t)
	start := time.Date(2026, time.October, 19, 8, 0, 0, 0, loc)

	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([]any{start.UTC(), "08:04"}), nil)

	repo := NewPlanRepository(db, loc)
	require.NoError(t, repo.RecordFiring(context.Background(),
		types.AttendanceRecord{SessionStart: start, FiringTimeOfDay: "08:04"}))

	recs, err := repo.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, loc, recs[0].SessionStart.Location())
	assert.Equal(t, "08:04", recs[0].FiringTimeOfDay)

	require.NoError(t, repo.Prune(context.Background(), start))
	db.AssertNumberOfCalls(t, "Exec", 3)
}

func TestPlanRepository_Ping(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, "SELECT 1", mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	err := NewPlanRepository(db, time.UTC).Ping(context.Background())
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}
