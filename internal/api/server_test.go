package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rollcall/internal/types"
)

type mockPlanView struct {
	mock.Mock
}

func (m *mockPlanView) Jobs(ctx context.Context) ([]types.PlannedJob, error) {
	args := m.Called(ctx)
	jobs, _ := args.Get(0).([]types.PlannedJob)
	return jobs, args.Error(1)
}

func (m *mockPlanView) Records(ctx context.Context) ([]types.AttendanceRecord, error) {
	args := m.Called(ctx)
	recs, _ := args.Get(0).([]types.AttendanceRecord)
	return recs, args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

func newTestServer(t *testing.T, plan PlanView, probes ...HealthProbe) *Server {
	t.Helper()
	s, err := NewServer(plan, paris(t), discardLogger(), probes...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil, time.UTC, discardLogger())
	assert.Error(t, err)
	_, err = NewServer(&mockPlanView{}, time.UTC, nil)
	assert.Error(t, err)
}

func TestHandlePlan(t *testing.T) {
	loc := paris(t)
	start := time.Date(2026, time.October, 19, 8, 0, 0, 0, loc)
	s := types.Session{Name: "Algo", Start: start, End: start.Add(90 * time.Minute)}
	jobs := []types.PlannedJob{{
		ID:         "job-1",
		Key:        s.Key(loc),
		Session:    s,
		FiringTime: time.Date(2026, time.October, 19, 6, 4, 0, 0, time.UTC),
		Window:     types.WindowInstance{ID: "M1"},
		State:      types.JobSucceeded,
	}}

	plan := &mockPlanView{}
	plan.On("Jobs", mock.Anything).Return(jobs, nil)

	rec := do(t, newTestServer(t, plan), "/plan")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var body struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "Algo (08:00 - 09:30)", body.Data[0]["session"])
	assert.Equal(t, "2026-10-19", body.Data[0]["date"])
	assert.Equal(t, "2026-10-19T08:04:00+02:00", body.Data[0]["firing_time"])
	assert.Equal(t, "M1", body.Data[0]["window"])
	assert.Equal(t, "succeeded", body.Data[0]["state"])
	assert.NotContains(t, body.Data[0], "outcome")
}

func TestHandlePlan_EmptyIsArray(t *testing.T) {
	plan := &mockPlanView{}
	plan.On("Jobs", mock.Anything).Return(nil, nil)

	rec := do(t, newTestServer(t, plan), "/plan")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestHandlePlan_StoreError(t *testing.T) {
	plan := &mockPlanView{}
	plan.On("Jobs", mock.Anything).Return(nil,
		types.NewAppError(types.ErrCodeInternalDB, "failed to list planned jobs", errors.New("conn reset")))

	req := httptest.NewRequest(http.MethodGet, "/plan", nil)
	req.Header.Set(requestIDHeader, "req-7")
	rec := httptest.NewRecorder()
	newTestServer(t, plan).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_database_error", body.Error.Code)
	assert.Equal(t, "failed to list planned jobs", body.Error.Message)
	assert.Equal(t, "req-7", body.Error.RequestID)
	assert.NotContains(t, rec.Body.String(), "conn reset")
}

func TestHandleRecords(t *testing.T) {
	plan := &mockPlanView{}
	plan.On("Records", mock.Anything).Return([]types.AttendanceRecord{
		{SessionStart: time.Date(2026, time.October, 19, 6, 0, 0, 0, time.UTC), FiringTimeOfDay: "08:04"},
	}, nil)

	rec := do(t, newTestServer(t, plan), "/records")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[{"session_start":"2026-10-19T08:00:00+02:00","fired_at":"08:04"}]}`, rec.Body.String())
}

func TestHandleHealth(t *testing.T) {
	ok := ProbeFunc{ProbeName: "plan_store", Fn: func(context.Context) error { return nil }}
	failing := ProbeFunc{ProbeName: "plan_store", Fn: func(context.Context) error { return errors.New("connection refused") }}
	panicking := ProbeFunc{ProbeName: "broken", Fn: func(context.Context) error { panic("boom") }}

	tests := []struct {
		name   string
		probes []HealthProbe
		status int
		want   string
	}{
		{"no probes", nil, http.StatusOK, `{"status":"healthy"}`},
		{"healthy store", []HealthProbe{ok}, http.StatusOK,
			`{"status":"healthy","components":{"plan_store":{"status":"healthy"}}}`},
		{"unreachable store", []HealthProbe{failing}, http.StatusServiceUnavailable,
			`{"status":"unhealthy","components":{"plan_store":{"status":"unhealthy","message":"connection refused"}}}`},
		{"panicking probe", []HealthProbe{panicking}, http.StatusServiceUnavailable,
			`{"status":"unhealthy","components":{"broken":{"status":"unhealthy","message":"probe panicked: boom"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(t, &mockPlanView{}, tt.probes...), "/health")
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestHandleHealth_Timeout(t *testing.T) {
	slow := ProbeFunc{ProbeName: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	}}

	rec := do(t, newTestServer(t, &mockPlanView{}, slow), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "health check timed out")
}

func TestRecoverer(t *testing.T) {
	plan := &mockPlanView{}
	plan.On("Records", mock.Anything).Run(func(mock.Arguments) { panic("nil map") })

	rec := do(t, newTestServer(t, plan), "/records")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_unexpected_error")
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	s := newTestServer(t, &mockPlanView{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
