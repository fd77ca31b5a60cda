package db

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/scheduler"
	"rollcall/internal/types"
)

const jobColumns = `id, session_date, session_name, start_tod, end_tod,
	session_start, session_end, firing_time,
	window_id, window_start, window_end, state, outcome`

// PlanRepository is the durable scheduler.PlanStore. It survives restarts,
// which lets the service resume today's plan instead of re-planning it.
type PlanRepository struct {
	db  DBTX
	loc *time.Location
}

var _ scheduler.PlanStore = (*PlanRepository)(nil)

// NewPlanRepository creates a PlanRepository interpreting dates and times of
// day in loc.
func NewPlanRepository(db DBTX, loc *time.Location) *PlanRepository {
	return &PlanRepository{db: db, loc: loc}
}

// Ping checks that the database answers.
func (r *PlanRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "plan store unreachable", err)
	}
	return nil
}

func (r *PlanRepository) Has(ctx context.Context, key types.SessionKey) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM planned_jobs
		    WHERE session_date = $1 AND session_name = $2 AND start_tod = $3 AND end_tod = $4)`,
		key.Date, key.Name, key.Start, key.End,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to look up planned job", err)
	}
	return exists, nil
}

func (r *PlanRepository) Put(ctx context.Context, job types.PlannedJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO planned_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID,
		job.Key.Date,
		job.Key.Name,
		job.Key.Start,
		job.Key.End,
		job.Session.Start.UTC(),
		job.Session.End.UTC(),
		job.FiringTime.UTC(),
		job.Window.ID,
		job.Window.Start.UTC(),
		job.Window.End.UTC(),
		string(job.State),
		job.Outcome,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeInternalInvariant,
				fmt.Sprintf("session %s already planned", job.Key), err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert planned job", err)
	}
	return nil
}

func (r *PlanRepository) List(ctx context.Context) ([]types.PlannedJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM planned_jobs ORDER BY firing_time ASC`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list planned jobs", err)
	}
	defer rows.Close()

	var jobs []types.PlannedJob
	for rows.Next() {
		var (
			j            types.PlannedJob
			state        string
			windowStart  time.Time
			windowEnd    time.Time
			sessionStart time.Time
			sessionEnd   time.Time
			firingTime   time.Time
		)
		if err := rows.Scan(
			&j.ID,
			&j.Key.Date,
			&j.Key.Name,
			&j.Key.Start,
			&j.Key.End,
			&sessionStart,
			&sessionEnd,
			&firingTime,
			&j.Window.ID,
			&windowStart,
			&windowEnd,
			&state,
			&j.Outcome,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan planned job", err)
		}
		j.Session = types.Session{Name: j.Key.Name, Start: sessionStart.In(r.loc), End: sessionEnd.In(r.loc)}
		j.FiringTime = firingTime.In(r.loc)
		j.Window.Start = windowStart.In(r.loc)
		j.Window.End = windowEnd.In(r.loc)
		j.Window.Window = types.AttendanceWindow{
			ID:    j.Window.ID,
			Start: types.TimeOfDay{Hour: j.Window.Start.Hour(), Minute: j.Window.Start.Minute()},
			End:   types.TimeOfDay{Hour: j.Window.End.Hour(), Minute: j.Window.End.Minute()},
		}
		j.State = types.JobState(state)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate planned jobs", err)
	}

	scheduler.SortJobs(jobs)
	return jobs, nil
}

func (r *PlanRepository) UpdateState(ctx context.Context, id string, state types.JobState, outcome string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE planned_jobs SET state = $2, outcome = $3 WHERE id = $1`,
		id, string(state), outcome)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update job state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, fmt.Sprintf("job %s not found", id), nil)
	}
	return nil
}

// RecordFiring upserts the record: one firing per session start.
func (r *PlanRepository) RecordFiring(ctx context.Context, rec types.AttendanceRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO attendance_records (session_start, firing_tod)
		 VALUES ($1, $2)
		 ON CONFLICT (session_start) DO UPDATE SET firing_tod = EXCLUDED.firing_tod`,
		rec.SessionStart.UTC(), rec.FiringTimeOfDay)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record firing", err)
	}
	return nil
}

func (r *PlanRepository) Records(ctx context.Context) ([]types.AttendanceRecord, error) {
	return r.queryRecords(ctx,
		`SELECT session_start, firing_tod FROM attendance_records ORDER BY session_start ASC`)
}

// WasAlreadyRecordedWithin loads the records of the windows' calendar dates
// and checks them against the windows.
func (r *PlanRepository) WasAlreadyRecordedWithin(ctx context.Context, windows []types.WindowInstance) (bool, error) {
	if len(windows) == 0 {
		return false, nil
	}
	from, to := r.dayBounds(windows[0].Start)
	for _, w := range windows[1:] {
		f, t := r.dayBounds(w.Start)
		if f.Before(from) {
			from = f
		}
		if t.After(to) {
			to = t
		}
	}

	recs, err := r.queryRecords(ctx,
		`SELECT session_start, firing_tod FROM attendance_records
		  WHERE session_start >= $1 AND session_start < $2`,
		from.UTC(), to.UTC())
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		fired, err := rec.At(r.loc)
		if err != nil {
			return false, types.NewAppError(types.ErrCodeInternalDB,
				fmt.Sprintf("corrupt attendance record for %s", rec.SessionStart), err)
		}
		if scheduler.RecordedWithin(fired, windows, r.loc) {
			return true, nil
		}
	}
	return false, nil
}

func (r *PlanRepository) Prune(ctx context.Context, cutoff time.Time) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM planned_jobs WHERE session_start < $1`, cutoff.UTC()); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to prune planned jobs", err)
	}
	if _, err := r.db.Exec(ctx,
		`DELETE FROM attendance_records WHERE session_start < $1`, cutoff.UTC()); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to prune attendance records", err)
	}
	return nil
}

func (r *PlanRepository) queryRecords(ctx context.Context, sql string, args ...any) ([]types.AttendanceRecord, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query attendance records", err)
	}
	defer rows.Close()

	var recs []types.AttendanceRecord
	for rows.Next() {
		var rec types.AttendanceRecord
		if err := rows.Scan(&rec.SessionStart, &rec.FiringTimeOfDay); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan attendance record", err)
		}
		rec.SessionStart = rec.SessionStart.In(r.loc)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate attendance records", err)
	}
	return recs, nil
}

// dayBounds returns the local midnight of t's date and the next one.
func (r *PlanRepository) dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.In(r.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, r.loc)
	return start, start.AddDate(0, 0, 1)
}
