package api

import (
	"net/http"
	"time"

	"rollcall/internal/types"
)

// jobView is one planned job as served by GET /plan. Times are rendered in
// the configured zone.
type jobView struct {
	ID         string         `json:"id"`
	Session    string         `json:"session"`
	Date       string         `json:"date"`
	FiringTime time.Time      `json:"firing_time"`
	Window     string         `json:"window"`
	State      types.JobState `json:"state"`
	Outcome    string         `json:"outcome,omitempty"`
}

type recordView struct {
	SessionStart time.Time `json:"session_start"`
	FiredAt      string    `json:"fired_at"`
}

// HandlePlan lists every planned job ordered by firing time.
func (s *Server) HandlePlan(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Plan.Jobs(r.Context())
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "listing plan failed", append(types.LogAttrs(r.Context()), "error", err)...)
		Error(w, r, err)
		return
	}

	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobView{
			ID:         j.ID,
			Session:    j.Session.Label(s.Location),
			Date:       j.Key.Date,
			FiringTime: j.FiringTime.In(s.Location),
			Window:     j.Window.ID,
			State:      j.State,
			Outcome:    j.Outcome,
		})
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: out})
}

// HandleRecords lists the recorded firings ordered by session start.
func (s *Server) HandleRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Plan.Records(r.Context())
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "listing records failed", append(types.LogAttrs(r.Context()), "error", err)...)
		Error(w, r, err)
		return
	}

	out := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordView{
			SessionStart: rec.SessionStart.In(s.Location),
			FiredAt:      rec.FiringTimeOfDay,
		})
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: out})
}
