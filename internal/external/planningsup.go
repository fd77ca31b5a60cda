package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rollcall/internal/types"
)

const (
	planningAPIPath = "/api/v1/calendars"
	// maxPlanningBody bounds the timetable payload read into memory.
	maxPlanningBody = 10 << 20
)

// PlanningConfig holds the configuration for creating a PlanningClient.
type PlanningConfig struct {
	BaseURL   string
	Formation string
	Year      int
	Group     int
	// LookbackGrace keeps sessions that started less than this long ago.
	LookbackGrace time.Duration
	Location      *time.Location
	Clock         types.Clock
	Logger        *slog.Logger
}

// planningResponse is the PlanningSup calendars payload. Times are Unix
// milliseconds.
type planningResponse struct {
	Plannings []struct {
		Events []planningEvent `json:"events"`
	} `json:"plannings"`
}

type planningEvent struct {
	Name  string   `json:"name"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// PlanningClient fetches the group's sessions from PlanningSup. It
// implements types.TimetableProvider.
type PlanningClient struct {
	base   *BaseClient
	url    string
	loc    *time.Location
	grace  time.Duration
	clock  types.Clock
	logger *slog.Logger
}

var _ types.TimetableProvider = (*PlanningClient)(nil)

// CalendarIDs returns the PlanningSup calendar identifiers of a group. Third
// and fourth years span two semester calendars; fifth year has a single one.
func CalendarIDs(formation string, year, group int) ([]string, error) {
	switch year {
	case 3, 4:
		first := 5
		if year == 4 {
			first = 7
		}
		ids := make([]string, 0, 2)
		for _, s := range []int{first, first + 1} {
			ids = append(ids, fmt.Sprintf("ensibs.%s.%demeannee.semestre%ds%d.tp%d", formation, year, s, s, group))
		}
		return ids, nil
	case 5:
		return []string{fmt.Sprintf("ensibs.%s.%demeannee.tp%d", formation, year, group)}, nil
	default:
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			fmt.Sprintf("no PlanningSup calendar for year %d", year), nil)
	}
}

// NewPlanningClient creates a PlanningClient for the configured group.
func NewPlanningClient(httpClient *http.Client, cfg PlanningConfig, opts ...BaseClientOption) (*PlanningClient, error) {
	ids, err := CalendarIDs(cfg.Formation, cfg.Year, cfg.Group)
	if err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		return nil, fmt.Errorf("planningsup: location is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"planningsup",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    1 * time.Second,
			MaxWait:    10 * time.Second,
		},
		DefaultUserAgent,
		opts...,
	)

	return &PlanningClient{
		base:   base,
		url:    strings.TrimSuffix(cfg.BaseURL, "/") + planningAPIPath + "?p=" + strings.Join(ids, ","),
		loc:    cfg.Location,
		grace:  cfg.LookbackGrace,
		clock:  clock,
		logger: logger,
	}, nil
}

// URL returns the calendar endpoint queried on each fetch.
func (c *PlanningClient) URL() string {
	return c.url
}

// FetchTodaySessions returns the sessions that start today and started less
// than the lookback grace ago. Transport failures are ErrCodeProviderUnavailable;
// a response that cannot be interpreted is ErrCodeProviderMalformed.
func (c *PlanningClient) FetchTodaySessions(ctx context.Context) ([]types.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build timetable request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeProviderUnavailable, "timetable fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.NewAppError(types.ErrCodeProviderMalformed,
			fmt.Sprintf("timetable API returned %d; check FORMATION, ANNEE and TP", resp.StatusCode),
			fmt.Errorf("body: %s", strings.TrimSpace(string(body))))
	}

	var payload planningResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPlanningBody)).Decode(&payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeProviderMalformed,
			"timetable API returned an unreadable payload; check FORMATION, ANNEE and TP", err)
	}

	now := c.clock.Now().In(c.loc)
	today := now.Format(types.DateLayout)

	var sessions []types.Session
	total := 0
	for _, p := range payload.Plannings {
		for _, ev := range p.Events {
			total++
			if ev.Start == nil || ev.End == nil {
				return nil, types.NewAppError(types.ErrCodeProviderMalformed,
					fmt.Sprintf("timetable event %q has no start or end", ev.Name), nil)
			}
			s := types.Session{
				Name:  ev.Name,
				Start: fromMillis(*ev.Start, c.loc),
				End:   fromMillis(*ev.End, c.loc),
			}
			if s.Start.Format(types.DateLayout) != today {
				continue
			}
			if !s.Start.Add(c.grace).After(now) {
				continue
			}
			sessions = append(sessions, s)
		}
	}

	c.logger.DebugContext(ctx, "fetched timetable",
		append(types.LogAttrs(ctx), "events", total, "today", len(sessions))...)
	return sessions, nil
}

func fromMillis(ms float64, loc *time.Location) time.Time {
	return time.UnixMilli(int64(ms)).In(loc)
}
