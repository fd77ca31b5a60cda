// Package main prints the attendance plan rollcall would build for today
// without submitting anything.
//
// It loads the same configuration as the daemon, fetches today's sessions
// once, plans them against an in-memory store and writes the ordered plan to
// stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"rollcall/internal/config"
	"rollcall/internal/external"
	"rollcall/internal/scheduler"
	"rollcall/internal/types"
)

func main() {
	jsonFlag := flag.Bool("json", false, "Print the plan as JSON")
	seedFlag := flag.Uint64("seed", 0, "Random seed for firing times (default: RANDOM_SEED)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Rollcall plan preview\n\n")
		fmt.Fprintf(os.Stderr, "Fetches today's timetable and prints the planned firing times.\n")
		fmt.Fprintf(os.Stderr, "Reads the same environment as the rollcall daemon.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  plan-preview [--json] [--seed=N]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*jsonFlag, *seedFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(asJSON bool, seed uint64) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "eu-west-3"
	}
	cfg, err := config.LoadConfig(config.NewSSMProvider(region, os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return err
	}
	if seed == 0 {
		seed = cfg.Schedule.RandomSeed
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	provider, err := external.NewPlanningClient(&http.Client{Timeout: 30 * time.Second}, external.PlanningConfig{
		BaseURL:       cfg.Timetable.BaseURL,
		Formation:     cfg.Timetable.Formation,
		Year:          cfg.Timetable.Year,
		Group:         cfg.Timetable.Group,
		LookbackGrace: cfg.Timetable.LookbackGrace,
		Location:      loc,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	sessions, err := provider.FetchTodaySessions(ctx)
	if err != nil {
		return err
	}

	planner, err := newPreviewPlanner(cfg, loc, seed, logger)
	if err != nil {
		return err
	}
	result, err := planner.Replan(ctx, sessions)
	if err != nil {
		return err
	}

	return printPlan(os.Stdout, result.Summary, loc, types.MessagesFor(types.Locale(cfg.Moodle.Locale)), asJSON)
}

func newPreviewPlanner(cfg *config.Config, loc *time.Location, seed uint64, logger *slog.Logger) (*scheduler.Planner, error) {
	windows, err := scheduler.NewWindowTable(scheduler.DefaultWindows, loc)
	if err != nil {
		return nil, err
	}
	selector, err := scheduler.NewSelector(cfg.Schedule.DelayMin, cfg.Schedule.DelayMax, seed)
	if err != nil {
		return nil, err
	}
	return scheduler.NewPlanner(scheduler.PlannerConfig{
		Windows:  windows,
		Selector: selector,
		Store:    scheduler.NewMemoryStore(loc),
		DenyList: scheduler.ParseDenyList(cfg.Schedule.Blacklist),
		Locale:   types.Locale(cfg.Moodle.Locale),
		Logger:   logger,
	})
}

type previewJob struct {
	Session    string    `json:"session"`
	Window     string    `json:"window"`
	FiringTime time.Time `json:"firing_time"`
}

// printPlan writes jobs, already ordered by firing time, as a table or JSON.
func printPlan(w io.Writer, jobs []types.PlannedJob, loc *time.Location, msgs types.Messages, asJSON bool) error {
	if asJSON {
		out := make([]previewJob, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, previewJob{
				Session:    j.Session.Label(loc),
				Window:     j.Window.ID,
				FiringTime: j.FiringTime.In(loc),
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "No attendance to plan today.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIRING\tWINDOW\tSESSION")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			j.FiringTime.In(loc).Format(types.TimeOfDayLayout), j.Window.ID, j.Session.Label(loc))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, j := range jobs {
		if _, err := fmt.Fprintln(w, msgs.Planned(j.Session.Label(loc), j.FiringTime.In(loc).Format(types.TimeOfDayLayout))); err != nil {
			return err
		}
	}
	return nil
}
