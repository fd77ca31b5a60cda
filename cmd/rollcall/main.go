// Package main is the entry point of the rollcall daemon.
//
// It loads the configuration, wires the timetable provider, the Moodle
// submitter, the notifiers and the plan store into the scheduler service, and
// runs the service next to the status API until SIGINT or SIGTERM. A fatal
// error (configuration, malformed timetable, rejected credentials) exits 1.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"rollcall/internal/api"
	"rollcall/internal/config"
	"rollcall/internal/types"
)

func main() {
	if err := run(); err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			slog.Error("invalid configuration", "type", cfgErr.Type, "error", cfgErr.Error())
		} else {
			slog.Error("rollcall stopped", "code", types.CodeOf(err), "error", err)
		}
		os.Exit(1)
	}
}

func run() error {
	slog.SetDefault(newLogger(os.Getenv("LOG_LEVEL")))

	cfg, err := config.LoadConfig(config.NewSSMProvider(awsRegion(), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("rollcall starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"formation", cfg.Timetable.Formation,
		"year", cfg.Timetable.Year,
		"group", cfg.Timetable.Group,
		"locale", cfg.Moodle.Locale,
		"timezone", cfg.Schedule.Timezone,
		"plan_store", cfg.Store.Backend,
		"timetable_url", app.planning.URL(),
		"status_addr", cfg.Status.Addr,
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.service.Run(gCtx)
	})
	if cfg.Status.Addr != "" {
		srv, err := api.NewServer(app.planner, app.loc, logger, app.probes...)
		if err != nil {
			return fmt.Errorf("creating status server: %w", err)
		}
		g.Go(func() error {
			return srv.ListenAndServe(gCtx, cfg.Status.Addr)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("rollcall stopped")
	return nil
}

// awsRegion returns the region used for SSM before the configuration is
// loaded.
func awsRegion() string {
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r
	}
	return "eu-west-3"
}

// newLogger creates a JSON slog.Logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
