package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"rollcall/internal/api"
	"rollcall/internal/config"
	"rollcall/internal/db"
	"rollcall/internal/external"
	"rollcall/internal/metrics"
	"rollcall/internal/notify"
	"rollcall/internal/queue"
	"rollcall/internal/scheduler"
	"rollcall/internal/types"
)

const timetableHTTPTimeout = 30 * time.Second

// app is the wired daemon.
type app struct {
	loc      *time.Location
	planning *external.PlanningClient
	planner  *scheduler.Planner
	service  *scheduler.Service
	probes   []api.HealthProbe

	closers []func()
}

// Close releases the store connection pool, if any.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid, "invalid TIMEZONE", err)
	}
	clock := types.RealClock{}
	a := &app{loc: loc}

	store, probe, err := buildStore(ctx, cfg.Store, loc, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.probes = append(a.probes, probe)

	windows, err := scheduler.NewWindowTable(scheduler.DefaultWindows, loc)
	if err != nil {
		a.Close()
		return nil, types.NewAppError(types.ErrCodeConfigInvalid, "invalid attendance windows", err)
	}
	selector, err := scheduler.NewSelector(cfg.Schedule.DelayMin, cfg.Schedule.DelayMax, cfg.Schedule.RandomSeed)
	if err != nil {
		a.Close()
		return nil, types.NewAppError(types.ErrCodeConfigInvalid, "invalid firing delay bounds", err)
	}

	var awsCfg aws.Config
	if cfg.AWS.MetricsEnabled || cfg.Notify.QueueURL != "" {
		if awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region)); err != nil {
			a.Close()
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
	}

	var m scheduler.Metrics = scheduler.NoopMetrics{}
	if cfg.AWS.MetricsEnabled {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		m = metrics.NewCloudWatch(cw, cfg.AWS.MetricNamespace, logger)
	}

	notifier, err := buildNotifier(cfg, awsCfg, clock, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	locale := types.Locale(cfg.Moodle.Locale)
	a.planner, err = scheduler.NewPlanner(scheduler.PlannerConfig{
		Windows:  windows,
		Selector: selector,
		Store:    store,
		DenyList: scheduler.ParseDenyList(cfg.Schedule.Blacklist),
		Clock:    clock,
		Metrics:  m,
		Locale:   locale,
		Logger:   logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	var snapshots *external.SnapshotStore
	if cfg.Moodle.SnapshotDir != "" {
		if snapshots, err = external.NewSnapshotStore(cfg.Moodle.SnapshotDir, clock); err != nil {
			a.Close()
			return nil, err
		}
	}
	submitter, err := external.NewMoodleSubmitter(external.MoodleConfig{
		BaseURL:        cfg.Moodle.BaseURL,
		AttendancePath: cfg.Moodle.AttendancePath,
		IdPName:        cfg.Moodle.IdPName,
		Username:       cfg.Account.Username,
		Password:       cfg.Account.Password,
		Locale:         locale,
		Snapshots:      snapshots,
		Location:       loc,
		Logger:         logger,
	})
	if err != nil {
		a.Close()
		return nil, types.NewAppError(types.ErrCodeConfigInvalid, "invalid Moodle settings", err)
	}

	dispatcher, err := scheduler.NewDispatcher(scheduler.DispatcherConfig{
		Recorder:      a.planner,
		Submitter:     submitter,
		Notifier:      notifier,
		Clock:         clock,
		Metrics:       m,
		Location:      loc,
		Locale:        locale,
		SubmitTimeout: cfg.Moodle.SubmitTimeout,
		ShutdownGrace: cfg.Schedule.ShutdownGrace,
		Logger:        logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.planning, err = external.NewPlanningClient(&http.Client{Timeout: timetableHTTPTimeout}, external.PlanningConfig{
		BaseURL:       cfg.Timetable.BaseURL,
		Formation:     cfg.Timetable.Formation,
		Year:          cfg.Timetable.Year,
		Group:         cfg.Timetable.Group,
		LookbackGrace: cfg.Timetable.LookbackGrace,
		Location:      loc,
		Clock:         clock,
		Logger:        logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service, err = scheduler.NewService(scheduler.ServiceConfig{
		Provider:   a.planning,
		Planner:    a.planner,
		Dispatcher: dispatcher,
		Interval:   cfg.Schedule.ReplanInterval,
		Logger:     logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// buildStore opens the configured plan store and returns it with its health
// probe.
func buildStore(ctx context.Context, cfg config.StoreConfig, loc *time.Location, a *app) (scheduler.PlanStore, api.HealthProbe, error) {
	if cfg.Backend != "postgres" {
		store := scheduler.NewMemoryStore(loc)
		return store, api.ProbeFunc{ProbeName: "plan_store", Fn: func(ctx context.Context) error {
			_, err := store.List(ctx)
			return err
		}}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL.Unmask(), cfg.MaxConns)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to connect to plan store", err)
	}
	a.closers = append(a.closers, pool.Close)

	if err := db.EnsureSchema(ctx, pool); err != nil {
		return nil, nil, err
	}
	repo := db.NewPlanRepository(pool, loc)
	return repo, api.ProbeFunc{ProbeName: "plan_store", Fn: repo.Ping}, nil
}

// buildNotifier combines every configured notification channel.
func buildNotifier(cfg *config.Config, awsCfg aws.Config, clock types.Clock, logger *slog.Logger) (types.Notifier, error) {
	var notifiers []types.Notifier
	if cfg.Notify.Topic != "" {
		ntfy, err := notify.NewNtfy(&http.Client{Timeout: 15 * time.Second}, notify.NtfyConfig{
			BaseURL: cfg.Notify.NtfyURL,
			Topic:   cfg.Notify.Topic,
			Logger:  logger,
		})
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeConfigInvalid, "invalid ntfy settings", err)
		}
		notifiers = append(notifiers, ntfy)
	}
	if cfg.Notify.QueueURL != "" {
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		notifiers = append(notifiers, queue.NewEventPublisher(client, cfg.Notify.QueueURL, clock, logger))
	}
	if len(notifiers) == 0 {
		logger.Warn("no notification channel configured; set TOPIC or NOTIFY_QUEUE_URL")
	}
	return notify.Combine(notifiers...), nil
}
