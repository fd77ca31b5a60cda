// Package config defines the configuration of the rollcall daemon.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format stops the process on startup.
package config

import (
	"time"

	"rollcall/internal/types"
)

// SecretString is an alias for types.SecretString so that credentials never
// reach the logs.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Components receive only the
// sub-struct they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Account   AccountConfig
	Timetable TimetableConfig
	Moodle    MoodleConfig
	Notify    NotifyConfig
	Schedule  ScheduleConfig
	Store     StoreConfig
	Status    StatusConfig
	AWS       AWSConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// AccountConfig holds the university credentials used on the identity
// provider login form.
type AccountConfig struct {
	Username string       `envconfig:"USERNAME" validate:"required"`
	Password SecretString `envconfig:"PASSWORD" validate:"required"`
}

// TimetableConfig selects the PlanningSup calendar of the user's group.
type TimetableConfig struct {
	BaseURL   string `envconfig:"PLANNING_URL" default:"https://planningsup.app" validate:"required,url"`
	Formation string `envconfig:"FORMATION" validate:"required,oneof=cyberdefense cyberdata cyberlog"`
	Year      int    `envconfig:"ANNEE" validate:"required,oneof=3 4 5"`
	Group     int    `envconfig:"TP" validate:"required,min=1,max=6"`
	// LookbackGrace keeps sessions that started less than this long ago.
	LookbackGrace time.Duration `envconfig:"LOOKBACK_GRACE" default:"15m"`
}

// MoodleConfig holds the attendance site settings.
type MoodleConfig struct {
	BaseURL        string        `envconfig:"MOODLE_URL" default:"https://moodle.univ-ubs.fr/" validate:"required,url"`
	AttendancePath string        `envconfig:"ATTENDANCE_PATH" default:"mod/attendance/view.php?id=433339" validate:"required"`
	IdPName        string        `envconfig:"IDP_NAME" default:"Université Bretagne Sud - UBS" validate:"required"`
	Locale         string        `envconfig:"LANG" default:"FR" validate:"oneof=FR EN"`
	SubmitTimeout  time.Duration `envconfig:"SUBMIT_TIMEOUT" default:"3m"`
	// SnapshotDir receives compressed page snapshots of failed submissions.
	// Empty disables snapshots.
	SnapshotDir string `envconfig:"SNAPSHOT_DIR"`
}

// NotifyConfig holds the notification channels. Every channel is optional.
type NotifyConfig struct {
	NtfyURL  string `envconfig:"NTFY_URL" default:"https://ntfy.sh" validate:"required,url"`
	Topic    string `envconfig:"TOPIC"`
	QueueURL string `envconfig:"NOTIFY_QUEUE_URL" validate:"omitempty,url"`
}

// ScheduleConfig tunes planning and dispatching.
type ScheduleConfig struct {
	Timezone       string        `envconfig:"TIMEZONE" default:"Europe/Paris" validate:"required"`
	ReplanInterval time.Duration `envconfig:"REPLAN_INTERVAL" default:"15m"`
	Blacklist      string        `envconfig:"BLACKLIST"`
	DelayMin       int           `envconfig:"DELAY_MIN_MINUTES" default:"1" validate:"min=0"`
	DelayMax       int           `envconfig:"DELAY_MAX_MINUTES" default:"7" validate:"min=0"`
	// RandomSeed makes firing times reproducible. Zero seeds from the runtime.
	RandomSeed    uint64        `envconfig:"RANDOM_SEED" default:"0"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"30s"`
}

// StoreConfig selects the Plan Store backend.
type StoreConfig struct {
	Backend     string       `envconfig:"PLAN_STORE" default:"memory" validate:"oneof=memory postgres"`
	DatabaseURL SecretString `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres"`
	MaxConns    int32        `envconfig:"DB_MAX_CONNS" default:"4" validate:"min=1"`
}

// StatusConfig holds the read-only status server settings.
type StatusConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `envconfig:"STATUS_ADDR" default:":8080"`
}

// AWSConfig holds AWS regional configuration and metric settings.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"eu-west-3"`
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Rollcall"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// Location loads the configured time zone. LoadConfig has already checked
// that it resolves.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.Timezone)
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
