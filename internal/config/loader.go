package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"rollcall/internal/types"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// AppError converts the failure into the application error taxonomy.
func (e *ConfigError) AppError() *types.AppError {
	return types.NewAppError(types.ErrCodeConfigInvalid, e.Message, e).
		WithDetails(map[string]any{"type": string(e.Type)})
}

// ssmParamSuffix marks environment variables that point at an SSM path. For
// example, PASSWORD_SSM_PARAM points to the SSM path of PASSWORD.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// ssmTimeout bounds the whole secret resolution step.
const ssmTimeout = 30 * time.Second

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
	dotenv    func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
		// godotenv does NOT override existing environment variables.
		dotenv: func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the configuration. The provider resolves
// _SSM_PARAM pointers outside of local mode; it may be nil when no pointer
// is set.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	// A missing .env file is the normal case outside development.
	_ = deps.dotenv()

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := cfg.validateCrossField(); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// validateCrossField checks the rules struct tags cannot express.
func (c *Config) validateCrossField() error {
	var errs []error
	if c.Schedule.DelayMax < c.Schedule.DelayMin {
		errs = append(errs, fmt.Errorf("DELAY_MAX_MINUTES (%d) is below DELAY_MIN_MINUTES (%d)",
			c.Schedule.DelayMax, c.Schedule.DelayMin))
	}
	if c.Schedule.ReplanInterval <= 0 {
		errs = append(errs, fmt.Errorf("REPLAN_INTERVAL must be positive, got %s", c.Schedule.ReplanInterval))
	}
	if c.Moodle.SubmitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SUBMIT_TIMEOUT must be positive, got %s", c.Moodle.SubmitTimeout))
	}
	if c.Timetable.LookbackGrace < 0 {
		errs = append(errs, fmt.Errorf("LOOKBACK_GRACE must not be negative, got %s", c.Timetable.LookbackGrace))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE %q: %w", c.Schedule.Timezone, err))
	}
	return errors.Join(errs...)
}

// resolveSSMParams replaces every NAME_SSM_PARAM pointer whose NAME is unset
// with the value stored at the pointed SSM path. A variable that is already
// set wins over its pointer.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	pointers := map[string]string{} // target variable -> SSM path
	for _, entry := range deps.environ() {
		key, path, _ := strings.Cut(entry, "=")
		target, isPointer := strings.CutSuffix(key, ssmParamSuffix)
		if !isPointer || path == "" {
			continue
		}
		if _, set := deps.lookupEnv(target); !set {
			pointers[target] = path
		}
	}
	if len(pointers) == 0 {
		return nil
	}

	targets := slices.Sorted(maps.Keys(pointers))
	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SecretProvider is required outside local mode to resolve " + strings.Join(targets, ", "),
		}
	}

	paths := make([]string, 0, len(targets))
	for _, target := range targets {
		paths = append(paths, pointers[target])
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()
	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{Type: ErrSSMResolution, Message: "SSM lookup failed", Err: err}
	}

	var missing []string
	for _, target := range targets {
		value, ok := values[pointers[target]]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "cannot export " + target, Err: err}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for " + strings.Join(missing, ", "),
		}
	}
	return nil
}
