// Package config loads and validates churnkit's runtime configuration.
//
// Settings are layered with koanf: built-in defaults first, then an
// optional YAML file, then CHURNKIT_-prefixed environment variables.
// Each layer overrides the one before it, so a container deployment can
// ship a config file and still flip single settings from the
// environment.
//
// The resulting Config is immutable after Load and safe for concurrent
// reads.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
	"github.com/YuminosukeSato/churnkit/pkg/log"
)

// Config holds everything the churnkit binary needs at runtime: the HTTP
// server, the artifact it serves, the prediction audit log, the result
// cache, drift monitoring, and logging.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Artifact    ArtifactConfig    `koanf:"artifact"`
	Predictions PredictionsConfig `koanf:"predictions"`
	Cache       CacheConfig       `koanf:"cache"`
	Drift       DriftConfig       `koanf:"drift"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig configures the HTTP serving layer.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=1s"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`

	// CORSOrigins lists the origins allowed on the REST API. An empty
	// list disables cross-origin access entirely.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitRequests caps requests per client IP per window.
	// Zero disables rate limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ArtifactConfig locates the trained artifact the server predicts with.
type ArtifactConfig struct {
	// Path is the artifact file to load. The server starts without it
	// and reports not-ready until the file appears.
	Path string `koanf:"path" validate:"required"`

	// Watch reloads the artifact when the file changes on disk.
	Watch bool `koanf:"watch"`

	// PlotDir is where training wrote the ROC and PR curves; the form
	// page serves it under /artifacts/.
	PlotDir string `koanf:"plot_dir"`
}

// PredictionsConfig configures the SQLite prediction audit log.
type PredictionsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"required_if=Enabled true"`
}

// CacheConfig sizes the in-memory prediction result cache.
// A size of zero disables caching.
type CacheConfig struct {
	Size int `koanf:"size" validate:"min=0"`
}

// DriftConfig tunes the live prediction-rate monitor.
type DriftConfig struct {
	// MinObservations is how many predictions accumulate before the
	// monitor starts judging the positive rate.
	MinObservations int `koanf:"min_observations" validate:"min=1"`

	// WarningSigmas and AlarmSigmas bound the accepted deviation from
	// the training base rate, in binomial standard deviations.
	WarningSigmas float64 `koanf:"warning_sigmas" validate:"gt=0"`
	AlarmSigmas   float64 `koanf:"alarm_sigmas" validate:"gt=0"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string        `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string        `koanf:"format" validate:"oneof=json console"`
	Caller bool          `koanf:"caller"`
	File   LogFileConfig `koanf:"file"`
}

// LogFileConfig configures optional rotating file output.
type LogFileConfig struct {
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"min=0"`
	MaxBackups int    `koanf:"max_backups" validate:"min=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"min=0"`
	Compress   bool   `koanf:"compress"`
}

// LogConfig converts the logging section into the log package's config.
func (c LoggingConfig) LogConfig() log.Config {
	return log.Config{
		Level:     c.Level,
		Format:    c.Format,
		Caller:    c.Caller,
		Timestamp: true,
		File: log.FileConfig{
			Path:       c.File.Path,
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAgeDays: c.File.MaxAgeDays,
			Compress:   c.File.Compress,
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report settings by their koanf path so errors name the key the
	// operator would actually set.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration and reports the first offending
// setting by its koanf path.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if kiterrors.As(err, &verrs) {
			fe := verrs[0]
			return kiterrors.Newf("config: %s %s", settingPath(fe), ruleMessage(fe))
		}
		return err
	}

	if c.Drift.AlarmSigmas < c.Drift.WarningSigmas {
		return kiterrors.Newf("config: drift.alarm_sigmas must not be below drift.warning_sigmas")
	}
	return nil
}

// settingPath turns the validator namespace into the koanf path,
// e.g. Config.server.port becomes server.port.
func settingPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "is invalid"
	}
}
