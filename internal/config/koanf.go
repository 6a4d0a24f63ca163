package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// DefaultPaths lists where a config file is searched when none is given
// explicitly. The first existing file wins.
var DefaultPaths = []string{
	"churnkit.yaml",
	"churnkit.yml",
	"/etc/churnkit/config.yaml",
}

// PathEnvVar overrides the config file search with an explicit path.
const PathEnvVar = "CHURNKIT_CONFIG"

// EnvPrefix marks the environment variables that override settings.
const EnvPrefix = "CHURNKIT_"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Artifact: ArtifactConfig{
			Path:    "churnkit.gob",
			Watch:   true,
			PlotDir: "plots",
		},
		Predictions: PredictionsConfig{
			Enabled: true,
			Path:    "predictions.db",
		},
		Cache: CacheConfig{
			Size: 1024,
		},
		Drift: DriftConfig{
			MinObservations: 30,
			WarningSigmas:   2.0,
			AlarmSigmas:     3.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the runtime configuration from three layers, later layers
// overriding earlier ones:
//
//  1. built-in defaults
//  2. a YAML config file (optional)
//  3. CHURNKIT_-prefixed environment variables
//
// path, when non-empty, names the config file to read and must exist.
// Otherwise CHURNKIT_CONFIG and then DefaultPaths are searched, and a
// missing file simply skips the layer. The result is validated before
// it is returned.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, kiterrors.Wrap(err, "config: loading defaults")
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, kiterrors.Wrap(err, "config")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, kiterrors.Wrapf(err, "config: reading %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envToPath), nil); err != nil {
		return nil, kiterrors.Wrap(err, "config: reading environment")
	}

	if err := splitSliceSettings(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, kiterrors.Wrap(err, "config: unmarshaling")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(PathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envSettings maps CHURNKIT_-stripped, lowercased variable names to
// koanf paths. Variables not listed here are dropped, so unrelated
// CHURNKIT_ variables (CHURNKIT_CONFIG among them) never leak into
// settings.
var envSettings = map[string]string{
	"server_host":                "server.host",
	"server_port":                "server.port",
	"server_read_timeout":        "server.read_timeout",
	"server_write_timeout":       "server.write_timeout",
	"server_idle_timeout":        "server.idle_timeout",
	"server_shutdown_timeout":    "server.shutdown_timeout",
	"server_cors_origins":        "server.cors_origins",
	"server_rate_limit_requests": "server.rate_limit_requests",
	"server_rate_limit_window":   "server.rate_limit_window",

	"artifact_path":     "artifact.path",
	"artifact_watch":    "artifact.watch",
	"artifact_plot_dir": "artifact.plot_dir",

	"predictions_enabled": "predictions.enabled",
	"predictions_path":    "predictions.path",

	"cache_size": "cache.size",

	"drift_min_observations": "drift.min_observations",
	"drift_warning_sigmas":   "drift.warning_sigmas",
	"drift_alarm_sigmas":     "drift.alarm_sigmas",

	"log_level":             "logging.level",
	"log_format":            "logging.format",
	"log_caller":            "logging.caller",
	"log_file":              "logging.file.path",
	"log_file_max_size_mb":  "logging.file.max_size_mb",
	"log_file_max_backups":  "logging.file.max_backups",
	"log_file_max_age_days": "logging.file.max_age_days",
	"log_file_compress":     "logging.file.compress",
}

func envToPath(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envSettings[key]
}

// sliceSettings are parsed from comma-separated strings when they arrive
// via the environment. YAML files provide real lists and are left alone.
var sliceSettings = []string{
	"server.cors_origins",
}

func splitSliceSettings(k *koanf.Koanf) error {
	for _, path := range sliceSettings {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return kiterrors.Wrapf(err, "config: setting %s", path)
		}
	}
	return nil
}
