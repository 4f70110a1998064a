// Package config loads application settings from config/config.yaml, a
// .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/danieldreier/adaptive-srs/internal/srs"
)

var (
	ErrMissingDatabaseURL = errors.New("storage driver postgres requires DATABASE_URL")
	ErrUnknownDriver      = errors.New("unknown storage driver")
	ErrUnknownPreset      = errors.New("unknown scheduler preset")
)

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds application configuration.
type Config struct {
	Env       string     `mapstructure:"env"`       // local, dev, prod
	LogLevel  string     `mapstructure:"log_level"` // debug, info, warn, error
	UserID    string     `mapstructure:"user_id"`   // learner served by this process
	Storage   Storage    `mapstructure:"storage"`
	Scheduler Scheduler  `mapstructure:"scheduler"`
	Jobs      Jobs       `mapstructure:"jobs"`
	SRS       srs.Config `mapstructure:"-"` // resolved from Scheduler
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"` // file and sqlite drivers
	URL             string        `mapstructure:"-"`    // postgres, from DATABASE_URL
	MaxConnections  int32         `mapstructure:"max_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	LegacyUser      string        `mapstructure:"legacy_user"` // owner of imported flashcards
}

// Scheduler picks a preset and optionally overrides single values of it.
type Scheduler struct {
	Preset    string         `mapstructure:"preset"` // adaptive or simple
	Overrides map[string]any `mapstructure:"overrides"`
}

// Jobs configures background work.
type Jobs struct {
	RecalibrationInterval time.Duration `mapstructure:"recalibration_interval"` // 0 disables
	ExportDir             string        `mapstructure:"export_dir"`
}

// Load reads configuration. A missing config file is not an error; values
// then come from defaults and the environment.
func Load(paths ...string) (*Config, error) {
	// A .env file is optional and never overrides real environment variables.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetDefault("env", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("user_id", "default")
	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.path", "./srs.json")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_conn_lifetime", "30m")
	v.SetDefault("storage.legacy_user", "")
	v.SetDefault("scheduler.preset", "adaptive")
	v.SetDefault("jobs.recalibration_interval", "6h")
	v.SetDefault("jobs.export_dir", "./exports")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("env", "APP_ENV")
	_ = v.BindEnv("user_id", "SRS_USER_ID")

	if err := v.ReadInConfig(); err != nil {
		var fileLookupErr viper.ConfigFileNotFoundError
		if !errors.As(err, &fileLookupErr) {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	cfg.Storage.URL = v.GetString("database_url")
	if cfg.Storage.LegacyUser == "" {
		cfg.Storage.LegacyUser = cfg.UserID
	}

	if err := cfg.validateStorage(); err != nil {
		return nil, err
	}

	srsCfg, err := cfg.Scheduler.Resolve()
	if err != nil {
		return nil, err
	}
	cfg.SRS = srsCfg
	return &cfg, nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
		return nil
	case DriverPostgres:
		if c.Storage.URL == "" {
			return ErrMissingDatabaseURL
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Storage.Driver)
}

// Resolve builds the scheduler config from the preset and overrides.
func (s Scheduler) Resolve() (srs.Config, error) {
	var cfg srs.Config
	switch strings.ToLower(s.Preset) {
	case "", "adaptive":
		cfg = srs.DefaultConfig()
	case "simple":
		cfg = srs.SimpleConfig()
	default:
		return srs.Config{}, fmt.Errorf("%w: %q", ErrUnknownPreset, s.Preset)
	}

	if len(s.Overrides) > 0 {
		// Decode the overrides on top of the preset so unset keys keep
		// their preset values.
		ov := viper.New()
		for k, val := range s.Overrides {
			ov.Set(k, val)
		}
		// Lists replace the preset's lists rather than merging into them.
		if ov.IsSet("learning_steps_minutes") {
			cfg.LearningStepsMinutes = nil
		}
		if ov.IsSet("relearning_steps_minutes") {
			cfg.RelearningStepsMinutes = nil
		}
		if err := ov.Unmarshal(&cfg); err != nil {
			return srs.Config{}, fmt.Errorf("error unmarshalling scheduler overrides: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return srs.Config{}, err
	}
	return cfg, nil
}
