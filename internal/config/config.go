package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BackupConfig controls periodic snapshots of the SQLite database.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"` // cron expression
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "console" or "json"
	} `yaml:"log"`

	HTTP struct {
		Address        string   `yaml:"address"`
		RatePerSecond  float64  `yaml:"rate_per_second"`
		RateBurst      int      `yaml:"rate_burst"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	AMQP struct {
		URL   string `yaml:"url"`
		Queue string `yaml:"queue"`
	} `yaml:"amqp"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		Timezone                string `yaml:"timezone"`
		HorizonDays             int    `yaml:"horizon_days"`
		SlotStepMinutes         int    `yaml:"slot_step_minutes"`
		DefaultDurationMinutes  int    `yaml:"default_duration_minutes"`
		CancellationCutoffHours int    `yaml:"cancellation_cutoff_hours"`
		SlotCacheTTLSeconds     int    `yaml:"slot_cache_ttl_seconds"`
	} `yaml:"booking"`

	Pricing struct {
		Path                  string `yaml:"path"`
		ReloadIntervalSeconds int    `yaml:"reload_interval_seconds"`
	} `yaml:"pricing"`

	Reminders ReminderConfig `yaml:"reminders"`
}

// ReminderConfig controls the upcoming-appointment reminder loop.
type ReminderConfig struct {
	Enabled              bool    `yaml:"enabled"`
	HoursBefore          int     `yaml:"hours_before"`
	CheckIntervalSeconds int     `yaml:"check_interval_seconds"`
	RatePerSecond        float64 `yaml:"rate_per_second"`
	Burst                int     `yaml:"burst"`
}

func (r ReminderConfig) Lead() time.Duration {
	return time.Duration(r.HoursBefore) * time.Hour
}

func (r ReminderConfig) CheckInterval() time.Duration {
	return time.Duration(r.CheckIntervalSeconds) * time.Second
}

// Load reads the YAML config at path. A .env file next to the working
// directory is loaded first so ${ENV_VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes config bytes, expands ${ENV_VAR} placeholders and applies defaults.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.RatePerSecond <= 0 {
		c.HTTP.RatePerSecond = 10
	}
	if c.HTTP.RateBurst <= 0 {
		c.HTTP.RateBurst = 20
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/homestyle.db"
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 14
	}
	if c.AMQP.Queue == "" {
		c.AMQP.Queue = "booking.events"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "UTC"
	}
	if c.Booking.HorizonDays <= 0 {
		c.Booking.HorizonDays = 90
	}
	if c.Booking.SlotStepMinutes <= 0 {
		c.Booking.SlotStepMinutes = 30
	}
	if c.Booking.DefaultDurationMinutes <= 0 {
		c.Booking.DefaultDurationMinutes = 60
	}
	if c.Booking.CancellationCutoffHours <= 0 {
		c.Booking.CancellationCutoffHours = 24
	}
	if c.Booking.SlotCacheTTLSeconds < 0 {
		c.Booking.SlotCacheTTLSeconds = 0
	}
	if c.Pricing.Path == "" {
		c.Pricing.Path = "configs/pricing.yaml"
	}
	if c.Pricing.ReloadIntervalSeconds <= 0 {
		c.Pricing.ReloadIntervalSeconds = 30
	}
	if c.Reminders.HoursBefore <= 0 {
		c.Reminders.HoursBefore = 24
	}
	if c.Reminders.CheckIntervalSeconds <= 0 {
		c.Reminders.CheckIntervalSeconds = 300
	}
	if c.Reminders.RatePerSecond <= 0 {
		c.Reminders.RatePerSecond = 20
	}
	if c.Reminders.Burst <= 0 {
		c.Reminders.Burst = 30
	}
}

// Location resolves the configured booking timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Booking.Timezone, err)
	}
	return loc, nil
}

func (c *Config) CancellationCutoff() time.Duration {
	return time.Duration(c.Booking.CancellationCutoffHours) * time.Hour
}

func (c *Config) SlotCacheTTL() time.Duration {
	return time.Duration(c.Booking.SlotCacheTTLSeconds) * time.Second
}

func (c *Config) PricingReloadInterval() time.Duration {
	return time.Duration(c.Pricing.ReloadIntervalSeconds) * time.Second
}
