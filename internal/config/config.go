// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database configures the SQL-backed job store. URL is a DSN understood by
// the selected driver: "sqlite://path/to/file.db" or a postgres:// URL.
// AuthToken, when set, overrides any credential embedded in URL and may
// also be supplied via the JOBQUEUE_DATABASE_AUTH_TOKEN environment
// variable.
type Database struct {
	URL           string        `mapstructure:"url"`
	AuthToken     string        `mapstructure:"auth_token"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
	MaxIdleConns  int           `mapstructure:"max_idle_conns"`
	CompressAbove int           `mapstructure:"compress_above_bytes"`
}

// WorkerPool configures the dispatch loop.
type WorkerPool struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxJobs      int           `mapstructure:"max_jobs"`
	AutoStart    bool          `mapstructure:"auto_start"`
}

// Reaper configures the stuck-job sweep.
type Reaper struct {
	Enabled         bool          `mapstructure:"enabled"`
	Schedule        string        `mapstructure:"schedule"` // cron expression
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
}

// Cleanup configures the scheduled terminal-row cleanup.
type Cleanup struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"`
	OlderThan time.Duration `mapstructure:"older_than"`
}

// CircuitBreaker configures the per-job-type dispatch breaker.
type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

// Bus selects and configures the message bus adapter.
type Bus struct {
	Kind      string `mapstructure:"kind"` // "inprocess", "nats", "redis"
	NATSURL   string `mapstructure:"nats_url"`
	RedisAddr string `mapstructure:"redis_addr"`
	Channel   string `mapstructure:"channel"`
}

// RateLimit configures the non-blocking per-source enqueue limiter.
type RateLimit struct {
	Enabled   bool    `mapstructure:"enabled"`
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// Archive configures offload of oversized job results.
type Archive struct {
	Enabled        bool   `mapstructure:"enabled"`
	ThresholdBytes int    `mapstructure:"threshold_bytes"`
	S3Bucket       string `mapstructure:"s3_bucket"`
	S3Prefix       string `mapstructure:"s3_prefix"`
	S3Region       string `mapstructure:"s3_region"`
}

// Observability configures logging and metrics.
type Observability struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
}

// AdminAPI configures the read-only operator HTTP surface.
type AdminAPI struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

type Config struct {
	Database       Database       `mapstructure:"database"`
	Worker         WorkerPool     `mapstructure:"worker"`
	Reaper         Reaper         `mapstructure:"reaper"`
	Cleanup        Cleanup        `mapstructure:"cleanup"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Bus            Bus            `mapstructure:"bus"`
	RateLimit      RateLimit      `mapstructure:"rate_limit"`
	Archive        Archive        `mapstructure:"archive"`
	Observability  Observability  `mapstructure:"observability"`
	AdminAPI       AdminAPI       `mapstructure:"admin_api"`
}

func defaultConfig() *Config {
	return &Config{
		Database: Database{
			URL:           "sqlite://./jobqueue.db",
			BusyTimeout:   5 * time.Second,
			MaxOpenConns:  10,
			MaxIdleConns:  5,
			CompressAbove: 16 * 1024,
		},
		Worker: WorkerPool{
			Concurrency:  4,
			PollInterval: 1 * time.Second,
			MaxJobs:      0,
			AutoStart:    false,
		},
		Reaper: Reaper{
			Enabled:         true,
			Schedule:        "@every 30s",
			StalenessWindow: 5 * time.Minute,
		},
		Cleanup: Cleanup{
			Enabled:   true,
			Schedule:  "@every 1h",
			OlderThan: 7 * 24 * time.Hour,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       5,
		},
		Bus: Bus{
			Kind:    "inprocess",
			Channel: "job-progress",
		},
		RateLimit: RateLimit{
			Enabled:   false,
			PerSecond: 50,
			Burst:     100,
		},
		Archive: Archive{
			Enabled:        false,
			ThresholdBytes: 256 * 1024,
		},
		Observability: Observability{
			MetricsPort:         9090,
			LogLevel:            "info",
			QueueSampleInterval: 2 * time.Second,
		},
		AdminAPI: AdminAPI{
			Enabled:    true,
			ListenAddr: ":8080",
		},
	}
}

// Load reads configuration from a YAML file plus environment overrides,
// in the teacher's viper layering style: typed defaults first, then file,
// then env.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JOBQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	setDefaults(v, def)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if token := os.Getenv("JOBQUEUE_DATABASE_AUTH_TOKEN"); token != "" {
		cfg.Database.AuthToken = token
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("database.url", def.Database.URL)
	v.SetDefault("database.busy_timeout", def.Database.BusyTimeout)
	v.SetDefault("database.max_open_conns", def.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", def.Database.MaxIdleConns)
	v.SetDefault("database.compress_above_bytes", def.Database.CompressAbove)

	v.SetDefault("worker.concurrency", def.Worker.Concurrency)
	v.SetDefault("worker.poll_interval", def.Worker.PollInterval)
	v.SetDefault("worker.max_jobs", def.Worker.MaxJobs)
	v.SetDefault("worker.auto_start", def.Worker.AutoStart)

	v.SetDefault("reaper.enabled", def.Reaper.Enabled)
	v.SetDefault("reaper.schedule", def.Reaper.Schedule)
	v.SetDefault("reaper.staleness_window", def.Reaper.StalenessWindow)

	v.SetDefault("cleanup.enabled", def.Cleanup.Enabled)
	v.SetDefault("cleanup.schedule", def.Cleanup.Schedule)
	v.SetDefault("cleanup.older_than", def.Cleanup.OlderThan)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("bus.kind", def.Bus.Kind)
	v.SetDefault("bus.channel", def.Bus.Channel)

	v.SetDefault("rate_limit.enabled", def.RateLimit.Enabled)
	v.SetDefault("rate_limit.per_second", def.RateLimit.PerSecond)
	v.SetDefault("rate_limit.burst", def.RateLimit.Burst)

	v.SetDefault("archive.enabled", def.Archive.Enabled)
	v.SetDefault("archive.threshold_bytes", def.Archive.ThresholdBytes)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.queue_sample_interval", def.Observability.QueueSampleInterval)

	v.SetDefault("admin_api.enabled", def.AdminAPI.Enabled)
	v.SetDefault("admin_api.listen_addr", def.AdminAPI.ListenAddr)
}

// Validate checks config constraints and returns an error on invalid
// settings.
func Validate(cfg *Config) error {
	if cfg.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be >= 1")
	}
	if cfg.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be > 0")
	}
	if cfg.Worker.MaxJobs < 0 {
		return fmt.Errorf("worker.max_jobs must be >= 0")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url must be set")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	switch cfg.Bus.Kind {
	case "inprocess", "nats", "redis":
	default:
		return fmt.Errorf("bus.kind must be one of inprocess|nats|redis, got %q", cfg.Bus.Kind)
	}
	return nil
}
