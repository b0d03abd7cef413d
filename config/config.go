// Package config loads proofd settings from defaults, an optional config
// file, environment variables (PROOFQUORUM_ prefix, plus DATABASE_URL) and
// command line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const EnvPrefix = "PROOFQUORUM"

type Config struct {
	Database  DatabaseConfig
	Log       LogConfig
	Consensus ConsensusConfig
	Hooks     HooksConfig
	Outbox    OutboxConfig
	Queue     QueueConfig
	Metrics   MetricsConfig
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

type LogConfig struct {
	Level  string
	Format string
}

type ConsensusConfig struct {
	RetryAttempts uint64
	RetryBase     time.Duration
}

type HooksConfig struct {
	Timeout         time.Duration
	RetryAttempts   uint64
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

type OutboxConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	SigningKey   string
}

type QueueConfig struct {
	DefaultLimit int
	MaxLimit     int
}

type MetricsConfig struct {
	Addr string
}

// SetDefaults registers every key with its default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("consensus.retry_attempts", 3)
	v.SetDefault("consensus.retry_base", 25*time.Millisecond)
	v.SetDefault("hooks.timeout", 10*time.Second)
	v.SetDefault("hooks.retry_attempts", 2)
	v.SetDefault("hooks.breaker_failures", 5)
	v.SetDefault("hooks.breaker_cooldown", 30*time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", time.Second)
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("outbox.signing_key", "")
	v.SetDefault("queue.default_limit", 20)
	v.SetDefault("queue.max_limit", 100)
	v.SetDefault("metrics.addr", ":9464")
}

// NewViper returns a viper instance wired for proofd's environment.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	return v
}

// Load reads the optional config file at path into v and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Config{
		Database: DatabaseConfig{
			URL:      v.GetString("database.url"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Consensus: ConsensusConfig{
			RetryAttempts: v.GetUint64("consensus.retry_attempts"),
			RetryBase:     v.GetDuration("consensus.retry_base"),
		},
		Hooks: HooksConfig{
			Timeout:         v.GetDuration("hooks.timeout"),
			RetryAttempts:   v.GetUint64("hooks.retry_attempts"),
			BreakerFailures: v.GetUint32("hooks.breaker_failures"),
			BreakerCooldown: v.GetDuration("hooks.breaker_cooldown"),
		},
		Outbox: OutboxConfig{
			BatchSize:    v.GetInt("outbox.batch_size"),
			PollInterval: v.GetDuration("outbox.poll_interval"),
			MaxAttempts:  v.GetInt("outbox.max_attempts"),
			SigningKey:   v.GetString("outbox.signing_key"),
		},
		Queue: QueueConfig{
			DefaultLimit: v.GetInt("queue.default_limit"),
			MaxLimit:     v.GetInt("queue.max_limit"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no sensible fallback. The database URL is
// checked by the commands that need it.
func (c Config) Validate() error {
	var errs *multierror.Error
	if c.Database.MaxConns < 1 {
		errs = multierror.Append(errs, fmt.Errorf("database.max_conns must be positive, got %d", c.Database.MaxConns))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = multierror.Append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.Outbox.BatchSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("outbox.batch_size must be positive, got %d", c.Outbox.BatchSize))
	}
	if c.Outbox.PollInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("outbox.poll_interval must be positive, got %s", c.Outbox.PollInterval))
	}
	if c.Queue.DefaultLimit < 1 || c.Queue.MaxLimit < c.Queue.DefaultLimit {
		errs = multierror.Append(errs, fmt.Errorf("queue limits must satisfy 1 <= default_limit <= max_limit, got %d and %d", c.Queue.DefaultLimit, c.Queue.MaxLimit))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Logger builds the root logger described by c.
func (c LogConfig) Logger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("config: log level: %w", err)
	}
	if w == nil {
		w = os.Stderr
	}
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
