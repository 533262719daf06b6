package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		LogLevel string `toml:"log_level"`
	} `toml:"app"`

	Feed struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Stream   string `toml:"stream"`
		Group    string `toml:"group"`
		Consumer string `toml:"consumer"`
		BlockMs  int    `toml:"block_ms"`
		Batch    int    `toml:"batch"`
		// ClaimMinIdleMs is how long an entry must sit unacked in another
		// consumer's pending list before this one takes it over. Negative
		// disables claiming.
		ClaimMinIdleMs int `toml:"claim_min_idle_ms"`
		ClaimEveryMs   int `toml:"claim_every_ms"`
	} `toml:"feed"`

	Worker struct {
		MaxAttempts      int `toml:"max_attempts"`
		BackoffMinMs     int `toml:"backoff_min_ms"`
		BackoffMaxMs     int `toml:"backoff_max_ms"`
		ErrorDelayMs     int `toml:"error_delay_ms"`
		ProcessTimeoutMs int `toml:"process_timeout_ms"`
	} `toml:"worker"`

	Breaker struct {
		FailureThreshold int `toml:"failure_threshold"`
		BreakSeconds     int `toml:"break_seconds"`
	} `toml:"breaker"`

	Source struct {
		Kind      string `toml:"kind"` // http | simulated
		BaseURL   string `toml:"base_url"`
		TimeoutMs int    `toml:"timeout_ms"`
		FailEvery int    `toml:"fail_every"`
	} `toml:"source"`

	Storage struct {
		Driver string `toml:"driver"` // sqlite | postgres
		SQLite struct {
			Path string `toml:"path"`
		} `toml:"sqlite"`
		Postgres struct {
			DSN      string `toml:"dsn"`
			MaxConns int    `toml:"max_conns"`
		} `toml:"postgres"`
	} `toml:"storage"`

	Cache struct {
		Enabled    bool   `toml:"enabled"`
		Prefix     string `toml:"prefix"`
		TTLSeconds int    `toml:"ttl_seconds"`
		Channel    string `toml:"channel"`
	} `toml:"cache"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := Finalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize applies defaults and validates a config built in code.
func Finalize(cfg *Config) error {
	applyDefaults(cfg)
	return validate(cfg)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.App.LogLevel) == "" {
		cfg.App.LogLevel = "info"
	}

	if cfg.Feed.Addr == "" {
		cfg.Feed.Addr = "localhost:6379"
	}
	if cfg.Feed.Stream == "" {
		cfg.Feed.Stream = "financial-quotes"
	}
	if cfg.Feed.Group == "" {
		cfg.Feed.Group = "quotes-consumer-group"
	}
	if cfg.Feed.Consumer == "" {
		cfg.Feed.Consumer = DefaultConsumerName()
	}
	if cfg.Feed.Batch <= 0 {
		cfg.Feed.Batch = 10
	}
	if cfg.Feed.BlockMs <= 0 {
		cfg.Feed.BlockMs = 2000
	}
	if cfg.Feed.ClaimMinIdleMs == 0 {
		cfg.Feed.ClaimMinIdleMs = 60000
	}
	if cfg.Feed.ClaimEveryMs <= 0 {
		cfg.Feed.ClaimEveryMs = 30000
	}

	if cfg.Worker.MaxAttempts <= 0 {
		cfg.Worker.MaxAttempts = 5
	}
	if cfg.Worker.BackoffMinMs <= 0 {
		cfg.Worker.BackoffMinMs = 2000
	}
	if cfg.Worker.BackoffMaxMs <= 0 {
		cfg.Worker.BackoffMaxMs = 32000
	}
	if cfg.Worker.ErrorDelayMs <= 0 {
		cfg.Worker.ErrorDelayMs = 5000
	}

	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 2
	}
	if cfg.Breaker.BreakSeconds <= 0 {
		cfg.Breaker.BreakSeconds = 30
	}

	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = "simulated"
	}
	if cfg.Source.TimeoutMs <= 0 {
		cfg.Source.TimeoutMs = 3000
	}
	if cfg.Source.FailEvery <= 0 {
		cfg.Source.FailEvery = 5
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/quoteflow.db"
	}
	if cfg.Storage.Postgres.MaxConns <= 0 {
		cfg.Storage.Postgres.MaxConns = 10
	}

	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "quoteflow"
	}
}

// DefaultConsumerName is unique per process so that two daemons sharing a
// group never read each other's pending entries as their own.
func DefaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "quotes-consumer"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func validate(cfg *Config) error {
	if cfg.Worker.BackoffMaxMs < cfg.Worker.BackoffMinMs {
		return errors.New("worker.backoff_max_ms must be >= worker.backoff_min_ms")
	}
	if cfg.Worker.ProcessTimeoutMs < 0 {
		return errors.New("worker.process_timeout_ms must not be negative")
	}

	switch cfg.Source.Kind {
	case "simulated":
	case "http":
		if strings.TrimSpace(cfg.Source.BaseURL) == "" {
			return errors.New("source.base_url empty but source.kind is http")
		}
	default:
		return fmt.Errorf("unknown source.kind %q", cfg.Source.Kind)
	}

	switch cfg.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn empty but storage.driver is postgres")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}
	return nil
}

func (c *Config) BlockTimeout() time.Duration {
	return time.Duration(c.Feed.BlockMs) * time.Millisecond
}

// ClaimMinIdle is zero when claiming is disabled.
func (c *Config) ClaimMinIdle() time.Duration {
	if c.Feed.ClaimMinIdleMs < 0 {
		return 0
	}
	return time.Duration(c.Feed.ClaimMinIdleMs) * time.Millisecond
}

func (c *Config) ClaimEvery() time.Duration {
	return time.Duration(c.Feed.ClaimEveryMs) * time.Millisecond
}

func (c *Config) BreakDuration() time.Duration {
	return time.Duration(c.Breaker.BreakSeconds) * time.Second
}

func (c *Config) ErrorDelay() time.Duration {
	return time.Duration(c.Worker.ErrorDelayMs) * time.Millisecond
}

func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.Worker.ProcessTimeoutMs) * time.Millisecond
}

func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutMs) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
