// Package config provides configuration management for the matchmaker.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var knownRoles = map[string]bool{"tank": true, "healer": true, "dps": true}

// Config represents the matchmaker configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Matching    MatchingConfig    `mapstructure:"matching"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Presence    PresenceConfig    `mapstructure:"presence"`
	Synthetic   SyntheticConfig   `mapstructure:"synthetic"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Stats       StatsConfig       `mapstructure:"stats"`
	Database    DatabaseConfig    `mapstructure:"database"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BracketConfig is one named level preset
type BracketConfig struct {
	Name string `mapstructure:"name"`
	Min  int    `mapstructure:"min"`
	Max  int    `mapstructure:"max"`
}

// MatchingConfig holds party rules and level bounds
type MatchingConfig struct {
	LevelMin          int             `mapstructure:"level_min"`
	LevelMax          int             `mapstructure:"level_max"`
	KeystoneThreshold int             `mapstructure:"keystone_threshold"`
	PartySize         int             `mapstructure:"party_size"`
	RoleCaps          map[string]int  `mapstructure:"role_caps"`
	KeyBrackets       []BracketConfig `mapstructure:"key_brackets"`
}

// SessionsConfig holds confirmation settings
type SessionsConfig struct {
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	Retention      time.Duration `mapstructure:"retention"`
}

// PresenceConfig holds the idle watchdog settings
type PresenceConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	PromptAfter     time.Duration `mapstructure:"prompt_after"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
}

// SyntheticConfig holds administrative test identity settings
type SyntheticConfig struct {
	IDFloor int64 `mapstructure:"id_floor"`
}

// DispatchConfig sizes the delivery worker pool
type DispatchConfig struct {
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// NotifyConfig selects the notification transport
type NotifyConfig struct {
	Driver string `mapstructure:"driver"`
	Prefix string `mapstructure:"prefix"`
}

// RedisConfig represents Redis connection configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StatsConfig selects the completion recorder
type StatsConfig struct {
	Driver         string `mapstructure:"driver"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	ResetWeekday   string `mapstructure:"reset_weekday"`
	ResetHour      int    `mapstructure:"reset_hour"`
	ResetUTCOffset int    `mapstructure:"reset_utc_offset_hours"`
}

// DatabaseConfig represents PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// RateLimiterConfig holds admin rate limiter configuration
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration and fills in empty optional values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Matching.LevelMin < 2 {
		return errors.New("matching.level_min must be at least 2")
	}
	if c.Matching.LevelMax < c.Matching.LevelMin {
		return errors.New("matching.level_max must be >= matching.level_min")
	}
	if c.Matching.PartySize < 2 {
		return errors.New("matching.party_size must be at least 2")
	}
	if c.Matching.KeystoneThreshold < 0 {
		return errors.New("matching.keystone_threshold must not be negative")
	}
	total := 0
	for role, n := range c.Matching.RoleCaps {
		if !knownRoles[strings.ToLower(role)] {
			return fmt.Errorf("matching.role_caps: unknown role %q", role)
		}
		if n < 0 {
			return fmt.Errorf("matching.role_caps.%s must not be negative", role)
		}
		total += n
	}
	if total < c.Matching.PartySize {
		return errors.New("matching.role_caps must add up to at least matching.party_size")
	}
	for _, b := range c.Matching.KeyBrackets {
		if b.Name == "" || b.Min > b.Max {
			return fmt.Errorf("matching.key_brackets: invalid bracket %q [%d,%d]", b.Name, b.Min, b.Max)
		}
	}
	if c.Sessions.ConfirmTimeout <= 0 {
		return errors.New("sessions.confirm_timeout must be positive")
	}
	if c.Presence.Enabled {
		if c.Presence.Interval <= 0 || c.Presence.PromptAfter <= 0 || c.Presence.ResponseTimeout <= 0 {
			return errors.New("presence.interval, prompt_after and response_timeout must be positive")
		}
	}
	if c.Synthetic.IDFloor <= 0 {
		return errors.New("synthetic.id_floor must be positive")
	}
	if c.Dispatch.Workers <= 0 {
		return errors.New("dispatch.workers must be positive")
	}

	switch c.Notify.Driver {
	case "log":
	case "redis":
		if c.Redis.Host == "" {
			return errors.New("redis.host is required for the redis notifier")
		}
	default:
		return fmt.Errorf("notify.driver must be one of: log, redis (got %q)", c.Notify.Driver)
	}

	switch c.Stats.Driver {
	case "none":
	case "sqlite":
		if c.Stats.SQLitePath == "" {
			return errors.New("stats.sqlite_path is required for the sqlite recorder")
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "" {
			return errors.New("database.host, database.database and database.user are required for the postgres recorder")
		}
	default:
		return fmt.Errorf("stats.driver must be one of: none, sqlite, postgres (got %q)", c.Stats.Driver)
	}
	if _, err := c.ResetWeekday(); err != nil {
		return err
	}
	if c.Stats.ResetHour < 0 || c.Stats.ResetHour > 23 {
		return errors.New("stats.reset_hour must be between 0 and 23")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	return nil
}

// ResetWeekday parses stats.reset_weekday
func (c *Config) ResetWeekday() (time.Weekday, error) {
	name := strings.TrimSpace(c.Stats.ResetWeekday)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("stats.reset_weekday: unknown weekday %q", c.Stats.ResetWeekday)
}

// ResetZone is the fixed zone the weekly reset hour is expressed in
func (c *Config) ResetZone() *time.Location {
	offset := c.Stats.ResetUTCOffset
	return time.FixedZone(fmt.Sprintf("UTC%+d", offset), offset*60*60)
}

// RedisAddr returns host:port
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Matching: MatchingConfig{
			LevelMin:          2,
			LevelMax:          20,
			KeystoneThreshold: 2,
			PartySize:         5,
			RoleCaps: map[string]int{
				"tank":   1,
				"healer": 1,
				"dps":    3,
			},
		},
		Sessions: SessionsConfig{
			ConfirmTimeout: 5 * time.Minute,
			Retention:      15 * time.Minute,
		},
		Presence: PresenceConfig{
			Enabled:         true,
			Interval:        30 * time.Second,
			PromptAfter:     30 * time.Minute,
			ResponseTimeout: 10 * time.Minute,
		},
		Synthetic: SyntheticConfig{
			IDFloor: 900000000000000000,
		},
		Dispatch: DispatchConfig{
			Workers:    8,
			QueueSize:  1024,
			JobTimeout: 10 * time.Second,
		},
		Notify: NotifyConfig{
			Driver: "log",
			Prefix: "softmatch",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		Stats: StatsConfig{
			Driver:         "sqlite",
			SQLitePath:     "softmatch.db",
			ResetWeekday:   "tuesday",
			ResetHour:      12,
			ResetUTCOffset: -3,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "softmatch",
			User:           "softmatch",
			MaxConnections: 10,
			MinConnections: 2,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			BurstSize:         20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
