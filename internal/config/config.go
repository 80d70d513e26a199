// Package config loads server settings from an optional YAML file, an
// optional .env file and the environment, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Feed        FeedConfig        `yaml:"feed"`
	Tournament  TournamentConfig  `yaml:"tournament"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Addr                string   `yaml:"addr"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable behind a proxy that sets those headers itself.
	TrustProxy bool `yaml:"trust_proxy"`
}

// DatabaseConfig selects the store
type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // postgres | sqlite
	URL        string `yaml:"url"`    // connection string, or SQLite path / ":memory:"
	Migrations string `yaml:"migrations"`
}

// FeedConfig controls the upstream price stream
type FeedConfig struct {
	URL                   string `yaml:"url"`
	Symbol                string `yaml:"symbol"`
	ReconnectDelaySeconds int    `yaml:"reconnect_delay_seconds"`
	RequirePrice          *bool  `yaml:"require_price"`
}

type TournamentConfig struct {
	StartingBalance float64 `yaml:"starting_balance"`
}

type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit"`
}

// RateLimitConfig bounds requests per client IP
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxClients        int     `yaml:"max_clients"`
	IdleSeconds       int     `yaml:"idle_seconds"`
}

// LogConfig controls log format and level
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path, if it exists, then applies .env and
// environment overrides and fills defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// ReadTimeout is the HTTP server read timeout
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout is the HTTP server write timeout
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

// ReconnectDelay is the fixed wait before redialing the price feed
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Feed.ReconnectDelaySeconds) * time.Second
}

// RateLimitIdle is how long an unused client bucket is kept
func (c *Config) RateLimitIdle() time.Duration {
	return time.Duration(c.RateLimit.IdleSeconds) * time.Second
}

// PriceRequired reports whether trades are refused until a live price exists
func (c *Config) PriceRequired() bool {
	return c.Feed.RequirePrice == nil || *c.Feed.RequirePrice
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APEX_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("APEX_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("APEX_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("APEX_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("APEX_FEED_SYMBOL"); v != "" {
		cfg.Feed.Symbol = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":5000"
	}
	if cfg.Server.ReadTimeoutSeconds <= 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds <= 0 {
		cfg.Server.WriteTimeoutSeconds = 15
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.URL == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.URL = "apextraders.db"
	}
	if cfg.Database.Migrations == "" {
		cfg.Database.Migrations = "migrations/001_init.sql"
	}
	if cfg.Feed.Symbol == "" {
		cfg.Feed.Symbol = "BTCUSDT"
	}
	if cfg.Feed.ReconnectDelaySeconds <= 0 {
		cfg.Feed.ReconnectDelaySeconds = 5
	}
	if cfg.Tournament.StartingBalance <= 0 {
		cfg.Tournament.StartingBalance = 10000
	}
	if cfg.Leaderboard.DefaultLimit <= 0 {
		cfg.Leaderboard.DefaultLimit = 10
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.RateLimit.MaxClients <= 0 {
		cfg.RateLimit.MaxClients = 10000
	}
	if cfg.RateLimit.IdleSeconds <= 0 {
		cfg.RateLimit.IdleSeconds = 600
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("database url is required for postgres")
	}
	return nil
}
