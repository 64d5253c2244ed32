// /internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrMissingToken is returned by Validate when the Discord front-end is used without a token.
var ErrMissingToken = errors.New("DISCORD_TOKEN is not set")

type Config struct {
	DiscordToken          string   `env:"DISCORD_TOKEN"`
	DiscordGuildBlacklist []string `env:"DISCORD_GUILD_BLACKLIST" envSeparator:","`
	InitSlashCommands     bool     `env:"INIT_SLASH_COMMANDS" envDefault:"true"`
	DataDir               string   `env:"DATA_DIR" envDefault:"data"`

	CacheDir          string        `env:"CACHE_DIR" envDefault:"cache"`
	CacheMaxBytes     int64         `env:"CACHE_MAX_BYTES" envDefault:"5368709120"`
	InactivityTimeout time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"60s"`
	ResolveWorkers    int           `env:"RESOLVE_WORKERS" envDefault:"4"`
	ResolveTimeout    time.Duration `env:"RESOLVE_TIMEOUT" envDefault:"2m"`
	ResolveRate       float64       `env:"RESOLVE_RATE" envDefault:"2"`
	CleanupDelay      time.Duration `env:"CLEANUP_DELAY" envDefault:"2s"`
	FFmpegPath        string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFile           string        `env:"LOG_FILE"`
	LogPretty         bool          `env:"LOG_PRETTY" envDefault:"true"`
}

// Load reads .env (if present) and then the process environment.
// A missing .env is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings needed by the Discord front-end.
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return ErrMissingToken
	}
	return nil
}

func (c *Config) normalize() error {
	if c.CacheDir == "" {
		return errors.New("CACHE_DIR must not be empty")
	}
	if c.CacheMaxBytes < 0 {
		return fmt.Errorf("CACHE_MAX_BYTES must be >= 0, got %d", c.CacheMaxBytes)
	}
	if c.ResolveWorkers <= 0 {
		c.ResolveWorkers = 1
	}
	if c.ResolveRate <= 0 {
		c.ResolveRate = 1
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 60 * time.Second
	}
	return nil
}
