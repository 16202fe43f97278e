package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrMissingDatabaseURL is returned when no database DSN is configured.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required (postgres://... or sqlite://path)")

// Defaults applied by Load and LoadFromFile.
const (
	DefaultServerPort     = "8080"
	DefaultSessionTTL     = 30 * time.Minute
	DefaultMigrationsPath = "file://migrations"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL    string        `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL       string        `yaml:"redis_url" env:"REDIS_URL"`
	ServerPort     string        `yaml:"server_port" env:"SERVER_PORT"`
	ExportPath     string        `yaml:"export_path" env:"EXPORT_PATH"`
	AutoRename     bool          `yaml:"auto_rename" env:"LINEUP_AUTO_RENAME"`
	SessionTTL     time.Duration `yaml:"session_ttl" env:"LINEUP_SESSION_TTL"`
	MigrationsPath string        `yaml:"migrations_path" env:"MIGRATIONS_PATH"`
}

// Load builds config from environment variables.
// If DATABASE_URL is not set, Load first fills unset variables from lineup.env,
// .env.local and .env (or the file LINEUP_ENV_FILE names).
// DATABASE_URL is required; everything else is optional.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ServerPort:     os.Getenv("SERVER_PORT"),
		ExportPath:     os.Getenv("EXPORT_PATH"),
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),
	}
	if s := os.Getenv("LINEUP_AUTO_RENAME"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			c.AutoRename = b
		}
	}
	if s := os.Getenv("LINEUP_SESSION_TTL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			c.SessionTTL = d
		}
	}
	c.applyDefaults()
	if c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.ServerPort == "" {
		c.ServerPort = DefaultServerPort
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.MigrationsPath == "" {
		c.MigrationsPath = DefaultMigrationsPath
	}
}
