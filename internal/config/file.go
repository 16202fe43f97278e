package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL    string `yaml:"database_url"`
	RedisURL       string `yaml:"redis_url"`
	ServerPort     string `yaml:"server_port"`
	ExportPath     string `yaml:"export_path"`
	AutoRename     bool   `yaml:"auto_rename"`
	SessionTTL     string `yaml:"session_ttl"`
	MigrationsPath string `yaml:"migrations_path"`
}

// LoadFromFile loads config from a YAML file. database_url is required.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	c := &Config{
		DatabaseURL:    f.DatabaseURL,
		RedisURL:       f.RedisURL,
		ServerPort:     f.ServerPort,
		ExportPath:     f.ExportPath,
		AutoRename:     f.AutoRename,
		MigrationsPath: f.MigrationsPath,
	}
	if f.SessionTTL != "" {
		if d, err := time.ParseDuration(f.SessionTTL); err == nil {
			c.SessionTTL = d
		}
	}
	c.applyDefaults()
	return c, nil
}
