package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:///tmp/lineup.sqlite")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("EXPORT_PATH", "/tmp/lineup.m3u")
	t.Setenv("LINEUP_AUTO_RENAME", "true")
	t.Setenv("LINEUP_SESSION_TTL", "5m")
	t.Setenv("MIGRATIONS_PATH", "")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ServerPort != DefaultServerPort || c.MigrationsPath != DefaultMigrationsPath {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if !c.AutoRename || c.SessionTTL != 5*time.Minute || c.ExportPath != "/tmp/lineup.m3u" {
		t.Fatalf("config = %+v", c)
	}
}

func TestLoadBadTTLFallsBackToDefault(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/lineup")
	t.Setenv("LINEUP_SESSION_TTL", "soon")
	t.Setenv("LINEUP_AUTO_RENAME", "maybe")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SessionTTL != DefaultSessionTTL || c.AutoRename {
		t.Fatalf("config = %+v", c)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lineup.yaml")
	data := []byte("database_url: sqlite://lineup.sqlite\nserver_port: \"9090\"\nauto_rename: true\nsession_ttl: 1h\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if c.ServerPort != "9090" || !c.AutoRename || c.SessionTTL != time.Hour || c.MigrationsPath != DefaultMigrationsPath {
		t.Fatalf("config = %+v", c)
	}
}

func TestLoadFromFileRequiresDatabaseURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lineup.yaml")
	if err := os.WriteFile(path, []byte("server_port: \"9090\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); !errors.Is(err, ErrMissingDatabaseURL) {
		t.Fatalf("err = %v, want ErrMissingDatabaseURL", err)
	}
}

func TestParseEnvFile(t *testing.T) {
	data := []byte(`# lineup settings
DATABASE_URL="postgres://lineup@localhost/lineup?sslmode=disable"
export REDIS_URL=redis://localhost:6379/0
LINEUP_SESSION_TTL=45m # idle sessions
LINEUP_AUTO_RENAME='true'
HOME=/tmp/elsewhere
not a pair
`)
	got := parseEnvFile(data)
	want := map[string]string{
		"DATABASE_URL":       "postgres://lineup@localhost/lineup?sslmode=disable",
		"REDIS_URL":          "redis://localhost:6379/0",
		"LINEUP_SESSION_TTL": "45m",
		"LINEUP_AUTO_RENAME": "true",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseEnvFile = %v, want %v", got, want)
	}
}

func TestLoadReadsNamedEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lineup.env")
	content := "DATABASE_URL=sqlite:///tmp/lineup.sqlite\nSERVER_PORT=7000\nLINEUP_SESSION_TTL=5m\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("LINEUP_ENV_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "sqlite:///tmp/lineup.sqlite" || cfg.SessionTTL != 5*time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ServerPort != "9000" {
		t.Fatalf("ServerPort = %q, want the environment's 9000", cfg.ServerPort)
	}
}
