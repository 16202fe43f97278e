package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// envKeys are the variables Load reads. Env files may set only these.
var envKeys = []string{
	"DATABASE_URL",
	"REDIS_URL",
	"SERVER_PORT",
	"EXPORT_PATH",
	"MIGRATIONS_PATH",
	"LINEUP_AUTO_RENAME",
	"LINEUP_SESSION_TTL",
}

// envFileNames are searched in this order. A variable keeps the first value
// found, so lineup.env overrides .env.local, which overrides .env.
var envFileNames = []string{"lineup.env", ".env.local", ".env"}

// loadEnvFiles fills unset lineup variables from env files in the working
// directory and the executable's directory. LINEUP_ENV_FILE names a single
// file and replaces the search.
func loadEnvFiles() {
	if path := os.Getenv("LINEUP_ENV_FILE"); path != "" {
		if err := applyEnvPath(path); err != nil {
			log.Printf("config: %v", err)
		}
		return
	}
	for _, dir := range envFileDirs() {
		for _, name := range envFileNames {
			err := applyEnvPath(filepath.Join(dir, name))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Printf("config: %v", err)
			}
		}
	}
}

func envFileDirs() []string {
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		if dir := filepath.Dir(exe); !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func applyEnvPath(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	for key, value := range parseEnvFile(data) {
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
	return nil
}

// parseEnvFile returns the lineup variables assigned in data. Lines may carry
// an "export " prefix; an unquoted value ends at " #".
func parseEnvFile(data []byte) map[string]string {
	vars := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || !slices.Contains(envKeys, key) {
			continue
		}
		vars[key] = envValue(strings.TrimSpace(value))
	}
	return vars
}

func envValue(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}
