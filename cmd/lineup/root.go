package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/voyagen/lineup/internal/cache"
	"github.com/voyagen/lineup/internal/config"
	"github.com/voyagen/lineup/internal/store"
)

type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "lineup",
		Short:         "Edit, renumber and publish a channel lineup",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Optional config file path (YAML); else use env DATABASE_URL")

	cmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newImportCmd(a),
		newExportCmd(a),
	)
	return cmd
}

func (a *app) loadConfig() error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFromFile(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// migrationsPath resolves the default "file://migrations" against the working
// directory, then the executable's directory. Explicit paths are used as is.
func (a *app) migrationsPath() string {
	if a.cfg.MigrationsPath != config.DefaultMigrationsPath {
		return a.cfg.MigrationsPath
	}
	abs, err := filepath.Abs("migrations")
	if err != nil {
		abs = "migrations"
	}
	if _, err := os.Stat(abs); err != nil {
		if exe, e := os.Executable(); e == nil {
			abs = filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	return "file://" + abs
}

// openStore migrates and opens the configured store. When REDIS_URL is set
// the store is wrapped with the Redis cache and the client is returned too.
func (a *app) openStore(ctx context.Context) (store.Store, *cache.Redis, error) {
	if err := store.RunMigrations(a.cfg.DatabaseURL, a.migrationsPath()); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	st, err := store.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db: %w", err)
	}
	if a.cfg.RedisURL == "" {
		fmt.Fprintln(os.Stderr, "redis disabled (REDIS_URL not set)")
		return st, nil, nil
	}
	rds, err := cache.Connect(ctx, a.cfg.RedisURL)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	fmt.Fprintln(os.Stderr, "redis connected (caching enabled)")
	return store.NewCachedStore(st, rds), rds, nil
}
