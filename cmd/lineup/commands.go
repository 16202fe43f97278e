package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voyagen/lineup/internal/server"
	"github.com/voyagen/lineup/internal/service"
	"github.com/voyagen/lineup/internal/session"
	"github.com/voyagen/lineup/internal/store"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the export worker when Redis and EXPORT_PATH are set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, rds, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if rds != nil {
				defer rds.Close()
			}

			// Start the background export worker if both Redis and an export path are available.
			if rds != nil && a.cfg.ExportPath != "" {
				go service.RunExportWorker(ctx, rds, st, a.cfg.ExportPath)
			} else if a.cfg.ExportPath != "" {
				fmt.Fprintln(os.Stderr, "export worker disabled (REDIS_URL not set); use POST /api/export")
			}

			srv := server.New(st, a.cfg)
			if err := srv.ListenAndServe(ctx); err != nil {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.RunMigrations(a.cfg.DatabaseURL, a.migrationsPath()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	var autoRename bool
	cmd := &cobra.Command{
		Use:   "import <playlist-url-or-path>",
		Short: "Import an M3U playlist and commit it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, rds, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if rds != nil {
				defer rds.Close()
			}

			cat, err := st.LoadCatalog(ctx)
			if err != nil {
				return err
			}
			sess := session.New(cat, session.Options{AutoRename: autoRename || a.cfg.AutoRename})
			res, err := service.Import(ctx, st, sess, args[0])
			if err != nil {
				return err
			}
			report, err := sess.Commit(store.WithSessionID(ctx, sess.ID()), st)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imported %d channels (%d streams, %d groups)\n", res.Channels, res.Streams, res.Groups)
			for _, as := range res.Renumbered {
				fmt.Fprintf(out, "  renumbered %d -> %d\n", as.ChannelID, as.Number)
			}
			fmt.Fprintf(out, "committed %d, rejected %d\n", len(report.Committed), len(report.Rejected))
			for _, rej := range report.Rejected {
				fmt.Fprintf(out, "  %v\n", rej)
			}
			if !report.OK() {
				return fmt.Errorf("%d item(s) rejected", len(report.Rejected))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoRename, "auto-rename", false, "Rewrite number tokens in names of renumbered channels")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [path]",
		Short: "Write the committed lineup as M3U (defaults to EXPORT_PATH)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.ExportPath
			if len(args) == 1 {
				path = args[0]
			}
			st, rds, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			if rds != nil {
				defer rds.Close()
			}
			n, err := service.ExportPlaylist(cmd.Context(), st, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d channels to %s\n", n, path)
			return nil
		},
	}
}
