package cli

import (
	"fmt"
	"time"

	"codex/api/internal/config"
	"codex/api/internal/store"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var (
		status bool
		down   bool
	)
	command := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := newLogger(cfg)
			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()

			switch {
			case status:
				states, err := store.MigrationStatus(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				for _, s := range states {
					applied := "pending"
					if s.AppliedAt != nil {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s_%s\t%s\n", s.Version, s.Name, applied)
				}
				return nil
			case down:
				reverted, err := store.RollbackMigration(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				if reverted == nil {
					log.Info("no migrations to roll back")
					return nil
				}
				log.WithField("version", reverted.Version).Info("migration rolled back")
				return nil
			}

			if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
				return err
			}
			log.WithField("dir", cfg.MigrationsDir).Info("migrations applied")
			return nil
		},
	}
	command.Flags().BoolVar(&status, "status", false, "list migrations and when they were applied")
	command.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	command.MarkFlagsMutuallyExclusive("status", "down")
	return command
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every entry to Meilisearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.MeiliURL == "" {
				return fmt.Errorf("MEILI_URL is not set")
			}
			log := newLogger(cfg)
			rt, err := openRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.service.ReindexSearch(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d entries\n", n)
			return nil
		},
	}
}

func referencesCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "references",
		Short: "Entry reference maintenance",
	}
	command.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Recompute mentioned entries and reference rows from descriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := newLogger(cfg)
			rt, err := openRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.service.RebuildReferences(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt references for %d entries\n", n)
			return nil
		},
	})
	return command
}
