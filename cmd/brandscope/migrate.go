package main

import (
	"fmt"

	srv "github.com/mohammad-safakhou/brandscope/internal/server"
	"github.com/spf13/cobra"
)

func migrateCMD(cfgPath *string) *cobra.Command {
	var dir string
	var direction string
	var steps int

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run archive database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			if !cfg.Storage.Postgres.Enabled() {
				return fmt.Errorf("postgres not configured (storage.postgres.url or host/dbname)")
			}
			if err := srv.Migrate(dir, cfg.Storage.Postgres.DSN(), direction, steps); err != nil {
				return err
			}
			log.WithField("direction", direction).Info("migrations applied")
			return nil
		},
	}
	migrate.Flags().StringVar(&dir, "dir", srv.DefaultMigrations, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
