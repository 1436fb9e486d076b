package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the audit store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			if path == "" {
				path = a.cfg.DB.MigrationPath
			}
			if err := db.RunMigration(ctx, path); err != nil {
				return err
			}
			a.log.Info("db: migration applied", zap.String("path", path))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "Migration file (default from db.migration_path)")
	return cmd
}
