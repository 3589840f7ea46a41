package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rentdesk/common/database"
	"rentdesk/common/logger"
	"rentdesk/internal/config"
	"rentdesk/internal/repository"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations to Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "rentctl")
			if err != nil {
				return err
			}
			defer log.Sync()

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			if dryRun {
				migrations, err := repository.LoadMigrations()
				if err != nil {
					return err
				}
				for _, m := range migrations {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d statements\n", m.Name, len(m.Statements))
				}
				return nil
			}

			db, err := database.Connect(cmd.Context(), &cfg.Database)
			if err != nil {
				return fmt.Errorf("cannot connect to database: %w", err)
			}
			defer database.Close(db)

			if err := repository.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Info("Migrations applied", zap.String("database", cfg.Database.Database))
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "List migrations without executing them")
	return cmd
}
