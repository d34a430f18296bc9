package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xaenox/carebot/pkg/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Database.UseInMemory {
				return fmt.Errorf("in-memory storage has no schema to migrate")
			}

			// Opening the store applies the embedded migrations
			store, err := openStorage(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "database schema is up to date")
			return nil
		},
	}
}
