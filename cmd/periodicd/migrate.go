package main

import (
	"os"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configPath, os.Getenv)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		b, err := openStore(cmd.Context(), cfg.Store, logger)
		if err != nil {
			return err
		}
		defer b.close()

		if err := b.store.Migrate(cmd.Context()); err != nil {
			return err
		}
		cmd.Printf("migrations applied (%s)\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
