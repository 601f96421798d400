package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Cirilcetra/agentbackend/db"
	"github.com/Cirilcetra/agentbackend/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := db.MigrateUp(cfg.PostgresURL()); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := db.MigrateDown(cfg.PostgresURL()); err != nil {
			return err
		}
		fmt.Println("migrations rolled back")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		version, dirty, err := db.Version(cfg.PostgresURL())
		if err != nil {
			return err
		}
		if version == 0 {
			fmt.Println("no migrations applied")
			return nil
		}
		fmt.Printf("schema version %d (dirty: %v)\n", version, dirty)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}
