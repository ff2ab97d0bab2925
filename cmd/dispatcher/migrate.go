package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ianampudia11/mecom-sub003/internal/config"
	"github.com/ianampudia11/mecom-sub003/migrations"
	"github.com/spf13/cobra"
)

var downSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := migrations.Up(cfg.Database.URL); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		slog.Info("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		if downSteps < 1 {
			return errors.New("--steps must be at least 1")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := migrations.Down(cfg.Database.URL, downSteps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		slog.Info("migrations rolled back", "steps", downSteps)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
