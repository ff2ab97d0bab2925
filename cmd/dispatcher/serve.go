package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/app"
	"github.com/ianampudia11/mecom-sub003/internal/config"
	"github.com/ianampudia11/mecom-sub003/migrations"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher, the operator API and the metrics server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply pending migrations before starting")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if migrateOnStart {
		if err := migrations.Up(cfg.Database.URL); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- application.Run()
	}()

	select {
	case err = <-runErr:
		if err != nil {
			slog.Error("server stopped", "error", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := application.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("shutdown failed", "error", shutdownErr)
		if err == nil {
			err = shutdownErr
		}
	}

	return err
}
