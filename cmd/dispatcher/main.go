// Command dispatcher runs the campaign queue dispatcher and its operator API.
package main

import (
	"fmt"
	"os"

	"github.com/ianampudia11/mecom-sub003/internal/version"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "dispatcher",
	Short:         "Campaign queue dispatcher",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(
		&configPath,
		"config", "c",
		os.Getenv("DISPATCHER_CONFIG"),
		`path to a YAML config file (env: DISPATCHER_CONFIG)`,
	)

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
