package cli

import (
	"github.com/spf13/cobra"
)

// Execute builds and runs the CLI.
func Execute() error {
	var (
		cfgFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "wardrobe-ingest",
		Short: "Image ingestion engine for the wardrobe app",
		Long: `wardrobe-ingest converts user-selected clothing photos into
self-contained data URI payloads, maintains the capped, ordered batch of
images per wardrobe item, and publishes every batch change to the configured
sinks (stdout, rotating manifest file, elasticsearch).

Run it as a drop-folder watch service with "run", or import a fixed set of
files with "add".

Hot-reload: When a config file is specified, sink changes are automatically
applied without requiring a restart.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		NewRunCmd(&cfgFile, &logLevel),
		NewAddCmd(&cfgFile, &logLevel),
		NewValidateCmd(&cfgFile),
		NewVersionCmd(),
	)

	return rootCmd.Execute()
}
