package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/service"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			// Create a silent logger for validation (discards output)
			log := logger.NewConsoleLogger(io.Discard)

			svc, err := service.New(cfg, log)
			if err != nil {
				return fmt.Errorf("service configuration error: %w", err)
			}

			fmt.Printf("Configuration valid:\n")
			fmt.Printf("  Max images: %d per item\n", cfg.Ingest.MaxImages)
			fmt.Printf("  Sinks:      %d enabled\n", svc.SinkCount())
			fmt.Printf("  Watch:      %v\n", svc.WatchEnabled())
			return nil
		},
	}
}
