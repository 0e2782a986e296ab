package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/service"
)

// NewRunCmd creates the run command.
func NewRunCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the drop-folder ingest service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd, cfgFile, logLevel)
		},
	}

	// Source flags
	cmd.Flags().String("watch-dir", "", "drop folder to watch (enables the watch source)")

	// Sink flags
	cmd.Flags().Bool("stdout", false, "enable stdout sink")
	cmd.Flags().String("stdout-format", "json", "stdout output format (json, text)")
	cmd.Flags().String("manifest", "", "manifest file path (enables the file sink)")

	// Ingest flags
	cmd.Flags().Int("max-images", 0, "cap on images per item (overrides config)")

	// Hot-reload flag
	cmd.Flags().Bool("hot-reload", true, "enable hot-reload of config file")

	return cmd
}

func runService(cmd *cobra.Command, cfgFile, logLevel *string) error {
	log := SetupLogging(*logLevel)

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	applyCLIOverrides(cmd, cfg)

	svc, err := service.New(cfg, log)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	log.Infof("starting wardrobe-ingest: item=%s, sinks=%d, watch=%v",
		svc.Ingester().ItemID(), svc.SinkCount(), svc.WatchEnabled())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	hotReloadEnabled, _ := cmd.Flags().GetBool("hot-reload")
	if *cfgFile != "" && hotReloadEnabled {
		startConfigWatcher(ctx, cmd, cfgFile, cfg, svc, log)
	}

	go handleSignals(ctx, cancel, sigChan, cmd, cfgFile, svc, log)

	if err := svc.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("service error: %w", err)
	}

	log.Info("wardrobe-ingest stopped")
	return nil
}

func startConfigWatcher(ctx context.Context, cmd *cobra.Command, cfgFile *string, cfg *config.Config, svc *service.Service, log logger.ILogger) {
	watcher := config.NewConfigWatcher(*cfgFile, cfg, log)
	if err := watcher.Start(ctx); err != nil {
		log.Warningf("failed to start config watcher: %v", err)
		return
	}

	log.Infof("hot-reload enabled: config=%s", *cfgFile)

	go func() {
		for {
			select {
			case newCfg := <-watcher.Changes():
				applyCLIOverrides(cmd, newCfg)
				if err := svc.Reconfigure(newCfg); err != nil {
					log.Errorf("reconfigure failed: %v", err)
				}
			case err := <-watcher.Errors():
				log.Errorf("config watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal, cmd *cobra.Command, cfgFile *string, svc *service.Service, log logger.ILogger) {
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading config")
				newCfg, err := config.Load(*cfgFile)
				if err != nil {
					log.Errorf("failed to reload config: %v", err)
					continue
				}
				applyCLIOverrides(cmd, newCfg)
				if err := svc.Reconfigure(newCfg); err != nil {
					log.Errorf("reconfigure failed: %v", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Infof("received shutdown signal: %v", sig)
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) {
	if dir, _ := cmd.Flags().GetString("watch-dir"); dir != "" {
		cfg.Watch.Enabled = true
		cfg.Watch.Dir = dir
	}
	if v, _ := cmd.Flags().GetBool("stdout"); v {
		cfg.Sinks.Stdout.Enabled = true
	}
	if format, _ := cmd.Flags().GetString("stdout-format"); format != "" {
		cfg.Sinks.Stdout.Format = format
	}
	if path, _ := cmd.Flags().GetString("manifest"); path != "" {
		cfg.Sinks.File.Enabled = true
		cfg.Sinks.File.Path = path
	}
	if n, _ := cmd.Flags().GetInt("max-images"); n > 0 {
		cfg.Ingest.MaxImages = n
	}
}
