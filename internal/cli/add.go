package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/service"
)

// NewAddCmd creates the add command: a one-shot import of the listed files
// into a fresh item batch.
func NewAddCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Encode image files into an item batch and publish it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, cfgFile, logLevel, args)
		},
	}

	cmd.Flags().Bool("stdout", false, "enable stdout sink")
	cmd.Flags().String("stdout-format", "json", "stdout output format (json, text)")
	cmd.Flags().String("manifest", "", "manifest file path (enables the file sink)")
	cmd.Flags().Int("max-images", 0, "cap on images per item (overrides config)")

	return cmd
}

func runAdd(cmd *cobra.Command, cfgFile, logLevel *string, args []string) error {
	log := SetupLogging(*logLevel)

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	applyCLIOverrides(cmd, cfg)
	// One-shot mode never watches
	cfg.Watch.Enabled = false

	svc, err := service.New(cfg, log)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- svc.Run(ctx)
	}()

	files := make([]*model.RawFile, 0, len(args))
	for _, path := range args {
		files = append(files, &model.RawFile{
			Name: filepath.Base(path),
			Path: path,
		})
	}

	type addReply struct {
		result *model.Result
		err    error
	}
	replyCh := make(chan addReply, 1)
	go func() {
		result, err := svc.Ingester().AddFiles(ctx, files)
		replyCh <- addReply{result, err}
	}()

	var result *model.Result
	select {
	case reply := <-replyCh:
		if reply.err != nil {
			return fmt.Errorf("importing files: %w", reply.err)
		}
		result = reply.result
	case err := <-runErr:
		// The pipeline died before the import settled
		return fmt.Errorf("service error: %w", err)
	}

	// Let the fanout drain before reporting
	cancel()
	<-runErr

	fmt.Printf("Imported %d image(s) into item %s\n", len(result.Accepted), svc.Ingester().ItemID())
	for _, rej := range result.Rejected {
		if rej.Err != nil {
			fmt.Printf("  rejected: %s (%s: %v)\n", rej.File, rej.Reason, rej.Err)
		} else {
			fmt.Printf("  rejected: %s (%s)\n", rej.File, rej.Reason)
		}
	}

	if len(result.Accepted) == 0 {
		return fmt.Errorf("no files imported")
	}
	return nil
}
