// Package service composes the ingest pipeline, sinks, and sources from
// configuration and manages their shared lifecycle.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/ingest"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/sink"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/source"
)

// Service wires the ingester, its sinks, and the optional drop-folder
// source together.
type Service struct {
	mu     sync.Mutex
	cfg    *config.Config
	logger logger.ILogger

	ingester *ingest.Ingester
	source   *source.WatchSource
}

// New builds a service from configuration.
func New(cfg *config.Config, log logger.ILogger, opts ...ingest.Option) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		logger: log.SubLogger("Service"),
	}

	sinks, err := buildSinks(cfg, log)
	if err != nil {
		return nil, err
	}

	ing, err := ingest.New(cfg, sinks, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating ingester: %w", err)
	}
	s.ingester = ing

	if cfg.Watch.Enabled {
		s.source = source.NewWatchSource(cfg.Watch, s.handleFiles, log)
		// A cleared batch forgets its imported files, so the same drops
		// can come back in.
		ing.OnClear(s.source.Reset)
	}

	return s, nil
}

// buildSinks creates enabled sinks.
func buildSinks(cfg *config.Config, log logger.ILogger) ([]sink.Sink, error) {
	var sinks []sink.Sink

	if cfg.Sinks.Stdout.Enabled {
		sinks = append(sinks, sink.NewStdoutSink(cfg.Sinks.Stdout, log))
	}
	if cfg.Sinks.File.Enabled {
		sinks = append(sinks, sink.NewFileSink(cfg.Sinks.File))
	}
	if cfg.Sinks.Elasticsearch.Enabled {
		sinks = append(sinks, sink.NewElasticsearchSink(cfg.Sinks.Elasticsearch))
	}
	if cfg.Sinks.HTTP.Enabled {
		sinks = append(sinks, sink.NewHTTPSink(cfg.Sinks.HTTP))
	}

	if len(sinks) == 0 {
		return nil, fmt.Errorf("no sinks enabled")
	}
	return sinks, nil
}

// Ingester exposes the pipeline for direct use (one-shot imports).
func (s *Service) Ingester() *ingest.Ingester {
	return s.ingester
}

// SinkCount returns the number of active sinks.
func (s *Service) SinkCount() int {
	return s.ingester.SinkCount()
}

// WatchEnabled reports whether the drop-folder source is configured.
func (s *Service) WatchEnabled() bool {
	return s.source != nil
}

// Run starts the pipeline and the drop-folder source, and blocks until the
// context is cancelled. Readiness and shutdown are signalled to systemd
// when running under it.
func (s *Service) Run(ctx context.Context) error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		s.logger.Debugf("sd_notify ready failed: %v", err)
	}
	defer func() {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
			s.logger.Debugf("sd_notify stopping failed: %v", err)
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.ingester.Run(gCtx)
	})

	if s.source != nil {
		g.Go(func() error {
			return s.source.Run(gCtx)
		})
	}

	return g.Wait()
}

// handleFiles feeds one settled drop group into the batch.
func (s *Service) handleFiles(ctx context.Context, files []*model.RawFile) {
	result, err := s.ingester.AddFiles(ctx, files)
	if err != nil {
		s.logger.Errorf("import failed: %v", err)
		return
	}

	for _, rej := range result.Rejected {
		s.logger.Warningf("file not imported: name=%s reason=%s error=%v", rej.File, rej.Reason, rej.Err)
	}
	if len(result.Accepted) > 0 {
		s.logger.Infof("imported images: count=%d total=%d", len(result.Accepted), len(s.ingester.Images()))
	}
}

// Reconfigure applies a new configuration, adding/removing sinks as needed.
// Ingest and watch settings are fixed per session and only take effect
// after a restart.
func (s *Service) Reconfigure(newCfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldCfg := s.cfg
	s.cfg = newCfg

	if newCfg.Ingest != oldCfg.Ingest {
		s.logger.Warning("ingest settings changed; fixed per session, restart to apply")
	}
	if newCfg.Watch.Enabled != oldCfg.Watch.Enabled || newCfg.Watch.Dir != oldCfg.Watch.Dir {
		s.logger.Warning("watch settings changed; restart to apply")
	}

	if err := s.reconfigureSinks(oldCfg, newCfg); err != nil {
		return fmt.Errorf("reconfiguring sinks: %w", err)
	}

	s.logger.Infof("configuration applied: sinks=%d", s.ingester.SinkCount())
	return nil
}

// reconfigureSinks handles adding/removing sinks.
func (s *Service) reconfigureSinks(oldCfg, newCfg *config.Config) error {
	type sinkDef struct {
		name    string
		enabled bool
	}

	getSinks := func(cfg *config.Config) map[string]sinkDef {
		return map[string]sinkDef{
			"stdout":        {"stdout", cfg.Sinks.Stdout.Enabled},
			"file":          {"file", cfg.Sinks.File.Enabled},
			"elasticsearch": {"elasticsearch", cfg.Sinks.Elasticsearch.Enabled},
			"http":          {"http", cfg.Sinks.HTTP.Enabled},
		}
	}

	oldSinks := getSinks(oldCfg)
	newSinks := getSinks(newCfg)

	// Remove disabled sinks
	for name, oldDef := range oldSinks {
		newDef := newSinks[name]
		if oldDef.enabled && !newDef.enabled {
			if err := s.ingester.RemoveSink(name); err != nil {
				return err
			}
		}
	}

	// Add newly enabled sinks
	for name, newDef := range newSinks {
		oldDef := oldSinks[name]
		if newDef.enabled && !oldDef.enabled {
			if err := s.addSink(name, newCfg); err != nil {
				return err
			}
		}
	}

	return nil
}

// addSink builds and registers a sink at runtime.
func (s *Service) addSink(name string, cfg *config.Config) error {
	var sk sink.Sink

	switch name {
	case "stdout":
		sk = sink.NewStdoutSink(cfg.Sinks.Stdout, s.logger)
	case "file":
		sk = sink.NewFileSink(cfg.Sinks.File)
	case "elasticsearch":
		sk = sink.NewElasticsearchSink(cfg.Sinks.Elasticsearch)
	case "http":
		sk = sink.NewHTTPSink(cfg.Sinks.HTTP)
	default:
		return fmt.Errorf("unknown sink: %s", name)
	}

	return s.ingester.AddSink(sk)
}
