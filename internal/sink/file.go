package sink

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"

	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
)

// WriterFactory creates a new WriteCloser.
type WriterFactory func(cfg config.FileSinkConfig) (io.WriteCloser, error)

// FileOption configures the FileSink.
type FileOption func(*FileSink)

// WithWriterFactory sets a custom factory for creating the writer.
func WithWriterFactory(f WriterFactory) FileOption {
	return func(s *FileSink) {
		s.factory = f
	}
}

// FileSink appends batch snapshots as JSON lines to a rotating manifest file.
// The manifest is the durable record of what each item's batch looked like
// after every mutation.
type FileSink struct {
	cfg     config.FileSinkConfig
	factory WriterFactory
	writer  io.WriteCloser
	mu      sync.Mutex
}

// NewFileSink creates a new file sink.
func NewFileSink(cfg config.FileSinkConfig, opts ...FileOption) *FileSink {
	s := &FileSink{
		cfg: cfg,
	}

	// Default factory creates lumberjack logger
	s.factory = func(cfg config.FileSinkConfig) (io.WriteCloser, error) {
		return &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}, nil
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the sink identifier.
func (f *FileSink) Name() string {
	return "file"
}

// Start initializes the rotating manifest writer.
func (f *FileSink) Start(ctx context.Context) error {
	w, err := f.factory(f.cfg)
	if err != nil {
		return err
	}
	f.writer = w
	return nil
}

// Stop closes the manifest writer.
func (f *FileSink) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer != nil {
		return f.writer.Close()
	}
	return nil
}

// Publish appends one snapshot line to the manifest.
func (f *FileSink) Publish(ctx context.Context, snap *model.BatchSnapshot) error {
	record := map[string]any{
		"timestamp":   snap.Timestamp.Format(time.RFC3339Nano),
		"item_id":     snap.ItemID.String(),
		"seq":         snap.Seq,
		"image_count": len(snap.Images),
		"images":      snap.Images,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	_, err = f.writer.Write(append(data, '\n'))
	return err
}
