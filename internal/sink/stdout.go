package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
)

// StdoutSink writes batch snapshots to standard output.
type StdoutSink struct {
	cfg    config.StdoutSinkConfig
	writer io.Writer
	mu     sync.Mutex
	logger logger.ILogger
}

// NewStdoutSink creates a new stdout sink.
func NewStdoutSink(cfg config.StdoutSinkConfig, log logger.ILogger) *StdoutSink {
	return &StdoutSink{
		cfg:    cfg,
		writer: os.Stdout,
		logger: log.SubLogger("StdoutSink"),
	}
}

// NewStdoutSinkWithWriter creates a stdout sink with a custom writer (for testing).
func NewStdoutSinkWithWriter(cfg config.StdoutSinkConfig, w io.Writer, log logger.ILogger) *StdoutSink {
	return &StdoutSink{
		cfg:    cfg,
		writer: w,
		logger: log.SubLogger("StdoutSink"),
	}
}

// Name returns the sink identifier.
func (s *StdoutSink) Name() string {
	return "stdout"
}

// Start initializes the sink (no-op for stdout).
func (s *StdoutSink) Start(ctx context.Context) error {
	s.logger.Debugf("stdout sink started: format=%s", s.cfg.Format)
	return nil
}

// Stop gracefully shuts down the sink (no-op for stdout).
func (s *StdoutSink) Stop(ctx context.Context) error {
	s.logger.Debug("stdout sink stopped")
	return nil
}

// Publish writes a batch snapshot to stdout.
func (s *StdoutSink) Publish(ctx context.Context, snap *model.BatchSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var output []byte
	var err error

	switch s.cfg.Format {
	case "json":
		output, err = s.formatJSON(snap)
	case "text":
		output, err = s.formatText(snap)
	default:
		output, err = s.formatJSON(snap)
	}

	if err != nil {
		return err
	}

	_, err = s.writer.Write(append(output, '\n'))
	return err
}

// formatJSON formats the snapshot as JSON.
func (s *StdoutSink) formatJSON(snap *model.BatchSnapshot) ([]byte, error) {
	data := map[string]any{
		"timestamp":   snap.Timestamp.Format(time.RFC3339Nano),
		"item_id":     snap.ItemID.String(),
		"seq":         snap.Seq,
		"image_count": len(snap.Images),
		"images":      snap.Images,
	}
	return json.Marshal(data)
}

// formatText formats the snapshot as plain text. Payloads are summarized by
// media type and size; the full data URIs would drown a terminal.
func (s *StdoutSink) formatText(snap *model.BatchSnapshot) ([]byte, error) {
	ts := snap.Timestamp.Format(time.RFC3339)
	output := fmt.Sprintf("[%s] item=%s seq=%d images=%d", ts, snap.ItemID, snap.Seq, len(snap.Images))
	for i, img := range snap.Images {
		output += fmt.Sprintf(" [%d]%s(%dB)", i, img.MediaType(), len(img))
	}
	return []byte(output), nil
}
