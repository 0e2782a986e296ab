package ingest

import (
	"context"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/sink"
)

// Single is the single-image variant of the pipeline: the batch holds at
// most one image and a new selection replaces the previous one. Used for
// item cover photos and profile avatars.
type Single struct {
	ing *Ingester
}

// NewSingle creates a single-image ingester. The configured MaxImages is
// overridden to 1; everything else behaves like the bulk variant.
func NewSingle(cfg *config.Config, sinks []sink.Sink, log logger.ILogger, opts ...Option) (*Single, error) {
	single := *cfg
	single.Ingest.MaxImages = 1

	ing, err := New(&single, sinks, log, opts...)
	if err != nil {
		return nil, err
	}
	return &Single{ing: ing}, nil
}

// Run starts the underlying pipeline and blocks until ctx is cancelled.
func (s *Single) Run(ctx context.Context) error {
	return s.ing.Run(ctx)
}

// Set replaces the current image with the encoding of raw. A previous image
// is cleared first, so callers observe a clear publish followed by the
// append publish.
func (s *Single) Set(ctx context.Context, raw *model.RawFile) (*model.Result, error) {
	if len(s.ing.Images()) > 0 {
		if err := s.ing.Clear(ctx); err != nil {
			return nil, err
		}
	}
	return s.ing.AddFiles(ctx, []*model.RawFile{raw})
}

// Image returns the current image, if any.
func (s *Single) Image() (model.EncodedImage, bool) {
	images := s.ing.Images()
	if len(images) == 0 {
		return "", false
	}
	return images[0], true
}

// Clear removes the current image.
func (s *Single) Clear(ctx context.Context) error {
	return s.ing.Clear(ctx)
}
