package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
)

// IndexerFactory creates a new BulkIndexer.
type IndexerFactory func(cfg config.ElasticsearchSinkConfig) (esutil.BulkIndexer, error)

// ElasticsearchOption configures the ElasticsearchSink.
type ElasticsearchOption func(*ElasticsearchSink)

// WithIndexerFactory sets a custom factory for creating the BulkIndexer.
// This is primarily used for testing to inject a mock indexer.
func WithIndexerFactory(f IndexerFactory) ElasticsearchOption {
	return func(s *ElasticsearchSink) {
		s.factory = f
	}
}

// ElasticsearchSink indexes batch snapshots so the app's search and
// inspiration surfaces can query wardrobe items by their current images.
// Payload bodies are not indexed, only their shape (count, types, sizes);
// the data URIs themselves stay in the manifest and the app state.
type ElasticsearchSink struct {
	cfg     config.ElasticsearchSinkConfig
	factory IndexerFactory
	indexer esutil.BulkIndexer
	mu      sync.Mutex
}

// NewElasticsearchSink creates a new Elasticsearch sink.
func NewElasticsearchSink(cfg config.ElasticsearchSinkConfig, opts ...ElasticsearchOption) *ElasticsearchSink {
	s := &ElasticsearchSink{
		cfg: cfg,
	}

	// Default factory creates real client and indexer
	s.factory = func(cfg config.ElasticsearchSinkConfig) (esutil.BulkIndexer, error) {
		esCfg := elasticsearch.Config{
			Addresses: cfg.Addresses,
		}

		if cfg.Username != "" {
			esCfg.Username = cfg.Username
			esCfg.Password = cfg.Password
		}

		client, err := elasticsearch.NewClient(esCfg)
		if err != nil {
			return nil, fmt.Errorf("creating elasticsearch client: %w", err)
		}

		return esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
			Client:        client,
			Index:         cfg.Index,
			NumWorkers:    2,
			FlushBytes:    5e+6, // 5MB
			FlushInterval: cfg.FlushInterval,
		})
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the sink identifier.
func (s *ElasticsearchSink) Name() string {
	return "elasticsearch"
}

// Start initializes the Elasticsearch client and bulk indexer.
func (s *ElasticsearchSink) Start(ctx context.Context) error {
	indexer, err := s.factory(s.cfg)
	if err != nil {
		return err
	}
	s.indexer = indexer
	return nil
}

// Stop flushes and closes the bulk indexer.
func (s *ElasticsearchSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexer != nil {
		return s.indexer.Close(ctx)
	}
	return nil
}

// Publish adds a snapshot document to the bulk indexer. Successive
// snapshots of one item overwrite each other, so the index always holds
// the latest batch state per item.
func (s *ElasticsearchSink) Publish(ctx context.Context, snap *model.BatchSnapshot) error {
	type imageMeta struct {
		Position  int    `json:"position"`
		MediaType string `json:"media_type"`
		SizeBytes int    `json:"size_bytes"`
	}

	images := make([]imageMeta, len(snap.Images))
	for i, img := range snap.Images {
		images[i] = imageMeta{
			Position:  i,
			MediaType: img.MediaType(),
			SizeBytes: len(img),
		}
	}

	doc := map[string]any{
		"@timestamp":  snap.Timestamp.Format(time.RFC3339Nano),
		"item_id":     snap.ItemID.String(),
		"seq":         snap.Seq,
		"image_count": len(snap.Images),
		"images":      images,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	return s.indexer.Add(ctx, esutil.BulkIndexerItem{
		Action:     "index",
		DocumentID: snap.ItemID.String(),
		Body:       bytes.NewReader(data),
		OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
			// Log failure but don't block
		},
	})
}
