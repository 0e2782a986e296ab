// Package sink defines the interface and implementations for batch destinations.
package sink

import (
	"context"
	"net/http"

	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
)

// Sink is the contract through which batch results leave the pipeline.
// Each sink receives the full ordered batch after every mutation.
type Sink interface {
	// Start initializes the sink (connections, writers, etc.).
	// Called once before Publish is called.
	Start(ctx context.Context) error

	// Publish delivers a batch snapshot to the destination.
	// Must be safe to call concurrently and may be called once per
	// mutation with the same item's successive snapshots.
	Publish(ctx context.Context, snap *model.BatchSnapshot) error

	// Stop gracefully shuts down the sink.
	// Should flush any buffered data before returning.
	Stop(ctx context.Context) error

	// Name returns a unique identifier for this sink.
	Name() string
}

// HTTPDoer abstracts HTTP client operations for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Ensure http.Client implements HTTPDoer.
var _ HTTPDoer = (*http.Client)(nil)
