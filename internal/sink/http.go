package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
)

// HTTPSink pushes batch snapshots to the wardrobe backend API. The backend
// stores the image list per item as a whole, so when snapshots are buffered
// only the latest one per item survives until the next flush.
type HTTPSink struct {
	cfg    config.HTTPSinkConfig
	client HTTPDoer

	mu      sync.Mutex
	pending map[uuid.UUID]*model.BatchSnapshot

	done chan struct{}
}

// itemPayload is the request body replacing one item's image list.
type itemPayload struct {
	ItemID    string               `json:"item_id"`
	Seq       uint64               `json:"seq"`
	Timestamp time.Time            `json:"timestamp"`
	Images    []model.EncodedImage `json:"images"`
}

// HTTPOption configures an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithHTTPClient sets a custom HTTP client for testing.
func WithHTTPClient(client HTTPDoer) HTTPOption {
	return func(h *HTTPSink) {
		h.client = client
	}
}

// NewHTTPSink creates a new backend API sink.
func NewHTTPSink(cfg config.HTTPSinkConfig, opts ...HTTPOption) *HTTPSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	h := &HTTPSink{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		pending: make(map[uuid.UUID]*model.BatchSnapshot),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the sink identifier.
func (h *HTTPSink) Name() string {
	return "http"
}

// Start begins the background flush goroutine when a flush interval is
// configured. Without one, every snapshot is pushed as it arrives.
func (h *HTTPSink) Start(ctx context.Context) error {
	if h.cfg.FlushInterval > 0 {
		go h.flushLoop(ctx)
	}
	return nil
}

// Stop pushes any buffered snapshots and shuts down.
func (h *HTTPSink) Stop(ctx context.Context) error {
	close(h.done)
	return h.flush(ctx)
}

// flushLoop periodically pushes buffered snapshots.
func (h *HTTPSink) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			_ = h.flush(ctx)
		}
	}
}

// Publish records a snapshot for the next flush, or pushes it straight away
// when no flush interval is configured.
func (h *HTTPSink) Publish(ctx context.Context, snap *model.BatchSnapshot) error {
	if h.cfg.FlushInterval <= 0 {
		return h.push(ctx, snap)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// A newer snapshot for the same item supersedes the buffered one.
	if prev, ok := h.pending[snap.ItemID]; ok && prev.Seq > snap.Seq {
		return nil
	}
	h.pending[snap.ItemID] = snap
	return nil
}

// flush pushes the latest buffered snapshot of every item.
func (h *HTTPSink) flush(ctx context.Context) error {
	h.mu.Lock()
	batch := h.pending
	h.pending = make(map[uuid.UUID]*model.BatchSnapshot)
	h.mu.Unlock()

	for _, snap := range batch {
		if err := h.push(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// push PUTs one item's full image list to the backend.
func (h *HTTPSink) push(ctx context.Context, snap *model.BatchSnapshot) error {
	payload := itemPayload{
		ItemID:    snap.ItemID.String(),
		Seq:       snap.Seq,
		Timestamp: snap.Timestamp,
		Images:    snap.Images,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/items/%s/images", h.cfg.URL, snap.ItemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if h.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.AuthToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("backend push failed with status: %d", resp.StatusCode)
	}
	return nil
}
