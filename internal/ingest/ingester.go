// Package ingest implements the image batch pipeline. Accepted files are
// encoded concurrently into data URI payloads, appended to the item's batch
// in selection order, and every batch mutation is fanned out to the
// configured sinks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/encoder"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/sink"
)

// ErrIndexOutOfRange reports a removal with an invalid index. This is a
// caller bug, not a runtime condition, so it is never swallowed.
var ErrIndexOutOfRange = errors.New("image index out of range")

// EncodeFunc turns one raw file into its payload. The default is
// encoder.Encode; tests inject their own to control completion order.
type EncodeFunc func(ctx context.Context, raw *model.RawFile) (model.EncodedImage, error)

// Option configures an Ingester.
type Option func(*Ingester)

// WithEncodeFunc replaces the default encoder.
func WithEncodeFunc(f EncodeFunc) Option {
	return func(ing *Ingester) {
		ing.encode = f
	}
}

// WithItemID sets the wardrobe item the batch belongs to.
func WithItemID(id uuid.UUID) Option {
	return func(ing *Ingester) {
		ing.itemID = id
	}
}

// acceptJob is one queued accept call. Accepts are consumed by a single
// worker so two overlapping calls can never race to publish.
type acceptJob struct {
	files []*model.RawFile
	reply chan acceptReply
}

type acceptReply struct {
	result *model.Result
	err    error
}

// Ingester owns the ordered batch of encoded images for one wardrobe item.
// All mutations publish exactly one snapshot to every sink.
type Ingester struct {
	cfg    *config.Config
	logger logger.ILogger
	encode EncodeFunc
	itemID uuid.UUID

	// mu guards images and seq. The batch is mutated only here.
	mu     sync.Mutex
	images []model.EncodedImage
	seq    uint64

	sinkMu sync.RWMutex
	sinks  map[string]sink.Sink

	hookMu     sync.Mutex
	clearHooks []func()

	jobs   chan acceptJob
	fanout chan *model.BatchSnapshot

	// runCtx is the main run context
	runCtx    context.Context
	runCancel context.CancelFunc
}

// New creates an ingester from configuration with the given sinks.
func New(cfg *config.Config, sinks []sink.Sink, log logger.ILogger, opts ...Option) (*Ingester, error) {
	if cfg.Ingest.MaxImages <= 0 {
		return nil, fmt.Errorf("maximages must be positive, got %d", cfg.Ingest.MaxImages)
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no sinks configured")
	}

	ing := &Ingester{
		cfg:    cfg,
		logger: log.SubLogger("Ingester"),
		encode: encoder.Encode,
		itemID: uuid.New(),
		sinks:  make(map[string]sink.Sink, len(sinks)),
		jobs:   make(chan acceptJob, cfg.Ingest.AcceptQueueSize),
		fanout: make(chan *model.BatchSnapshot, cfg.Pipeline.PublishBuffer),
	}

	for _, s := range sinks {
		ing.sinks[s.Name()] = s
	}

	for _, opt := range opts {
		opt(ing)
	}

	return ing, nil
}

// ItemID returns the wardrobe item this batch belongs to.
func (ing *Ingester) ItemID() uuid.UUID {
	return ing.itemID
}

// OnClear registers a hook invoked whenever the batch is cleared. The watch
// source uses this to forget files it already handed in, so a cleared item
// can be re-imported.
func (ing *Ingester) OnClear(hook func()) {
	ing.hookMu.Lock()
	defer ing.hookMu.Unlock()
	ing.clearHooks = append(ing.clearHooks, hook)
}

// Run starts the accept worker and the publish fanout, and blocks until the
// context is cancelled. AddFiles, RemoveAt, and Clear require a running
// ingester.
func (ing *Ingester) Run(ctx context.Context) error {
	ing.runCtx, ing.runCancel = context.WithCancel(ctx)
	defer ing.runCancel()

	// Start all sinks
	ing.sinkMu.RLock()
	for name, s := range ing.sinks {
		if err := s.Start(ing.runCtx); err != nil {
			ing.sinkMu.RUnlock()
			return fmt.Errorf("starting sink %s: %w", name, err)
		}
		ing.logger.Debugf("started sink: %s", name)
	}
	ing.sinkMu.RUnlock()

	g, gCtx := errgroup.WithContext(ing.runCtx)

	g.Go(func() error {
		return ing.runAccepts(gCtx)
	})

	g.Go(func() error {
		return ing.runFanout(gCtx)
	})

	err := g.Wait()

	// Graceful shutdown
	ing.shutdown()

	return err
}

// shutdown gracefully stops all sinks.
func (ing *Ingester) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ing.cfg.Pipeline.ShutdownTimeout)
	defer cancel()

	ing.sinkMu.RLock()
	defer ing.sinkMu.RUnlock()

	for name, s := range ing.sinks {
		if stopErr := s.Stop(shutdownCtx); stopErr != nil {
			ing.logger.Warningf("sink stop error: name=%s, error=%v", name, stopErr)
		}
	}
	ing.logger.Debug("all sinks stopped")
}

// AddFiles proposes an ordered group of files for the batch. Files beyond
// the remaining capacity are rejected, the rest are encoded concurrently
// and appended in selection order once every encode settles. Exactly one
// snapshot is published per call that accepts at least one file.
//
// Calls are serialized through a single-consumer queue; a second AddFiles
// issued before the first settles waits its turn.
func (ing *Ingester) AddFiles(ctx context.Context, files []*model.RawFile) (*model.Result, error) {
	if len(files) == 0 {
		return &model.Result{}, nil
	}

	job := acceptJob{files: files, reply: make(chan acceptReply, 1)}

	select {
	case ing.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-job.reply:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runAccepts consumes queued accept jobs one at a time.
func (ing *Ingester) runAccepts(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// Fail queued jobs so their callers unblock
			for {
				select {
				case job := <-ing.jobs:
					job.reply <- acceptReply{err: ctx.Err()}
				default:
					return ctx.Err()
				}
			}
		case job := <-ing.jobs:
			result, err := ing.processAccept(ctx, job.files)
			job.reply <- acceptReply{result: result, err: err}
		}
	}
}

// processAccept runs one accept call: clip to capacity, scatter encodes,
// gather in selection order, commit, publish.
func (ing *Ingester) processAccept(ctx context.Context, files []*model.RawFile) (*model.Result, error) {
	result := &model.Result{}

	// Capacity is computed against the batch as it stands when this job is
	// dequeued. Between here and commit the batch can only shrink (RemoveAt
	// and Clear may run concurrently; other accepts cannot), so the cap
	// still holds at commit time.
	ing.mu.Lock()
	remaining := ing.cfg.Ingest.MaxImages - len(ing.images)
	ing.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}

	accepted := len(files)
	if accepted > remaining {
		accepted = remaining
	}

	for _, f := range files[accepted:] {
		ing.logger.Debugf("rejecting file over capacity: name=%s", f.Name)
		result.Rejected = append(result.Rejected, model.Rejection{
			File:   f.Name,
			Reason: model.RejectCapacity,
		})
	}

	if accepted == 0 {
		return result, nil
	}

	// Scatter: one goroutine per accepted file. Each writes only its own
	// slot, so the slice needs no lock; final order is selection order no
	// matter which encode finishes first.
	type slot struct {
		img model.EncodedImage
		err error
	}
	slots := make([]slot, accepted)

	var wg sync.WaitGroup
	for i := 0; i < accepted; i++ {
		wg.Add(1)
		go func(i int, raw *model.RawFile) {
			defer wg.Done()
			encCtx, cancel := context.WithTimeout(ctx, ing.cfg.Ingest.EncodeTimeout)
			defer cancel()
			slots[i].img, slots[i].err = ing.encode(encCtx, raw)
		}(i, files[i])
	}
	wg.Wait()

	// Gather in selection order; a failed slot rejects that file but does
	// not sink the rest of the group.
	appended := make([]model.EncodedImage, 0, accepted)
	for i := 0; i < accepted; i++ {
		if slots[i].err != nil {
			ing.logger.Warningf("encode failed: name=%s, error=%v", files[i].Name, slots[i].err)
			result.Rejected = append(result.Rejected, model.Rejection{
				File:   files[i].Name,
				Reason: model.RejectDecode,
				Err:    slots[i].err,
			})
			continue
		}
		appended = append(appended, slots[i].img)
	}
	result.Accepted = appended

	ing.mu.Lock()
	ing.images = append(ing.images, appended...)
	snap := ing.snapshotLocked()
	ing.mu.Unlock()

	ing.logger.Debugf("batch appended: item=%s accepted=%d rejected=%d total=%d",
		ing.itemID, len(appended), len(result.Rejected), len(snap.Images))

	if err := ing.publish(ctx, snap); err != nil {
		return result, err
	}
	return result, nil
}

// RemoveAt removes the image at index, preserving the order of the rest,
// and publishes the resulting batch. An out-of-range index is an error.
func (ing *Ingester) RemoveAt(ctx context.Context, index int) error {
	ing.mu.Lock()
	if index < 0 || index >= len(ing.images) {
		length := len(ing.images)
		ing.mu.Unlock()
		return fmt.Errorf("%w: index %d, batch length %d", ErrIndexOutOfRange, index, length)
	}
	ing.images = append(ing.images[:index], ing.images[index+1:]...)
	snap := ing.snapshotLocked()
	ing.mu.Unlock()

	ing.logger.Debugf("image removed: item=%s index=%d total=%d", ing.itemID, index, len(snap.Images))
	return ing.publish(ctx, snap)
}

// Clear empties the batch, runs the registered clear hooks, and publishes
// the empty batch.
func (ing *Ingester) Clear(ctx context.Context) error {
	ing.mu.Lock()
	ing.images = ing.images[:0]
	snap := ing.snapshotLocked()
	ing.mu.Unlock()

	ing.hookMu.Lock()
	hooks := make([]func(), len(ing.clearHooks))
	copy(hooks, ing.clearHooks)
	ing.hookMu.Unlock()

	for _, hook := range hooks {
		hook()
	}

	ing.logger.Debugf("batch cleared: item=%s", ing.itemID)
	return ing.publish(ctx, snap)
}

// Images returns a copy of the current batch.
func (ing *Ingester) Images() []model.EncodedImage {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	out := make([]model.EncodedImage, len(ing.images))
	copy(out, ing.images)
	return out
}

// snapshotLocked bumps the mutation counter and copies the batch.
// Caller must hold mu.
func (ing *Ingester) snapshotLocked() *model.BatchSnapshot {
	ing.seq++
	return model.NewBatchSnapshot(ing.itemID, ing.seq, ing.images)
}

// publish hands a snapshot to the fanout goroutine. Sinks are never awaited
// by the mutation path.
func (ing *Ingester) publish(ctx context.Context, snap *model.BatchSnapshot) error {
	select {
	case ing.fanout <- snap:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runFanout distributes snapshots to all sinks.
func (ing *Ingester) runFanout(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// Drain remaining snapshots
			for {
				select {
				case snap := <-ing.fanout:
					ing.publishToAll(ctx, snap)
				default:
					return ctx.Err()
				}
			}
		case snap, ok := <-ing.fanout:
			if !ok {
				return nil
			}
			ing.publishToAll(ctx, snap)
		}
	}
}

// publishToAll sends a snapshot to all enabled sinks.
func (ing *Ingester) publishToAll(ctx context.Context, snap *model.BatchSnapshot) {
	ing.sinkMu.RLock()
	sinks := make([]sink.Sink, 0, len(ing.sinks))
	for _, s := range ing.sinks {
		sinks = append(sinks, s)
	}
	ing.sinkMu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sinks {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Publish(ctx, snap.Clone()); err != nil {
				ing.logger.Debugf("publish error: sink=%s, error=%v", s.Name(), err)
			}
		}()
	}
	wg.Wait()
}

// AddSink starts and registers a sink at runtime.
func (ing *Ingester) AddSink(s sink.Sink) error {
	if err := s.Start(ing.runCtx); err != nil {
		return fmt.Errorf("starting sink %s: %w", s.Name(), err)
	}

	ing.sinkMu.Lock()
	ing.sinks[s.Name()] = s
	ing.sinkMu.Unlock()

	ing.logger.Infof("sink added: %s", s.Name())
	return nil
}

// RemoveSink stops and removes a sink.
func (ing *Ingester) RemoveSink(name string) error {
	ing.sinkMu.Lock()
	s, ok := ing.sinks[name]
	if ok {
		delete(ing.sinks, name)
	}
	ing.sinkMu.Unlock()

	if !ok {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ing.cfg.Pipeline.ShutdownTimeout)
	defer cancel()

	if err := s.Stop(shutdownCtx); err != nil {
		ing.logger.Warningf("sink stop error: name=%s, error=%v", name, err)
	}

	ing.logger.Infof("sink removed: %s", name)
	return nil
}

// SinkCount returns the number of registered sinks.
func (ing *Ingester) SinkCount() int {
	ing.sinkMu.RLock()
	defer ing.sinkMu.RUnlock()
	return len(ing.sinks)
}

// HasSink reports whether a sink with the given name is registered.
func (ing *Ingester) HasSink(name string) bool {
	ing.sinkMu.RLock()
	defer ing.sinkMu.RUnlock()
	_, ok := ing.sinks[name]
	return ok
}
