package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/sink"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/testutil"
)

// mockSink records published snapshots.
type mockSink struct {
	name     string
	mu       sync.Mutex
	received []*model.BatchSnapshot
	started  bool
	stopped  bool
}

func newMockSink() *mockSink {
	return &mockSink{name: "mock"}
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *mockSink) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *mockSink) Publish(ctx context.Context, snap *model.BatchSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, snap)
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func (m *mockSink) snapshots() []*model.BatchSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*model.BatchSnapshot, len(m.received))
	copy(result, m.received)
	return result
}

// waitPublishes blocks until n snapshots arrived in total.
func (m *mockSink) waitPublishes(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d publishes, got %d", n, m.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// assertNoPublish verifies no further snapshot arrives within a settle window.
func (m *mockSink) assertNoPublish(t *testing.T) {
	t.Helper()
	before := m.count()
	time.Sleep(100 * time.Millisecond)
	if got := m.count(); got != before {
		t.Fatalf("unexpected publish: count went from %d to %d", before, got)
	}
}

func testConfig(maxImages int) *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{
			MaxImages:       maxImages,
			EncodeTimeout:   5 * time.Second,
			AcceptQueueSize: 8,
		},
		Pipeline: config.PipelineConfig{
			PublishBuffer:   16,
			ShutdownTimeout: time.Second,
		},
	}
}

// startIngester runs the ingester for the duration of the test.
func startIngester(t *testing.T, cfg *config.Config, s sink.Sink, opts ...Option) *Ingester {
	t.Helper()

	ing, err := New(cfg, []sink.Sink{s}, testutil.NewTestLogger(), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ing.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return ing
}

// fakeEncode produces a recognizable payload without touching real files.
func fakeEncode(ctx context.Context, raw *model.RawFile) (model.EncodedImage, error) {
	return model.EncodedImage("data:image/test;base64," + raw.Name), nil
}

// gatedEncode blocks each named file until its gate is closed, so tests
// control encode completion order.
type gatedEncode struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedEncode(names ...string) *gatedEncode {
	g := &gatedEncode{gates: make(map[string]chan struct{}, len(names))}
	for _, name := range names {
		g.gates[name] = make(chan struct{})
	}
	return g
}

func (g *gatedEncode) release(name string) {
	g.mu.Lock()
	gate := g.gates[name]
	g.mu.Unlock()
	close(gate)
}

func (g *gatedEncode) encode(ctx context.Context, raw *model.RawFile) (model.EncodedImage, error) {
	g.mu.Lock()
	gate := g.gates[raw.Name]
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fakeEncode(ctx, raw)
}

func rawFiles(names ...string) []*model.RawFile {
	files := make([]*model.RawFile, len(names))
	for i, name := range names {
		files[i] = &model.RawFile{Name: name}
	}
	return files
}

func payloads(names ...string) []model.EncodedImage {
	out := make([]model.EncodedImage, len(names))
	for i, name := range names {
		out[i] = model.EncodedImage("data:image/test;base64," + name)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	t.Run("zero max images", func(t *testing.T) {
		_, err := New(testConfig(0), []sink.Sink{newMockSink()}, testutil.NewTestLogger())
		assert.Error(t, err)
	})

	t.Run("no sinks", func(t *testing.T) {
		_, err := New(testConfig(10), nil, testutil.NewTestLogger())
		assert.Error(t, err)
	})
}

func TestAddFiles_AppendsInSelectionOrder(t *testing.T) {
	s := newMockSink()
	gates := newGatedEncode("a.png", "b.png", "c.png")
	ing := startIngester(t, testConfig(10), s, WithEncodeFunc(gates.encode))

	resultCh := make(chan *model.Result, 1)
	go func() {
		result, err := ing.AddFiles(context.Background(), rawFiles("a.png", "b.png", "c.png"))
		require.NoError(t, err)
		resultCh <- result
	}()

	// Complete encodes in reverse selection order
	gates.release("c.png")
	gates.release("b.png")
	gates.release("a.png")

	result := <-resultCh
	assert.Equal(t, payloads("a.png", "b.png", "c.png"), result.Accepted)
	assert.Empty(t, result.Rejected)

	s.waitPublishes(t, 1)
	snaps := s.snapshots()
	assert.Equal(t, payloads("a.png", "b.png", "c.png"), snaps[0].Images)
	assert.Equal(t, uint64(1), snaps[0].Seq)
}

func TestAddFiles_CapacityClipsAndReports(t *testing.T) {
	s := newMockSink()
	ing := startIngester(t, testConfig(2), s, WithEncodeFunc(fakeEncode))

	result, err := ing.AddFiles(context.Background(), rawFiles("a.png", "b.png", "c.png", "d.png"))
	require.NoError(t, err)

	assert.Equal(t, payloads("a.png", "b.png"), result.Accepted)
	require.Len(t, result.Rejected, 2)
	assert.Equal(t, "c.png", result.Rejected[0].File)
	assert.Equal(t, model.RejectCapacity, result.Rejected[0].Reason)
	assert.Equal(t, "d.png", result.Rejected[1].File)

	s.waitPublishes(t, 1)
	assert.Len(t, ing.Images(), 2)
}

func TestAddFiles_FullBatchPublishesNothing(t *testing.T) {
	s := newMockSink()
	ing := startIngester(t, testConfig(1), s, WithEncodeFunc(fakeEncode))

	_, err := ing.AddFiles(context.Background(), rawFiles("a.png"))
	require.NoError(t, err)
	s.waitPublishes(t, 1)

	result, err := ing.AddFiles(context.Background(), rawFiles("b.png"))
	require.NoError(t, err)

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, model.RejectCapacity, result.Rejected[0].Reason)

	s.assertNoPublish(t)
	assert.Equal(t, payloads("a.png"), ing.Images())
}

func TestAddFiles_EmptyInputIsNoop(t *testing.T) {
	s := newMockSink()
	ing := startIngester(t, testConfig(5), s, WithEncodeFunc(fakeEncode))

	result, err := ing.AddFiles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	assert.Empty(t, result.Rejected)

	s.assertNoPublish(t)
}

func TestAddFiles_SinglePublishPerAccept(t *testing.T) {
	s := newMockSink()
	ing := startIngester(t, testConfig(10), s, WithEncodeFunc(fakeEncode))

	_, err := ing.AddFiles(context.Background(), rawFiles("a.png", "b.png", "c.png", "d.png"))
	require.NoError(t, err)

	s.waitPublishes(t, 1)
	s.assertNoPublish(t)
}

func TestAddFiles_DecodeFailurePublishesSubset(t *testing.T) {
	s := newMockSink()
	encode := func(ctx context.Context, raw *model.RawFile) (model.EncodedImage, error) {
		if raw.Name == "broken.png" {
			return "", errors.New("corrupt header")
		}
		return fakeEncode(ctx, raw)
	}
	ing := startIngester(t, testConfig(10), s, WithEncodeFunc(encode))

	result, err := ing.AddFiles(context.Background(), rawFiles("a.png", "broken.png", "c.png"))
	require.NoError(t, err)

	assert.Equal(t, payloads("a.png", "c.png"), result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "broken.png", result.Rejected[0].File)
	assert.Equal(t, model.RejectDecode, result.Rejected[0].Reason)
	assert.Error(t, result.Rejected[0].Err)

	s.waitPublishes(t, 1)
	assert.Equal(t, payloads("a.png", "c.png"), s.snapshots()[0].Images)
}

func TestAddFiles_EncodeTimeoutFailsSlot(t *testing.T) {
	cfg := testConfig(10)
	cfg.Ingest.EncodeTimeout = 50 * time.Millisecond

	stalled := func(ctx context.Context, raw *model.RawFile) (model.EncodedImage, error) {
		if raw.Name == "stalled.png" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return fakeEncode(ctx, raw)
	}

	s := newMockSink()
	ing := startIngester(t, cfg, s, WithEncodeFunc(stalled))

	result, err := ing.AddFiles(context.Background(), rawFiles("a.png", "stalled.png"))
	require.NoError(t, err)

	assert.Equal(t, payloads("a.png"), result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, model.RejectDecode, result.Rejected[0].Reason)

	// The batch still settles
	s.waitPublishes(t, 1)
	assert.Equal(t, payloads("a.png"), ing.Images())
}

func TestAddFiles_OverlappingAcceptsAreSerialized(t *testing.T) {
	s := newMockSink()
	gates := newGatedEncode("slow.png")
	ing := startIngester(t, testConfig(10), s, WithEncodeFunc(gates.encode))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := ing.AddFiles(context.Background(), rawFiles("slow.png"))
		assert.NoError(t, err)
	}()

	// Give the first accept time to reach the worker, then queue a second.
	time.Sleep(50 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, err := ing.AddFiles(context.Background(), rawFiles("fast.png"))
		assert.NoError(t, err)
	}()

	// Second accept must not publish while the first is still encoding.
	s.assertNoPublish(t)

	gates.release("slow.png")
	wg.Wait()

	s.waitPublishes(t, 2)
	snaps := s.snapshots()
	assert.Equal(t, payloads("slow.png"), snaps[0].Images)
	assert.Equal(t, payloads("slow.png", "fast.png"), snaps[1].Images)
	assert.Equal(t, uint64(1), snaps[0].Seq)
	assert.Equal(t, uint64(2), snaps[1].Seq)
}

// Scenario from the batch requirements: cap of 3, two accepts, completion
// order scrambled within the first, overflow dropped in the second.
func TestScenario_CapThreeTwoAccepts(t *testing.T) {
	s := newMockSink()
	gates := newGatedEncode("a.png", "b.png")
	ing := startIngester(t, testConfig(3), s, WithEncodeFunc(gates.encode))

	resultCh := make(chan *model.Result, 1)
	go func() {
		result, err := ing.AddFiles(context.Background(), rawFiles("a.png", "b.png"))
		require.NoError(t, err)
		resultCh <- result
	}()

	// b finishes before a; order must still be a, b
	gates.release("b.png")
	gates.release("a.png")
	<-resultCh

	s.waitPublishes(t, 1)
	assert.Equal(t, payloads("a.png", "b.png"), s.snapshots()[0].Images)

	result, err := ing.AddFiles(context.Background(), rawFiles("c.png", "d.png"))
	require.NoError(t, err)

	assert.Equal(t, payloads("c.png"), result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "d.png", result.Rejected[0].File)
	assert.Equal(t, model.RejectCapacity, result.Rejected[0].Reason)

	s.waitPublishes(t, 2)
	assert.Equal(t, payloads("a.png", "b.png", "c.png"), s.snapshots()[1].Images)
}

func TestRemoveAt(t *testing.T) {
	s := newMockSink()
	ing := startIngester(t, testConfig(5), s, WithEncodeFunc(fakeEncode))

	_, err := ing.AddFiles(context.Background(), rawFiles("a.png", "b.png", "c.png"))
	require.NoError(t, err)
	s.waitPublishes(t, 1)

	require.NoError(t, ing.RemoveAt(context.Background(), 0))

	s.waitPublishes(t, 2)
	assert.Equal(t, payloads("b.png", "c.png"), s.snapshots()[1].Images)
	assert.Equal(t, payloads("b.png", "c.png"), ing.Images())
}

func TestRemoveAt_OutOfRange(t *testing.T) {
	s := newMockSink()
	ing := startIngester(t, testConfig(5), s, WithEncodeFunc(fakeEncode))

	_, err := ing.AddFiles(context.Background(), rawFiles("a.png"))
	require.NoError(t, err)
	s.waitPublishes(t, 1)

	assert.ErrorIs(t, ing.RemoveAt(context.Background(), 1), ErrIndexOutOfRange)
	assert.ErrorIs(t, ing.RemoveAt(context.Background(), -1), ErrIndexOutOfRange)

	// Failed removals never publish
	s.assertNoPublish(t)
}

func TestClear(t *testing.T) {
	s := newMockSink()
	ing := startIngester(t, testConfig(5), s, WithEncodeFunc(fakeEncode))

	hookCalls := 0
	ing.OnClear(func() { hookCalls++ })

	_, err := ing.AddFiles(context.Background(), rawFiles("a.png", "b.png"))
	require.NoError(t, err)
	s.waitPublishes(t, 1)

	require.NoError(t, ing.Clear(context.Background()))

	s.waitPublishes(t, 2)
	assert.Empty(t, s.snapshots()[1].Images)
	assert.Empty(t, ing.Images())
	assert.Equal(t, 1, hookCalls)
}

func TestRun_StartsAndStopsSinks(t *testing.T) {
	s := newMockSink()
	ing, err := New(testConfig(5), []sink.Sink{s}, testutil.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ing.Run(ctx)
	}()

	// Wait for the pipeline to come up, then shut it down.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.started
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.True(t, s.stopped)
}

func TestAddRemoveSink(t *testing.T) {
	s := newMockSink()
	ing := startIngester(t, testConfig(5), s, WithEncodeFunc(fakeEncode))

	// Sinks are started once the run context exists, so this also proves
	// the ingester is up before adding another sink.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.started
	}, time.Second, 10*time.Millisecond)

	extra := newMockSink()
	extra.name = "extra"
	require.NoError(t, ing.AddSink(extra))
	assert.Equal(t, 2, ing.SinkCount())
	assert.True(t, ing.HasSink("extra"))

	_, err := ing.AddFiles(context.Background(), rawFiles("a.png"))
	require.NoError(t, err)
	extra.waitPublishes(t, 1)

	require.NoError(t, ing.RemoveSink("extra"))
	assert.False(t, ing.HasSink("extra"))
	assert.True(t, extra.stopped)

	// Removing an unknown sink is a no-op
	assert.NoError(t, ing.RemoveSink("ghost"))
}
