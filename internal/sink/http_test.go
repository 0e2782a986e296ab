package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/wardrobe-ingest/internal/config"
	"github.com/GabrielNunesIT/wardrobe-ingest/internal/model"
)

// mockHTTPClient implements HTTPDoer for testing.
type mockHTTPClient struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	status   int
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	body, _ := io.ReadAll(req.Body)
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	status := m.status
	if status == 0 {
		status = http.StatusNoContent
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func (m *mockHTTPClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func TestHTTPSink_PushesImmediately(t *testing.T) {
	mock := &mockHTTPClient{}
	s := NewHTTPSink(config.HTTPSinkConfig{
		URL:       "http://backend.local",
		AuthToken: "secret",
	}, WithHTTPClient(mock))

	require.NoError(t, s.Start(context.Background()))

	snap := testSnapshot(3)
	require.NoError(t, s.Publish(context.Background(), snap))

	require.Equal(t, 1, mock.calls())
	req := mock.requests[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/api/items/"+snap.ItemID.String()+"/images", req.URL.Path)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))

	var payload itemPayload
	require.NoError(t, json.Unmarshal(mock.bodies[0], &payload))
	assert.Equal(t, snap.ItemID.String(), payload.ItemID)
	assert.Equal(t, uint64(3), payload.Seq)
	assert.Equal(t, snap.Images, payload.Images)
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	mock := &mockHTTPClient{status: http.StatusInternalServerError}
	s := NewHTTPSink(config.HTTPSinkConfig{URL: "http://backend.local"}, WithHTTPClient(mock))

	err := s.Publish(context.Background(), testSnapshot(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPSink_BuffersUntilFlush(t *testing.T) {
	mock := &mockHTTPClient{}
	s := NewHTTPSink(config.HTTPSinkConfig{
		URL:           "http://backend.local",
		FlushInterval: time.Hour,
	}, WithHTTPClient(mock))

	require.NoError(t, s.Start(context.Background()))

	itemID := uuid.New()
	first := model.NewBatchSnapshot(itemID, 1, []model.EncodedImage{"data:image/png;base64,aaa"})
	second := model.NewBatchSnapshot(itemID, 2, []model.EncodedImage{
		"data:image/png;base64,aaa",
		"data:image/png;base64,bbb",
	})

	require.NoError(t, s.Publish(context.Background(), first))
	require.NoError(t, s.Publish(context.Background(), second))
	assert.Equal(t, 0, mock.calls())

	// Stop flushes, and only the latest snapshot per item goes out
	require.NoError(t, s.Stop(context.Background()))

	require.Equal(t, 1, mock.calls())
	var payload itemPayload
	require.NoError(t, json.Unmarshal(mock.bodies[0], &payload))
	assert.Equal(t, uint64(2), payload.Seq)
	assert.Len(t, payload.Images, 2)
}

func TestHTTPSink_StaleSnapshotIsDropped(t *testing.T) {
	mock := &mockHTTPClient{}
	s := NewHTTPSink(config.HTTPSinkConfig{
		URL:           "http://backend.local",
		FlushInterval: time.Hour,
	}, WithHTTPClient(mock))

	itemID := uuid.New()
	newer := model.NewBatchSnapshot(itemID, 5, []model.EncodedImage{"data:image/png;base64,new"})
	older := model.NewBatchSnapshot(itemID, 4, []model.EncodedImage{"data:image/png;base64,old"})

	require.NoError(t, s.Publish(context.Background(), newer))
	require.NoError(t, s.Publish(context.Background(), older))
	require.NoError(t, s.Stop(context.Background()))

	require.Equal(t, 1, mock.calls())
	var payload itemPayload
	require.NoError(t, json.Unmarshal(mock.bodies[0], &payload))
	assert.Equal(t, uint64(5), payload.Seq)
}
