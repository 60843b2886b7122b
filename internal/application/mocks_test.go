package application

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bathytiles/bathytiles/internal/domain"
)

// mockRenderer implements output.TileRenderer for testing.
type mockRenderer struct {
	data    []byte
	headers map[string]string
	fail    map[domain.TileKey]error
	delay   time.Duration
	calls   atomic.Int64
	// block, if set, is waited on before rendering.
	block chan struct{}
}

func (m *mockRenderer) GetTile(ctx context.Context, key domain.TileKey) (*domain.Tile, error) {
	m.calls.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := m.fail[key]; ok {
		return nil, err
	}
	data := m.data
	if data == nil {
		data = []byte(key.CacheKey())
	}
	headers := m.headers
	if headers == nil {
		headers = map[string]string{"Content-Type": domain.ContentTypeProtobuf}
	}
	return &domain.Tile{Key: key, Data: data, Headers: headers}, nil
}

func (m *mockRenderer) Close() error { return nil }

// memoryCache implements output.TileCache for testing.
type memoryCache struct {
	mu       sync.Mutex
	tiles    map[domain.TileKey][]byte
	openErr  error
	writeErr error
	writes   atomic.Int64
	// written receives every successfully written key when set.
	written chan domain.TileKey
}

func newMemoryCache() *memoryCache {
	return &memoryCache{tiles: make(map[domain.TileKey][]byte)}
}

func (m *memoryCache) Exists(_ context.Context, key domain.TileKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tiles[key]
	return ok
}

func (m *memoryCache) Open(_ context.Context, key domain.TileKey) (io.ReadCloser, error) {
	if m.openErr != nil {
		return nil, &domain.CacheError{Op: "read", Key: key, Err: m.openErr}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.tiles[key]
	if !ok {
		return nil, &domain.CacheError{Op: "read", Key: key, Err: os.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryCache) Write(_ context.Context, key domain.TileKey, data []byte) error {
	m.writes.Add(1)
	if m.writeErr != nil {
		return &domain.CacheError{Op: "write", Key: key, Err: m.writeErr}
	}
	m.mu.Lock()
	m.tiles[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	if m.written != nil {
		m.written <- key
	}
	return nil
}

func (m *memoryCache) put(key domain.TileKey, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[key] = data
}

// mockUploader implements output.Uploader for testing.
type mockUploader struct {
	mu        sync.Mutex
	uploaded  map[string][]byte
	paths     []string
	metas     []domain.ObjectMetadata
	fail      map[string]int // object key -> number of attempts that fail
	attempts  map[string]int
	finalized atomic.Int64
	// completedAtFinalize is the number of uploads seen when Finalize ran.
	completedAtFinalize int
	finalizeErr         error
	// inFlight tracking
	active    atomic.Int64
	maxActive atomic.Int64
	delay     time.Duration
}

func newMockUploader() *mockUploader {
	return &mockUploader{
		uploaded: make(map[string][]byte),
		fail:     make(map[string]int),
		attempts: make(map[string]int),
	}
}

var errUploadRefused = errors.New("upload refused")

func (m *mockUploader) Upload(ctx context.Context, localPath, key string, meta domain.ObjectMetadata) error {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts[key]++
	m.paths = append(m.paths, localPath)
	if m.fail[key] >= m.attempts[key] {
		return errUploadRefused
	}
	m.uploaded[key] = data
	m.metas = append(m.metas, meta)
	return nil
}

func (m *mockUploader) Finalize(_ context.Context) error {
	m.mu.Lock()
	m.completedAtFinalize = len(m.paths)
	m.mu.Unlock()
	m.finalized.Add(1)
	return m.finalizeErr
}

// keySlice is a TileKeySource over a fixed list of keys.
type keySlice []domain.TileKey

func (k keySlice) All() iter.Seq[domain.TileKey] {
	return func(yield func(domain.TileKey) bool) {
		for _, key := range k {
			if !yield(key) {
				return
			}
		}
	}
}

func (k keySlice) Count() int64 { return int64(len(k)) }

// recordingMetrics implements output.MetricsCollector and counts calls.
type recordingMetrics struct {
	mu          sync.Mutex
	requests    map[string]int
	cacheWrites map[string]int
	tasks       map[string]int
	renders     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		requests:    make(map[string]int),
		cacheWrites: make(map[string]int),
		tasks:       make(map[string]int),
	}
}

func (m *recordingMetrics) IncTileRequests(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[source]++
}

func (m *recordingMetrics) ObserveRenderDuration(_ time.Duration, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renders++
}

func (m *recordingMetrics) IncCacheWrites(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheWrites[outcome]++
}

func (m *recordingMetrics) IncStorageOperations(_ string, _ bool) {}

func (m *recordingMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}

func (m *recordingMetrics) IncPipelineTasks(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[state]++
}

func (m *recordingMetrics) SetPipelineInFlight(_ int) {}

func (m *recordingMetrics) cacheWriteCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheWrites[outcome]
}
