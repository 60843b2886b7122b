// Package application contains the application services.
package application

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bathytiles/bathytiles/internal/domain"
	"github.com/bathytiles/bathytiles/internal/ports/input"
	"github.com/bathytiles/bathytiles/internal/ports/output"
)

var _ input.TileService = (*CacheAsideTileService)(nil)

// Cache write outcomes reported to metrics.
const (
	cacheWriteSuccess = "success"
	cacheWriteError   = "error"
	cacheWriteDropped = "dropped"
)

// TileServiceConfig holds configuration for the tile service.
type TileServiceConfig struct {
	// RenderTimeout bounds a single renderer call. Zero means no timeout.
	RenderTimeout time.Duration
	// Dedupe shares one render between concurrent misses of the same tile.
	Dedupe bool
	// WriteQueue is the capacity of the background cache write queue.
	WriteQueue int
	// Writers is the number of goroutines draining the write queue.
	Writers int
}

type cacheWrite struct {
	key  domain.TileKey
	data []byte
}

// CacheAsideTileService serves tiles from the disk cache and falls back to
// the renderer on a miss. Rendered tiles are written to the cache in the
// background; a write never delays or fails the response.
type CacheAsideTileService struct {
	cache    output.TileCache
	renderer output.TileRenderer
	metrics  output.MetricsCollector
	logger   *slog.Logger
	cfg      TileServiceConfig

	group  singleflight.Group
	writes chan cacheWrite
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewCacheAsideTileService creates the tile service and starts its cache
// writers. A nil cache disables caching. Close must be called to stop the
// writers.
func NewCacheAsideTileService(
	cache output.TileCache,
	renderer output.TileRenderer,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg TileServiceConfig,
) *CacheAsideTileService {
	if cfg.WriteQueue <= 0 {
		cfg.WriteQueue = 256
	}
	if cfg.Writers <= 0 {
		cfg.Writers = 1
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}

	s := &CacheAsideTileService{
		cache:    cache,
		renderer: renderer,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		writes:   make(chan cacheWrite, cfg.WriteQueue),
	}

	for i := 0; i < cfg.Writers; i++ {
		s.wg.Add(1)
		go s.writeLoop()
	}

	return s
}

// GetTile returns the cached tile for key, or renders it on a miss.
// Render failures are returned as *domain.RenderError; cache read failures
// match domain.ErrCacheRead.
func (s *CacheAsideTileService) GetTile(ctx context.Context, key domain.TileKey) (*input.TileResult, error) {
	if s.cache != nil && s.cache.Exists(ctx, key) {
		body, err := s.cache.Open(ctx, key)
		if err != nil {
			s.metrics.IncTileRequests(output.SourceError)
			s.logger.Error("cache read failed",
				"z", key.Z, "x", key.X, "y", key.Y,
				"error", err,
			)
			return nil, err
		}

		s.metrics.IncTileRequests(output.SourceCache)
		return &input.TileResult{
			Key:     key,
			Body:    body,
			Headers: cachedHeaders(),
			Source:  input.TileSourceCache,
		}, nil
	}

	tile, err := s.render(ctx, key)
	if err != nil {
		s.metrics.IncTileRequests(output.SourceError)
		return nil, &domain.RenderError{Key: key, Err: err}
	}

	s.metrics.IncTileRequests(output.SourceRender)
	return &input.TileResult{
		Key:     key,
		Body:    io.NopCloser(bytes.NewReader(tile.Data)),
		Headers: maps.Clone(tile.Headers),
		Source:  input.TileSourceRender,
	}, nil
}

// render calls the renderer, sharing the call between concurrent requests
// for the same key when deduplication is enabled. Each successful render
// queues exactly one cache write.
func (s *CacheAsideTileService) render(ctx context.Context, key domain.TileKey) (*domain.Tile, error) {
	if !s.cfg.Dedupe {
		return s.renderAndStore(ctx, key)
	}

	// The shared render must not fail because the first caller went away.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.CacheKey(), func() (any, error) {
		return s.renderAndStore(shared, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Tile), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *CacheAsideTileService) renderAndStore(ctx context.Context, key domain.TileKey) (*domain.Tile, error) {
	if s.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RenderTimeout)
		defer cancel()
	}

	start := time.Now()
	tile, err := s.renderer.GetTile(ctx, key)
	s.metrics.ObserveRenderDuration(time.Since(start), err == nil)
	if err != nil {
		s.logger.Warn("tile render failed",
			"z", key.Z, "x", key.X, "y", key.Y,
			"error", err,
		)
		return nil, err
	}

	s.enqueueWrite(key, tile.Data)
	return tile, nil
}

// enqueueWrite hands the tile to the background writers without blocking.
func (s *CacheAsideTileService) enqueueWrite(key domain.TileKey, data []byte) {
	if s.cache == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.metrics.IncCacheWrites(cacheWriteDropped)
		return
	}

	select {
	case s.writes <- cacheWrite{key: key, data: data}:
	default:
		s.metrics.IncCacheWrites(cacheWriteDropped)
		s.logger.Warn("cache write queue full, dropping write",
			"z", key.Z, "x", key.X, "y", key.Y,
		)
	}
}

func (s *CacheAsideTileService) writeLoop() {
	defer s.wg.Done()

	for w := range s.writes {
		if err := s.cache.Write(context.Background(), w.key, w.data); err != nil {
			s.metrics.IncCacheWrites(cacheWriteError)
			s.logger.Error("cache write failed",
				"z", w.key.Z, "x", w.key.X, "y", w.key.Y,
				"error", err,
			)
			continue
		}
		s.metrics.IncCacheWrites(cacheWriteSuccess)
		s.logger.Debug("tile cached", "z", w.key.Z, "x", w.key.X, "y", w.key.Y)
	}
}

// PendingWrites returns the number of queued cache writes.
func (s *CacheAsideTileService) PendingWrites() int {
	return len(s.writes)
}

// Close stops accepting cache writes and waits for queued writes to finish
// or ctx to expire.
func (s *CacheAsideTileService) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.writes)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cachedHeaders are the headers for tiles served from the disk cache.
func cachedHeaders() map[string]string {
	return map[string]string{
		"Content-Type":     domain.ContentTypeProtobuf,
		"Content-Encoding": domain.ContentEncodingGzip,
	}
}
