package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"bytes"
	"context"
	"io"
	"maps"
	"sync/atomic"

	"github.com/bathytiles/bathytiles/internal/domain"
	"github.com/bathytiles/bathytiles/internal/ports/input"
)

// mockTileService implements input.TileService for testing.
type mockTileService struct {
	data    []byte
	headers map[string]string
	source  input.TileSource
	err     error
	panic   bool
	calls   atomic.Int32
	lastKey domain.TileKey
}

func (m *mockTileService) GetTile(_ context.Context, key domain.TileKey) (*input.TileResult, error) {
	m.calls.Add(1)
	m.lastKey = key
	if m.panic {
		panic("tile service exploded")
	}
	if m.err != nil {
		return nil, m.err
	}
	return &input.TileResult{
		Key:     key,
		Body:    io.NopCloser(bytes.NewReader(m.data)),
		Headers: maps.Clone(m.headers),
		Source:  m.source,
	}, nil
}

// mockHealth implements input.HealthChecker for testing.
type mockHealth struct {
	healthy bool
	ready   bool
}

func (m *mockHealth) IsHealthy(_ context.Context) bool { return m.healthy }

func (m *mockHealth) IsReady(_ context.Context) bool { return m.ready }

func (m *mockHealth) GetHealthDetails(_ context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:        m.healthy,
		Ready:          m.ready,
		RendererSource: "test.mbtiles",
		CacheDir:       "/var/cache/bathytiles",
		Components:     map[string]string{"renderer": "ok", "cache": "ok"},
	}
}

// stubRenderer implements output.TileRenderer for end-to-end tests.
type stubRenderer struct {
	tiles map[domain.TileKey][]byte
	calls atomic.Int32
}

func (r *stubRenderer) GetTile(_ context.Context, key domain.TileKey) (*domain.Tile, error) {
	r.calls.Add(1)
	data, ok := r.tiles[key]
	if !ok {
		return nil, errTileMissing
	}
	return &domain.Tile{
		Key:  key,
		Data: data,
		Headers: map[string]string{
			"Content-Type":     domain.ContentTypeProtobuf,
			"Content-Encoding": domain.ContentEncodingGzip,
			"X-Rendered-By":    "stub",
		},
	}, nil
}

func (r *stubRenderer) Close() error { return nil }

type missingError struct{}

func (missingError) Error() string { return "Tile does not exist" }

var errTileMissing error = missingError{}
