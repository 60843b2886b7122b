// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"io"

	"github.com/bathytiles/bathytiles/internal/domain"
)

// TileSource tells where a served tile came from.
type TileSource string

// Tile sources.
const (
	TileSourceCache  TileSource = "cache"
	TileSourceRender TileSource = "render"
)

// TileResult is a tile ready to be written to a client.
type TileResult struct {
	Key     domain.TileKey
	Body    io.ReadCloser
	Headers map[string]string
	Source  TileSource
}

// TileService defines the primary port for serving tiles.
type TileService interface {
	// GetTile returns the tile for key. The caller must close Body.
	GetTile(ctx context.Context, key domain.TileKey) (*TileResult, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy        bool              // Overall health status
	Ready          bool              // Ready to accept requests
	RendererSource string            // Path or URL of the tile source
	CacheDir       string            // Disk cache root, empty when disabled
	PendingWrites  int               // Cache writes waiting in the queue
	Components     map[string]string // Component statuses
}
