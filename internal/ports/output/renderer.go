package output

import (
	"context"

	"github.com/bathytiles/bathytiles/internal/domain"
)

// TileRenderer defines the secondary port for the external tile renderer.
// Implementations must be safe for concurrent use.
type TileRenderer interface {
	// GetTile renders the tile for key. Headers in the returned tile are passed
	// verbatim to HTTP clients.
	GetTile(ctx context.Context, key domain.TileKey) (*domain.Tile, error)

	// Close releases the renderer's resources.
	Close() error
}

// ReloadableRenderer is a TileRenderer whose source can be reopened in place.
type ReloadableRenderer interface {
	TileRenderer

	// Reload reopens the underlying source.
	Reload(ctx context.Context) error

	// Source returns the path or URL the renderer reads from.
	Source() string
}
