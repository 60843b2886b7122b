package output

import (
	"context"
	"io"

	"github.com/bathytiles/bathytiles/internal/domain"
)

// TileCache defines the secondary port for the local tile cache.
type TileCache interface {
	// Exists reports whether a tile is cached. Lookup failures count as a miss.
	Exists(ctx context.Context, key domain.TileKey) bool

	// Open opens a cached tile for streaming.
	Open(ctx context.Context, key domain.TileKey) (io.ReadCloser, error)

	// Write stores the tile bytes, replacing any previous entry.
	Write(ctx context.Context, key domain.TileKey, data []byte) error
}
