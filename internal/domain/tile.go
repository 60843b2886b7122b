// Package domain contains the core business entities and value objects.
package domain

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileExtension is the file extension used for cached and staged tiles.
const TileExtension = ".pbf"

// Content headers for vector tiles as they are stored on disk.
const (
	ContentTypeProtobuf = "application/x-protobuf"
	ContentEncodingGzip = "gzip"
)

// MaxZoom is the deepest zoom level a TileKey can address.
// 2^MaxZoom must fit into the x/y range of maptile.Tile.
const MaxZoom = 30

// TileKey identifies a tile in the quadtree by zoom, column and row.
type TileKey struct {
	Z int
	X int
	Y int
}

// NewTileKey creates a TileKey. Coordinates must be non-negative; x and y are
// not checked against the grid size of z (see InRange).
func NewTileKey(z, x, y int) (TileKey, error) {
	if z < 0 || z > MaxZoom {
		return TileKey{}, &ValidationError{
			Field:      "z",
			Value:      z,
			Constraint: fmt.Sprintf("[0, %d]", MaxZoom),
			Message:    "zoom must be between 0 and " + strconv.Itoa(MaxZoom),
		}
	}
	if x < 0 {
		return TileKey{}, &ValidationError{
			Field:      "x",
			Value:      x,
			Constraint: ">= 0",
			Message:    "x must be non-negative",
		}
	}
	if y < 0 {
		return TileKey{}, &ValidationError{
			Field:      "y",
			Value:      y,
			Constraint: ">= 0",
			Message:    "y must be non-negative",
		}
	}
	return TileKey{Z: z, X: x, Y: y}, nil
}

// ParseTileKey parses a "z/x/y" coordinate string, as used for resume points.
func ParseTileKey(s string) (TileKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return TileKey{}, fmt.Errorf("%w: %q is not of the form z/x/y", ErrInvalidTileKey, s)
	}

	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return TileKey{}, fmt.Errorf("%w: %q: %v", ErrInvalidTileKey, s, err)
		}
		vals[i] = v
	}

	return NewTileKey(vals[0], vals[1], vals[2])
}

// GridSize returns the number of tiles along one axis at zoom z (2^z).
func GridSize(z int) int {
	return 1 << uint(z)
}

// InRange reports whether x and y lie inside the 2^z grid.
func (k TileKey) InRange() bool {
	n := GridSize(k.Z)
	return k.X >= 0 && k.X < n && k.Y >= 0 && k.Y < n
}

// CacheKey returns the canonical "z/x/y" identifier.
func (k TileKey) CacheKey() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// Path returns the relative file path "z/x/y.pbf" using the OS separator.
func (k TileKey) Path() string {
	return filepath.Join(
		strconv.Itoa(k.Z),
		strconv.Itoa(k.X),
		strconv.Itoa(k.Y)+TileExtension,
	)
}

// ObjectKey returns the remote object name "z/x/y.pbf" (always slash separated).
func (k TileKey) ObjectKey() string {
	return k.CacheKey() + TileExtension
}

// String implements fmt.Stringer.
func (k TileKey) String() string {
	return k.CacheKey()
}

// MapTile converts the key to an orb maptile.
func (k TileKey) MapTile() maptile.Tile {
	return maptile.New(uint32(k.X), uint32(k.Y), maptile.Zoom(k.Z))
}

// Bound returns the lon/lat bounding box covered by the tile.
func (k TileKey) Bound() orb.Bound {
	return k.MapTile().Bound()
}

// Tile is a rendered tile together with the response headers supplied by
// the renderer.
type Tile struct {
	Key     TileKey
	Data    []byte
	Headers map[string]string
}

// ObjectMetadata describes the headers an uploaded object is stored with.
type ObjectMetadata struct {
	ContentType     string
	ContentEncoding string
	Extra           map[string]string // backend specific headers
}

// DefaultObjectMetadata returns the metadata used for gzip-compressed vector tiles.
func DefaultObjectMetadata() ObjectMetadata {
	return ObjectMetadata{
		ContentType:     ContentTypeProtobuf,
		ContentEncoding: ContentEncodingGzip,
	}
}
