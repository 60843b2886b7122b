package application

import (
	"fmt"
	"iter"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/bathytiles/bathytiles/internal/domain"
)

// maxLatitude is the latitude limit of the web mercator tile grid.
const maxLatitude = 85.05112877980659

// EnumeratorConfig describes the tile range to enumerate.
type EnumeratorConfig struct {
	MinZoom int
	MaxZoom int
	// Start resumes enumeration at this tile. Its X only applies to the first
	// zoom level and its Y only to the first column.
	Start *domain.TileKey
	// Limit caps the number of keys produced. Zero means unbounded.
	Limit int
	// Bounds restricts every zoom level to tiles intersecting a lon/lat box.
	Bounds *orb.Bound
}

// TileKeyEnumerator produces tile keys in z, x, y order. It is immutable;
// every call to All or Cursor starts from the beginning.
type TileKeyEnumerator struct {
	cfg EnumeratorConfig
}

// NewTileKeyEnumerator validates cfg and creates an enumerator.
func NewTileKeyEnumerator(cfg EnumeratorConfig) (*TileKeyEnumerator, error) {
	if cfg.MinZoom < 0 || cfg.MaxZoom > domain.MaxZoom || cfg.MinZoom > cfg.MaxZoom {
		return nil, &domain.ValidationError{
			Field:      "zoom",
			Value:      fmt.Sprintf("%d-%d", cfg.MinZoom, cfg.MaxZoom),
			Constraint: fmt.Sprintf("0 <= min <= max <= %d", domain.MaxZoom),
			Message:    "invalid zoom range",
		}
	}
	if cfg.Limit < 0 {
		return nil, &domain.ValidationError{
			Field:      "limit",
			Value:      cfg.Limit,
			Constraint: ">= 0",
			Message:    "limit must not be negative",
		}
	}
	if cfg.Bounds != nil && (cfg.Bounds.Min.X() > cfg.Bounds.Max.X() || cfg.Bounds.Min.Y() > cfg.Bounds.Max.Y()) {
		return nil, &domain.ValidationError{
			Field:      "bounds",
			Value:      *cfg.Bounds,
			Constraint: "west <= east, south <= north",
			Message:    "invalid bounds",
		}
	}

	return &TileKeyEnumerator{cfg: cfg}, nil
}

// All returns the key sequence.
func (e *TileKeyEnumerator) All() iter.Seq[domain.TileKey] {
	return func(yield func(domain.TileKey) bool) {
		c := e.Cursor()
		for {
			key, ok := c.Next()
			if !ok || !yield(key) {
				return
			}
		}
	}
}

// Count returns the number of keys All produces.
func (e *TileKeyEnumerator) Count() int64 {
	var total int64

	for z := e.startZoom(); z <= e.cfg.MaxZoom; z++ {
		r := e.rangeFor(z)
		height := int64(r.maxY - r.minY + 1)
		firstX := r.minX

		if z == e.startZoom() && e.cfg.Start != nil {
			start := e.cfg.Start
			if start.X > r.maxX {
				continue
			}
			if start.X >= r.minX {
				if y := max(start.Y, r.minY); y <= r.maxY {
					total += int64(r.maxY - y + 1)
				}
				firstX = start.X + 1
			}
		}

		if firstX <= r.maxX {
			total += int64(r.maxX-firstX+1) * height
		}
	}

	if e.cfg.Limit > 0 && total > int64(e.cfg.Limit) {
		return int64(e.cfg.Limit)
	}
	return total
}

// Cursor returns a fresh cursor positioned before the first key.
func (e *TileKeyEnumerator) Cursor() *Cursor {
	c := &Cursor{e: e, z: e.startZoom()}
	if c.z > e.cfg.MaxZoom {
		c.done = true
		return c
	}

	c.r = e.rangeFor(c.z)
	c.x, c.y = c.r.minX, c.r.minY

	if start := e.cfg.Start; start != nil {
		c.x = max(start.X, c.r.minX)
		if start.X >= c.r.minX {
			c.y = max(start.Y, c.r.minY)
		}
	}

	return c
}

func (e *TileKeyEnumerator) startZoom() int {
	if e.cfg.Start != nil {
		return e.cfg.Start.Z
	}
	return e.cfg.MinZoom
}

// tileRange is an inclusive range of columns and rows at one zoom level.
type tileRange struct {
	minX, maxX int
	minY, maxY int
}

func (e *TileKeyEnumerator) rangeFor(z int) tileRange {
	n := domain.GridSize(z)
	if e.cfg.Bounds == nil {
		return tileRange{minX: 0, maxX: n - 1, minY: 0, maxY: n - 1}
	}

	b := *e.cfg.Bounds
	zoom := maptile.Zoom(z)

	// Tile rows grow southwards, so the north-west corner gives the minimum.
	nw := maptile.At(orb.Point{b.Min.X(), clampLat(b.Max.Y())}, zoom)
	se := maptile.At(orb.Point{b.Max.X(), clampLat(b.Min.Y())}, zoom)

	return tileRange{
		minX: clamp(int(nw.X), 0, n-1),
		maxX: clamp(int(se.X), 0, n-1),
		minY: clamp(int(nw.Y), 0, n-1),
		maxY: clamp(int(se.Y), 0, n-1),
	}
}

// Cursor walks the enumeration one key at a time. A Cursor is not safe for
// concurrent use.
type Cursor struct {
	e        *TileKeyEnumerator
	r        tileRange
	z, x, y  int
	produced int
	done     bool
}

// Next returns the next key, or false once the range or the limit is exhausted.
func (c *Cursor) Next() (domain.TileKey, bool) {
	for !c.done {
		switch {
		case c.e.cfg.Limit > 0 && c.produced >= c.e.cfg.Limit:
			c.done = true
		case c.x > c.r.maxX:
			c.z++
			if c.z > c.e.cfg.MaxZoom {
				c.done = true
				continue
			}
			c.r = c.e.rangeFor(c.z)
			c.x, c.y = c.r.minX, c.r.minY
		case c.y > c.r.maxY:
			c.x++
			c.y = c.r.minY
		default:
			key := domain.TileKey{Z: c.z, X: c.x, Y: c.y}
			c.y++
			c.produced++
			return key, true
		}
	}
	return domain.TileKey{}, false
}

// Produced returns the number of keys returned so far.
func (c *Cursor) Produced() int {
	return c.produced
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func clampLat(lat float64) float64 {
	return min(max(lat, -maxLatitude), maxLatitude)
}
