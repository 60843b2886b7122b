// Package renderer provides the tile renderer adapters.
package renderer

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/bathytiles/bathytiles/internal/domain"
	"github.com/bathytiles/bathytiles/internal/ports/output"
)

var _ output.ReloadableRenderer = (*MBTiles)(nil)

// gzipMagic is the header of a gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// formatContentTypes maps the MBTiles "format" metadata value to a content type.
var formatContentTypes = map[string]string{
	"pbf":  domain.ContentTypeProtobuf,
	"mvt":  domain.ContentTypeProtobuf,
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
}

// missingTileError is returned for tiles absent from the tileset. Its message
// is what HTTP clients see in the 404 body.
type missingTileError struct{}

func (missingTileError) Error() string { return "Tile does not exist" }
func (missingTileError) Unwrap() error { return domain.ErrTileNotFound }

var errTileMissing error = missingTileError{}

// MBTiles renders tiles from a pre-built MBTiles (SQLite) tileset.
type MBTiles struct {
	path string

	mu          sync.RWMutex
	db          *sql.DB
	contentType string
	closed      bool
}

// NewMBTiles opens the MBTiles file at path.
func NewMBTiles(ctx context.Context, path string) (*MBTiles, error) {
	m := &MBTiles{path: path}

	db, contentType, err := openMBTiles(ctx, path)
	if err != nil {
		return nil, err
	}
	m.db = db
	m.contentType = contentType

	return m, nil
}

// Source returns the MBTiles file path.
func (m *MBTiles) Source() string {
	return m.path
}

// GetTile reads a tile. MBTiles rows use the TMS scheme, so the XYZ row is
// flipped before the lookup.
func (m *MBTiles) GetTile(ctx context.Context, key domain.TileKey) (*domain.Tile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, domain.ErrRendererClosed
	}

	tmsRow := domain.GridSize(key.Z) - 1 - key.Y

	var data []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		key.Z, key.X, tmsRow,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(data) == 0) {
		return nil, errTileMissing
	}
	if err != nil {
		return nil, fmt.Errorf("reading tile %s: %w", key, err)
	}

	headers := map[string]string{
		"Content-Type": m.contentType,
	}
	if bytes.HasPrefix(data, gzipMagic) {
		headers["Content-Encoding"] = domain.ContentEncodingGzip
	}

	return &domain.Tile{Key: key, Data: data, Headers: headers}, nil
}

// Reload reopens the MBTiles file, e.g. after it was replaced on disk.
// On failure the previous connection stays in use.
func (m *MBTiles) Reload(ctx context.Context) error {
	db, contentType, err := openMBTiles(ctx, m.path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	old := m.db
	m.db = db
	m.contentType = contentType
	m.closed = false
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close closes the database connection.
func (m *MBTiles) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// openMBTiles opens the file read-only and reads the tile format.
func openMBTiles(ctx context.Context, path string) (*sql.DB, string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, "", &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	dsn, err := readOnlyDSN(path)
	if err != nil {
		return nil, "", &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, "", &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	contentType, err := readContentType(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("reading mbtiles metadata: %w", err)
	}

	return db, contentType, nil
}

// readOnlyDSN builds a read-only SQLite URI for path. The path is made
// absolute and percent-encoded so '#', '?' and '%' in directory or file
// names are not read as URI delimiters.
func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	slashed := filepath.ToSlash(abs)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := url.URL{Scheme: "file", Path: slashed, RawQuery: "mode=ro"}
	return u.String(), nil
}

// readContentType derives the tile content type from the metadata table.
// Tilesets without a format entry are treated as vector tiles.
func readContentType(ctx context.Context, db *sql.DB) (string, error) {
	var format string
	err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE name = 'format'`).Scan(&format)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ContentTypeProtobuf, nil
	}
	if err != nil {
		return "", err
	}

	if ct, ok := formatContentTypes[format]; ok {
		return ct, nil
	}
	return "application/octet-stream", nil
}
