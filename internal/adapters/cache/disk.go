// Package cache provides the on-disk tile cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bathytiles/bathytiles/internal/domain"
	"github.com/bathytiles/bathytiles/internal/ports/output"
)

var _ output.TileCache = (*DiskCache)(nil)

// DiskCache stores one file per tile under {root}/{z}/{x}/{y}.pbf.
// The directory tree is the only index.
type DiskCache struct {
	root   string
	logger *slog.Logger
}

// NewDiskCache creates a disk cache rooted at root, creating the directory
// if it does not exist.
func NewDiskCache(root string, logger *slog.Logger) (*DiskCache, error) {
	if root == "" {
		return nil, &domain.ConfigError{Field: "cache.dir", Message: "cache directory is required"}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	return &DiskCache{
		root:   root,
		logger: logger,
	}, nil
}

// Root returns the cache root directory.
func (c *DiskCache) Root() string {
	return c.root
}

// Path returns the file path a tile is stored at.
func (c *DiskCache) Path(key domain.TileKey) string {
	return filepath.Join(c.root, key.Path())
}

// Exists checks if a tile is cached. Errors other than "not found" are
// logged and reported as a miss.
func (c *DiskCache) Exists(_ context.Context, key domain.TileKey) bool {
	info, err := os.Stat(c.Path(key))
	if err == nil {
		return !info.IsDir()
	}
	if !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("cache stat failed",
			"z", key.Z, "x", key.X, "y", key.Y,
			"error", err,
		)
	}
	return false
}

// Open opens a cached tile for reading. The file can disappear between
// Exists and Open; that surfaces as a read error.
func (c *DiskCache) Open(_ context.Context, key domain.TileKey) (io.ReadCloser, error) {
	f, err := os.Open(c.Path(key)) //#nosec G304 -- path is built from integer coordinates
	if err != nil {
		return nil, &domain.CacheError{Op: "read", Key: key, Err: err}
	}
	return f, nil
}

// Write stores data for key. Parent directories are created as needed and
// the file is replaced atomically, so readers never see a partial tile.
// Concurrent writers of the same key race; the last rename wins.
func (c *DiskCache) Write(_ context.Context, key domain.TileKey, data []byte) error {
	dest := c.Path(key)
	dir := filepath.Dir(dest)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.CacheError{Op: "write", Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".*.tmp")
	if err != nil {
		return &domain.CacheError{Op: "write", Key: key, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &domain.CacheError{Op: "write", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &domain.CacheError{Op: "write", Key: key, Err: err}
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return &domain.CacheError{Op: "write", Key: key, Err: err}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return &domain.CacheError{Op: "write", Key: key, Err: err}
	}

	return nil
}
