package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bathytiles/bathytiles/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCache(t *testing.T) *DiskCache {
	t.Helper()
	c, err := NewDiskCache(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewDiskCache() error = %v", err)
	}
	return c
}

func TestNewDiskCache(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "cache")

	c, err := NewDiskCache(root, testLogger())
	if err != nil {
		t.Fatalf("NewDiskCache() error = %v", err)
	}
	if c.Root() != root {
		t.Errorf("Root() = %q, want %q", c.Root(), root)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("cache root should be created, stat err = %v", err)
	}
}

func TestNewDiskCacheEmptyRoot(t *testing.T) {
	_, err := NewDiskCache("", testLogger())
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("NewDiskCache(\"\") error = %v, want ErrInvalidInput", err)
	}
}

func TestDiskCachePathLayout(t *testing.T) {
	c := newTestCache(t)
	key := domain.TileKey{Z: 4, X: 2, Y: 9}

	want := filepath.Join(c.Root(), "4", "2", "9.pbf")
	if got := c.Path(key); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestDiskCacheWriteAndRead(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := domain.TileKey{Z: 3, X: 1, Y: 6}
	data := []byte{0x1f, 0x8b, 0x08, 0x00, 0x01, 0x02}

	if c.Exists(ctx, key) {
		t.Fatal("Exists() should be false before write")
	}

	if err := c.Write(ctx, key, data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if !c.Exists(ctx, key) {
		t.Fatal("Exists() should be true after write")
	}

	rc, err := c.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("content = %v, want %v", got, data)
	}
}

func TestDiskCacheOverwrite(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := domain.TileKey{Z: 0, X: 0, Y: 0}

	if err := c.Write(ctx, key, []byte("first version, longer")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := c.Write(ctx, key, []byte("second")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := os.ReadFile(c.Path(key))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want %q", got, "second")
	}

	// No temp files may be left next to the tile.
	entries, err := os.ReadDir(filepath.Dir(c.Path(key)))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestDiskCacheOpenMissing(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Open(context.Background(), domain.TileKey{Z: 9, X: 9, Y: 9})
	if err == nil {
		t.Fatal("Open() should fail for a missing tile")
	}
	if !errors.Is(err, domain.ErrCacheRead) {
		t.Errorf("Open() error = %v, want ErrCacheRead", err)
	}
}

func TestDiskCacheExistsDirectory(t *testing.T) {
	c := newTestCache(t)
	key := domain.TileKey{Z: 1, X: 0, Y: 0}

	// A directory where the tile file should be is not a cached tile.
	if err := os.MkdirAll(c.Path(key), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if c.Exists(context.Background(), key) {
		t.Error("Exists() should be false for a directory")
	}
}

func TestDiskCacheWriteFailure(t *testing.T) {
	c := newTestCache(t)
	key := domain.TileKey{Z: 2, X: 1, Y: 1}

	// Block directory creation with a regular file at the zoom level.
	if err := os.WriteFile(filepath.Join(c.Root(), "2"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	err := c.Write(context.Background(), key, []byte("data"))
	if !errors.Is(err, domain.ErrCacheWrite) {
		t.Errorf("Write() error = %v, want ErrCacheWrite", err)
	}
}

func TestDiskCacheConcurrentWrites(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half of the writers share a key, the rest share a directory.
			key := domain.TileKey{Z: 5, X: 3, Y: i % 8}
			if err := c.Write(ctx, key, []byte(fmt.Sprintf("tile-%d", i))); err != nil {
				t.Errorf("Write() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	for y := 0; y < 8; y++ {
		if !c.Exists(ctx, domain.TileKey{Z: 5, X: 3, Y: y}) {
			t.Errorf("tile 5/3/%d should exist", y)
		}
	}
}
