// Package storage provides the remote object store adapters used by the
// upload pipeline.
package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bathytiles/bathytiles/internal/domain"
	"github.com/bathytiles/bathytiles/internal/ports/output"
)

var _ output.Uploader = (*LocalUploader)(nil)

// LocalUploader implements Uploader for a local directory. Objects are
// stored at {basePath}/{bucket}/{key}.
type LocalUploader struct {
	basePath string
	bucket   string
	logger   *slog.Logger
}

// NewLocalUploader creates a new local uploader.
func NewLocalUploader(basePath, bucket string, logger *slog.Logger) *LocalUploader {
	return &LocalUploader{basePath: basePath, bucket: bucket, logger: logger}
}

// Upload copies the local file into the bucket directory.
func (s *LocalUploader) Upload(_ context.Context, localPath, key string, _ domain.ObjectMetadata) error {
	dest := s.FullPath(key)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}

	src, err := os.Open(localPath) //#nosec G304 -- localPath is a staging file we created
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(dest) //#nosec G304 -- dest is built from the bucket directory and tile key
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	if err := dst.Close(); err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	return nil
}

// Finalize has nothing to publish for a local directory.
func (s *LocalUploader) Finalize(_ context.Context) error {
	s.logger.Info("upload finished", "dir", filepath.Join(s.basePath, s.bucket))
	return nil
}

// FullPath returns the full path for a key.
func (s *LocalUploader) FullPath(key string) string {
	return filepath.Join(s.basePath, s.bucket, filepath.FromSlash(key))
}
