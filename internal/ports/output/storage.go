// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"

	"github.com/bathytiles/bathytiles/internal/domain"
)

// Uploader defines the secondary port for the remote object store.
type Uploader interface {
	// Upload pushes the local file at localPath to the store under key.
	Upload(ctx context.Context, localPath, key string, meta domain.ObjectMetadata) error

	// Finalize is called exactly once after all uploads of a run have completed.
	Finalize(ctx context.Context) error
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeSwift StorageType = "swift"
	StorageTypeLocal StorageType = "local"
)
