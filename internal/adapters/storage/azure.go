package storage

import (
	"context"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/bathytiles/bathytiles/internal/domain"
	"github.com/bathytiles/bathytiles/internal/ports/output"
)

var _ output.Uploader = (*AzureUploader)(nil)

// AzureUploader implements Uploader for Azure Blob Storage.
type AzureUploader struct {
	client    *azblob.Client
	container string
	prefix    string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
}

// NewAzureUploader creates a new Azure Blob Storage uploader.
func NewAzureUploader(cfg AzureConfig) (*AzureUploader, error) {
	if cfg.Container == "" {
		return nil, &domain.ConfigError{Field: "upload.bucket", Message: "container is required"}
	}

	var client *azblob.Client
	var err error

	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	} else {
		url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(url, cred, nil)
		}
	}
	if err != nil {
		return nil, err
	}

	return &AzureUploader{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
	}, nil
}

// Upload uploads the local file as a block blob with the tile headers.
func (s *AzureUploader) Upload(ctx context.Context, localPath, key string, meta domain.ObjectMetadata) error {
	f, err := os.Open(localPath) //#nosec G304 -- localPath is a staging file we created
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	defer func() { _ = f.Close() }()

	_, err = s.client.UploadFile(ctx, s.container, joinKey(s.prefix, key), f, &azblob.UploadFileOptions{
		HTTPHeaders: blobHeaders(meta),
		Metadata:    blobMetadata(meta.Extra),
	})
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	return nil
}

// Finalize makes the container's blobs publicly readable.
func (s *AzureUploader) Finalize(ctx context.Context) error {
	access := container.PublicAccessTypeBlob
	_, err := s.client.ServiceClient().NewContainerClient(s.container).SetAccessPolicy(ctx,
		&container.SetAccessPolicyOptions{Access: &access},
	)
	if err != nil {
		return &domain.StorageError{Operation: "finalize", Key: s.container, Err: err}
	}
	return nil
}

func blobHeaders(meta domain.ObjectMetadata) *blob.HTTPHeaders {
	h := &blob.HTTPHeaders{}
	if meta.ContentType != "" {
		ct := meta.ContentType
		h.BlobContentType = &ct
	}
	if meta.ContentEncoding != "" {
		ce := meta.ContentEncoding
		h.BlobContentEncoding = &ce
	}
	return h
}

func blobMetadata(extra map[string]string) map[string]*string {
	if len(extra) == 0 {
		return nil
	}
	md := make(map[string]*string, len(extra))
	for k, v := range extra {
		md[k] = &v
	}
	return md
}
