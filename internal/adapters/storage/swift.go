package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ncw/swift/v2"

	"github.com/bathytiles/bathytiles/internal/domain"
	"github.com/bathytiles/bathytiles/internal/ports/output"
)

var _ output.Uploader = (*SwiftUploader)(nil)

// SwiftUploader implements Uploader for OpenStack Swift object storage.
// The connection re-authenticates when a request is rejected with 401, so
// long runs survive token expiry.
type SwiftUploader struct {
	conn      *swift.Connection
	container string
	prefix    string
	logger    *slog.Logger
}

// SwiftConfig holds Swift configuration. Either StorageURL and Token are set,
// or AuthURL, Username and APIKey. Both may be set: the token is used until
// it is rejected, then the uploader authenticates against AuthURL.
type SwiftConfig struct {
	Container  string
	Prefix     string
	StorageURL string
	Token      string
	AuthURL    string
	Username   string
	APIKey     string
	Timeout    time.Duration
}

// NewSwiftUploader creates a new Swift uploader.
func NewSwiftUploader(cfg SwiftConfig, logger *slog.Logger) (*SwiftUploader, error) {
	if cfg.Container == "" {
		return nil, &domain.ConfigError{Field: "upload.bucket", Message: "container is required"}
	}
	if cfg.StorageURL == "" && cfg.AuthURL == "" {
		return nil, &domain.ConfigError{Field: "storage.swift", Message: "storage_url or auth_url is required"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	conn := &swift.Connection{
		UserName:   cfg.Username,
		ApiKey:     cfg.APIKey,
		AuthUrl:    cfg.AuthURL,
		StorageUrl: strings.TrimSuffix(cfg.StorageURL, "/"),
		AuthToken:  cfg.Token,
		Timeout:    cfg.Timeout,
		UserAgent:  "bathytiles",
	}

	return &SwiftUploader{
		conn:      conn,
		container: cfg.Container,
		prefix:    cfg.Prefix,
		logger:    logger,
	}, nil
}

// Upload PUTs the local file into the container.
func (s *SwiftUploader) Upload(ctx context.Context, localPath, key string, meta domain.ObjectMetadata) error {
	f, err := os.Open(localPath) //#nosec G304 -- localPath is a staging file we created
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}

	headers := swift.Headers{
		"Content-Length": strconv.FormatInt(info.Size(), 10),
	}
	if meta.ContentEncoding != "" {
		headers["Content-Encoding"] = meta.ContentEncoding
	}
	for k, v := range meta.Extra {
		headers["X-Object-Meta-"+k] = v
	}

	objectName := joinKey(s.prefix, key)
	body := &rewindingReader{f: f}

	_, err = s.conn.ObjectPut(ctx, s.container, objectName, body, false, "", meta.ContentType, headers)
	if errors.Is(err, swift.AuthorizationFailed) && s.canReauthenticate() {
		s.logger.Debug("swift token rejected, re-authenticating", "key", key)
		s.conn.UnAuthenticate()
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return &domain.StorageError{Operation: "upload", Key: key, Err: serr}
		}
		_, err = s.conn.ObjectPut(ctx, s.container, objectName, body, false, "", meta.ContentType, headers)
	}
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	return nil
}

// Finalize makes the container publicly readable from any origin.
func (s *SwiftUploader) Finalize(ctx context.Context) error {
	headers := swift.Headers{}
	headers["X-Container-Meta-Access-Control-Allow-Origin"] = "*"
	headers["X-Container-Read"] = ".r:*"

	err := s.conn.ContainerUpdate(ctx, s.container, headers)
	if errors.Is(err, swift.AuthorizationFailed) && s.canReauthenticate() {
		s.conn.UnAuthenticate()
		err = s.conn.ContainerUpdate(ctx, s.container, headers)
	}
	if err != nil {
		return &domain.StorageError{Operation: "finalize", Key: s.container, Err: err}
	}

	s.logger.Info("container published", "container", s.container)
	return nil
}

// canReauthenticate reports whether credentials for a fresh token are set.
func (s *SwiftUploader) canReauthenticate() bool {
	return s.conn.AuthUrl != "" && s.conn.UserName != ""
}

// rewindingReader seeks back to the start of the file after returning EOF,
// so a request replayed with a new token sends the whole object again.
type rewindingReader struct {
	f *os.File
}

func (r *rewindingReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if errors.Is(err, io.EOF) {
		if _, serr := r.f.Seek(0, io.SeekStart); serr != nil {
			return n, serr
		}
	}
	return n, err
}
