package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bathytiles/bathytiles/internal/adapters/metrics"
	"github.com/bathytiles/bathytiles/internal/adapters/storage"
	"github.com/bathytiles/bathytiles/internal/application"
	"github.com/bathytiles/bathytiles/internal/config"
	"github.com/bathytiles/bathytiles/internal/ports/output"
)

// RunUpload renders every tile of the configured zoom range and uploads it
// to the configured store. It returns when the run finished, failed or ctx
// was canceled.
func RunUpload(ctx context.Context, cfg *config.Config, logger *slog.Logger) (application.PipelineStats, error) {
	if err := cfg.ValidateUpload(); err != nil {
		return application.PipelineStats{}, err
	}

	start, _ := cfg.Upload.StartKey()
	bounds, _ := cfg.Upload.ParsedBounds()

	enumerator, err := application.NewTileKeyEnumerator(application.EnumeratorConfig{
		MinZoom: cfg.Upload.MinZoom,
		MaxZoom: cfg.Upload.MaxZoom,
		Start:   start,
		Limit:   cfg.Upload.Limit,
		Bounds:  bounds,
	})
	if err != nil {
		return application.PipelineStats{}, err
	}

	var collector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		c := metrics.NewCollector(cfg.Metrics.Namespace)
		srv := metrics.NewServer(c, cfg.Metrics.Port, cfg.Metrics.Path, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
		collector = c
	}

	r, err := initRenderer(ctx, cfg.Renderer)
	if err != nil {
		return application.PipelineStats{}, fmt.Errorf("initializing renderer: %w", err)
	}
	defer func() { _ = r.Close() }()

	uploader, err := initUploader(ctx, cfg, logger)
	if err != nil {
		return application.PipelineStats{}, fmt.Errorf("initializing storage: %w", err)
	}

	pipeline := application.NewBoundedUploadPipeline(r, uploader, collector, logger,
		application.PipelineConfig{
			Concurrency:         cfg.Upload.Concurrency,
			StagingDir:          cfg.Upload.StagingDir,
			RenderTimeout:       cfg.Upload.RenderTimeout,
			UploadTimeout:       cfg.Upload.UploadTimeout,
			Retries:             cfg.Upload.Retries,
			RetryInterval:       cfg.Upload.RetryInterval,
			AbortOnStagingError: cfg.Upload.AbortOnStagingError,
			Metadata:            cfg.Upload.Metadata(),
			ProgressEvery:       cfg.Upload.ProgressEvery,
		},
	)

	logger.Info("starting upload",
		"min_zoom", cfg.Upload.MinZoom,
		"max_zoom", cfg.Upload.MaxZoom,
		"bucket", cfg.Upload.Bucket,
		"storage_type", cfg.Storage.Type,
		"start", cfg.Upload.Start,
		"limit", cfg.Upload.Limit,
	)

	return pipeline.Run(ctx, enumerator, nil)
}

// initUploader initializes the uploader for the configured store.
func initUploader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (output.Uploader, error) {
	bucket := cfg.Upload.Bucket

	switch output.StorageType(cfg.Storage.Type) {
	case output.StorageTypeLocal:
		return storage.NewLocalUploader(cfg.Storage.LocalPath, bucket, logger), nil

	case output.StorageTypeS3:
		s3 := cfg.Storage.S3
		u, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          bucket,
			Region:          s3.Region,
			Prefix:          s3.Prefix,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			PublicRead:      s3.PublicRead,
		})
		if err != nil {
			return nil, err
		}
		return u, nil

	case output.StorageTypeAzure:
		az := cfg.Storage.Azure
		u, err := storage.NewAzureUploader(storage.AzureConfig{
			Container:        bucket,
			AccountName:      az.AccountName,
			AccountKey:       az.AccountKey,
			ConnectionString: az.ConnectionString,
			Prefix:           az.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return u, nil

	case output.StorageTypeSwift:
		sw := cfg.Storage.Swift
		u, err := storage.NewSwiftUploader(storage.SwiftConfig{
			Container:  bucket,
			Prefix:     sw.Prefix,
			StorageURL: sw.StorageURL,
			Token:      sw.Token,
			AuthURL:    sw.AuthURL,
			Username:   sw.Username,
			APIKey:     sw.APIKey,
			Timeout:    sw.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return u, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}
