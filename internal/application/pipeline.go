package application

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/bathytiles/bathytiles/internal/domain"
	"github.com/bathytiles/bathytiles/internal/ports/output"
)

// TaskState is the lifecycle state of an upload task.
type TaskState string

// Task states. Done, Failed and Canceled are terminal.
const (
	TaskQueued    TaskState = "queued"
	TaskFetching  TaskState = "fetching"
	TaskStaged    TaskState = "staged"
	TaskUploading TaskState = "uploading"
	TaskCleaned   TaskState = "cleaned"
	TaskDone      TaskState = "done"
	TaskFailed    TaskState = "failed"
	TaskCanceled  TaskState = "canceled"
)

// TaskResult reports a task that reached a terminal state.
type TaskResult struct {
	Key      domain.TileKey
	State    TaskState
	Err      error
	Duration time.Duration
}

// PipelineStats summarizes a pipeline run.
type PipelineStats struct {
	Enqueued  int64
	Completed int64
	Succeeded int64
	Failed    int64
	Canceled  int64
	Finalized bool
	Duration  time.Duration
}

// TileKeySource is the work source of a pipeline run.
type TileKeySource interface {
	All() iter.Seq[domain.TileKey]
	Count() int64
}

// PipelineConfig holds configuration for the upload pipeline.
type PipelineConfig struct {
	// Concurrency is the number of workers, and so the in-flight task limit.
	Concurrency int
	// StagingDir receives {z}/{x}/{y}.pbf files between render and upload.
	StagingDir string
	// RenderTimeout and UploadTimeout bound single calls. Zero means no timeout.
	RenderTimeout time.Duration
	UploadTimeout time.Duration
	// Retries is the number of extra upload attempts after a failure.
	Retries int
	// RetryInterval is the initial backoff between upload attempts.
	RetryInterval time.Duration
	// AbortOnStagingError stops the whole run when a tile cannot be staged.
	AbortOnStagingError bool
	// Metadata is sent with every uploaded object.
	Metadata domain.ObjectMetadata
	// ProgressEvery logs progress after this many completed tasks. Zero disables it.
	ProgressEvery int
}

// BoundedUploadPipeline renders every enumerated tile, stages it on disk,
// uploads it and removes the staged file, with a fixed number of workers.
type BoundedUploadPipeline struct {
	renderer output.TileRenderer
	uploader output.Uploader
	metrics  output.MetricsCollector
	logger   *slog.Logger
	cfg      PipelineConfig
}

// NewBoundedUploadPipeline creates a new upload pipeline.
func NewBoundedUploadPipeline(
	renderer output.TileRenderer,
	uploader output.Uploader,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg PipelineConfig,
) *BoundedUploadPipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(os.TempDir(), "bathytiles")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.Metadata.ContentType == "" {
		cfg.Metadata = domain.DefaultObjectMetadata()
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}

	return &BoundedUploadPipeline{
		renderer: renderer,
		uploader: uploader,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// pipelineRun holds the counters of one Run call.
type pipelineRun struct {
	total     int64
	enqueued  atomic.Int64
	completed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	canceled  atomic.Int64
	inFlight  atomic.Int64

	// onTask calls are serialized.
	mu     sync.Mutex
	onTask func(TaskResult)
}

// Run processes every key of src. onTask, if not nil, is called once per
// task that reaches a terminal state; calls never overlap.
//
// When all keys were enumerated and every task is terminal, the uploader is
// finalized exactly once. A run that was canceled or aborted is not
// finalized; its error is returned together with the stats so far.
func (p *BoundedUploadPipeline) Run(ctx context.Context, src TileKeySource, onTask func(TaskResult)) (PipelineStats, error) {
	start := time.Now()
	run := &pipelineRun{total: src.Count(), onTask: onTask}

	p.logger.Info("upload pipeline started",
		"tiles", run.total,
		"concurrency", p.cfg.Concurrency,
		"staging_dir", p.cfg.StagingDir,
	)

	g, gctx := errgroup.WithContext(ctx)
	tasks := make(chan domain.TileKey)

	g.Go(func() error {
		defer close(tasks)
		for key := range src.All() {
			select {
			case tasks <- key:
				run.enqueued.Add(1)
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			for key := range tasks {
				if err := p.handle(gctx, run, key); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := PipelineStats{
		Enqueued:  run.enqueued.Load(),
		Completed: run.completed.Load(),
		Succeeded: run.succeeded.Load(),
		Failed:    run.failed.Load(),
		Canceled:  run.canceled.Load(),
	}

	if err != nil {
		stats.Duration = time.Since(start)
		p.logger.Warn("upload pipeline stopped",
			"completed", stats.Completed,
			"failed", stats.Failed,
			"canceled", stats.Canceled,
			"error", err,
		)
		return stats, err
	}

	if err := p.finalize(ctx); err != nil {
		stats.Duration = time.Since(start)
		return stats, err
	}
	stats.Finalized = true
	stats.Duration = time.Since(start)

	p.logger.Info("all items have been processed",
		"completed", stats.Completed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"duration", stats.Duration,
	)
	return stats, nil
}

// handle runs one task and records its result. It returns an error only
// when the whole run must stop.
func (p *BoundedUploadPipeline) handle(ctx context.Context, run *pipelineRun, key domain.TileKey) error {
	p.metrics.SetPipelineInFlight(int(run.inFlight.Add(1)))
	start := time.Now()

	state, err := p.process(ctx, key)

	p.metrics.SetPipelineInFlight(int(run.inFlight.Add(-1)))
	p.metrics.IncPipelineTasks(string(state))

	switch state {
	case TaskDone:
		run.succeeded.Add(1)
		p.logger.Info("processed tile", "tile", key.CacheKey())
	case TaskCanceled:
		run.canceled.Add(1)
	default:
		run.failed.Add(1)
		p.logger.Warn("tile failed",
			"z", key.Z, "x", key.X, "y", key.Y,
			"error", err,
		)
	}

	completed := run.completed.Add(1)
	p.logProgress(run, completed)

	if run.onTask != nil {
		run.mu.Lock()
		run.onTask(TaskResult{Key: key, State: state, Err: err, Duration: time.Since(start)})
		run.mu.Unlock()
	}

	if p.cfg.AbortOnStagingError && errors.Is(err, domain.ErrStaging) {
		return err
	}
	return nil
}

// process moves a task through fetch, stage, upload and cleanup and returns
// its terminal state.
func (p *BoundedUploadPipeline) process(ctx context.Context, key domain.TileKey) (TaskState, error) {
	if ctx.Err() != nil {
		return TaskCanceled, ctx.Err()
	}

	// fetching
	tile, err := p.fetch(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return TaskCanceled, ctx.Err()
		}
		return TaskFailed, &domain.RenderError{Key: key, Err: err}
	}

	// staged
	stagingPath := filepath.Join(p.cfg.StagingDir, key.Path())
	defer p.cleanup(key, stagingPath)

	if err := stage(stagingPath, tile.Data); err != nil {
		return TaskFailed, &domain.StagingError{Key: key, Path: stagingPath, Err: err}
	}

	if ctx.Err() != nil {
		return TaskCanceled, ctx.Err()
	}

	// uploading
	if err := p.upload(ctx, stagingPath, key); err != nil {
		if ctx.Err() != nil {
			return TaskCanceled, ctx.Err()
		}
		return TaskFailed, &domain.UploadError{Key: key, Path: stagingPath, Err: err}
	}

	return TaskDone, nil
}

func (p *BoundedUploadPipeline) fetch(ctx context.Context, key domain.TileKey) (*domain.Tile, error) {
	if p.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RenderTimeout)
		defer cancel()
	}

	start := time.Now()
	tile, err := p.renderer.GetTile(ctx, key)
	p.metrics.ObserveRenderDuration(time.Since(start), err == nil)
	return tile, err
}

func (p *BoundedUploadPipeline) upload(ctx context.Context, path string, key domain.TileKey) error {
	attempt := func() (struct{}, error) {
		uctx := ctx
		if p.cfg.UploadTimeout > 0 {
			var cancel context.CancelFunc
			uctx, cancel = context.WithTimeout(ctx, p.cfg.UploadTimeout)
			defer cancel()
		}

		start := time.Now()
		err := p.uploader.Upload(uctx, path, key.ObjectKey(), p.cfg.Metadata)
		p.metrics.ObserveStorageDuration("upload", time.Since(start))
		p.metrics.IncStorageOperations("upload", err == nil)

		if err != nil && ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryInterval

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.Retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Debug("retrying upload",
				"tile", key.CacheKey(),
				"error", err,
				"backoff", next,
			)
		}),
	)
	return err
}

func (p *BoundedUploadPipeline) finalize(ctx context.Context) error {
	start := time.Now()
	err := p.uploader.Finalize(ctx)
	p.metrics.ObserveStorageDuration("finalize", time.Since(start))
	p.metrics.IncStorageOperations("finalize", err == nil)
	if err != nil {
		return fmt.Errorf("finalizing upload: %w", err)
	}
	return nil
}

// cleanup removes the staged file. It runs after every upload attempt and
// after failed staging writes.
func (p *BoundedUploadPipeline) cleanup(key domain.TileKey, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to remove staged tile",
			"tile", key.CacheKey(),
			"path", path,
			"error", err,
		)
	}
}

func (p *BoundedUploadPipeline) logProgress(run *pipelineRun, completed int64) {
	if p.cfg.ProgressEvery <= 0 || completed%int64(p.cfg.ProgressEvery) != 0 {
		return
	}

	var percent float64
	if run.total > 0 {
		percent = float64(completed) / float64(run.total) * 100
	}
	p.logger.Info("upload progress",
		"completed", completed,
		"total", run.total,
		"percent", fmt.Sprintf("%.1f", percent),
		"failed", run.failed.Load(),
	)
}

// stage writes data to path, creating parent directories.
func stage(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
