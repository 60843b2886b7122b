// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bathytiles/bathytiles/internal/adapters/cache"
	httpAdapter "github.com/bathytiles/bathytiles/internal/adapters/http"
	"github.com/bathytiles/bathytiles/internal/adapters/metrics"
	"github.com/bathytiles/bathytiles/internal/adapters/renderer"
	tlsAdapter "github.com/bathytiles/bathytiles/internal/adapters/tls"
	"github.com/bathytiles/bathytiles/internal/adapters/watcher"
	"github.com/bathytiles/bathytiles/internal/application"
	"github.com/bathytiles/bathytiles/internal/config"
	"github.com/bathytiles/bathytiles/internal/ports/output"
)

// App holds the tile server components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Renderer      output.TileRenderer
	Cache         *cache.DiskCache
	TileService   *application.CacheAsideTileService
	HealthService *application.HealthService
	HTTPServer    *httpAdapter.Server
	TLS           *tlsAdapter.Manager
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server
}

// sourced is implemented by renderers that can name their source.
type sourced interface {
	Source() string
}

// New creates the tile server. The renderer is opened here, so a missing
// tile source fails startup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var middleware []mux.MiddlewareFunc
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace)
		app.MetricsServer = metrics.NewServer(app.Metrics, cfg.Metrics.Port, cfg.Metrics.Path, logger)
		middleware = append(middleware, app.Metrics.Middleware)
	}
	metricsCollector := app.metricsCollector()

	// Initialize renderer
	r, err := initRenderer(ctx, cfg.Renderer)
	if err != nil {
		return nil, fmt.Errorf("initializing renderer: %w", err)
	}
	app.Renderer = r

	// Initialize disk cache
	var tileCache output.TileCache
	cacheDir := ""
	if cfg.Cache.Enabled {
		app.Cache, err = cache.NewDiskCache(cfg.Cache.Dir, logger)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("initializing cache: %w", err)
		}
		tileCache = app.Cache
		cacheDir = app.Cache.Root()
	}

	app.TileService = application.NewCacheAsideTileService(
		tileCache,
		r,
		metricsCollector,
		logger,
		application.TileServiceConfig{
			RenderTimeout: cfg.Renderer.Timeout,
			Dedupe:        cfg.Renderer.Dedupe,
			WriteQueue:    cfg.Cache.WriteQueue,
			Writers:       cfg.Cache.Writers,
		},
	)

	source := cfg.Renderer.Type
	if s, ok := r.(sourced); ok {
		source = s.Source()
	}
	app.HealthService = application.NewHealthService(source, cacheDir, app.TileService)
	app.HealthService.SetReady(true)

	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.TileService,
		app.HealthService,
		logger,
		middleware...,
	)

	// Initialize TLS if enabled
	if cfg.TLS.Enabled {
		app.TLS, err = tlsAdapter.NewManager(tlsAdapter.Config{
			Domains:     cfg.TLS.Domains,
			Email:       cfg.TLS.Email,
			CacheDir:    cfg.TLS.CacheDir,
			Staging:     cfg.TLS.Staging,
			Challenge:   cfg.TLS.Challenge,
			HTTPAddress: cfg.TLS.HTTPAddress,
			DNS: tlsAdapter.DNSConfig{
				SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
				ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
				ClientID:          cfg.TLS.DNS.ClientID,
			},
		}, logger)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
	}

	// Initialize file watcher for hot-reload
	if reloadable, ok := r.(output.ReloadableRenderer); ok && cfg.Renderer.Watch {
		w, err := watcher.New(
			watcher.Config{
				File:     reloadable.Source(),
				Debounce: cfg.Renderer.WatchDebounce,
			},
			watcher.ReloadHandler(reloadable, logger),
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

func (a *App) metricsCollector() output.MetricsCollector {
	if a.Metrics != nil {
		return a.Metrics
	}
	return &output.NoOpMetrics{}
}

// Start starts all components and blocks until the HTTP server stops.
func (a *App) Start(ctx context.Context) error {
	// Start file watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	// Start metrics server in background
	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if a.TLS == nil {
		return ignoreClosed(a.HTTPServer.Start())
	}

	go func() {
		if err := a.TLS.StartChallengeServer(); err != nil {
			a.Logger.Error("ACME challenge listener error", "error", err)
		}
	}()
	if err := a.TLS.ManageCertificates(ctx); err != nil {
		return err
	}
	return ignoreClosed(a.HTTPServer.StartTLS(a.TLS.TLSConfig()))
}

// Shutdown gracefully shuts down all components. In-flight requests are
// drained first, then queued cache writes are flushed.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")
	a.HealthService.SetReady(false)

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	var errs []error

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
		errs = append(errs, err)
	}

	if a.TLS != nil {
		if err := a.TLS.Shutdown(ctx); err != nil {
			a.Logger.Error("ACME challenge listener shutdown error", "error", err)
		}
	}

	pending := a.TileService.PendingWrites()
	if err := a.TileService.Close(ctx); err != nil {
		a.Logger.Error("cache writes not flushed", "pending", pending, "error", err)
		errs = append(errs, err)
	}

	if err := a.Renderer.Close(); err != nil {
		a.Logger.Error("closing renderer", "error", err)
	}

	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}

	return errors.Join(errs...)
}

// initRenderer opens the configured tile source.
func initRenderer(ctx context.Context, cfg config.RendererConfig) (output.TileRenderer, error) {
	switch cfg.Type {
	case "mbtiles":
		m, err := renderer.NewMBTiles(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return m, nil

	case "http":
		h, err := renderer.NewHTTPRenderer(renderer.HTTPRendererConfig{
			URLTemplate: cfg.URLTemplate,
			Timeout:     cfg.Timeout,
			Headers:     cfg.Headers,
		})
		if err != nil {
			return nil, err
		}
		return h, nil

	default:
		return nil, fmt.Errorf("unknown renderer type: %s", cfg.Type)
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
