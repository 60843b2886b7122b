// Package main provides the entry point for the bathytiles tile server and uploader.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bathytiles/bathytiles/internal/app"
	"github.com/bathytiles/bathytiles/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bathytiles",
	Short: "bathytiles - bathymetry vector tile server",
	Long: `bathytiles serves gzip-compressed bathymetry vector tiles.

Tiles are read from a disk cache and rendered on a miss from an MBTiles file
or an upstream tile server. The upload command pre-renders a zoom range and
pushes it to an object store (S3, Azure Blob Storage, Swift or a directory).`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tile server",
	RunE:  runServer,
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Render a zoom range and upload it to an object store",
	RunE:  runUpload,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("bathytiles %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("renderer", "mbtiles", "tile source type (mbtiles, http)")
	rootCmd.PersistentFlags().String("mbtiles", "./data/bathy.mbtiles", "MBTiles file to render from")
	rootCmd.PersistentFlags().String("renderer-url", "", "upstream tile URL template with {z}, {x} and {y}")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":    "logging.level",
		"log-format":   "logging.format",
		"renderer":     "renderer.type",
		"mbtiles":      "renderer.path",
		"renderer-url": "renderer.url_template",
	})

	// Server flags
	sf := serveCmd.Flags()
	sf.String("host", "0.0.0.0", "server host")
	sf.Int("port", 8080, "server port")
	sf.String("cache-dir", "./cache", "tile cache directory")
	sf.Bool("no-cache", false, "disable the disk cache")
	sf.Bool("reject-out-of-range", false, "answer 400 for tiles outside the zoom level grid")
	sf.StringSlice("cors", nil, "allowed CORS origins (default *)")
	sf.Bool("tls", false, "enable TLS")
	sf.StringSlice("tls-domains", nil, "TLS domains")
	sf.String("tls-email", "", "TLS email for Let's Encrypt")

	bindFlags(sf, map[string]string{
		"host":                "server.host",
		"port":                "server.port",
		"cache-dir":           "cache.dir",
		"reject-out-of-range": "server.reject_out_of_range",
		"cors":                "server.cors.allowed_origins",
		"tls":                 "tls.enabled",
		"tls-domains":         "tls.domains",
		"tls-email":           "tls.email",
	})

	// Upload flags
	uf := uploadCmd.Flags()
	uf.IntP("minimum-zoom", "z", 0, "minimum zoom level")
	uf.IntP("maximum-zoom", "Z", 6, "maximum zoom level")
	uf.StringP("bucket", "b", "bathy", "target bucket or container")
	uf.IntP("concurrency", "c", 2, "number of tiles processed in parallel")
	uf.String("start", "", "resume from tile z/x/y")
	uf.Int("limit", 0, "maximum number of tiles to process (0 = all)")
	uf.String("bounds", "", "only tiles intersecting west,south,east,north")
	uf.String("storage", "local", "storage type (local, s3, azure, swift)")
	uf.String("storage-path", "./upload", "local storage path")
	uf.Int("retries", 0, "extra upload attempts per tile")

	bindFlags(uf, map[string]string{
		"minimum-zoom": "upload.min_zoom",
		"maximum-zoom": "upload.max_zoom",
		"bucket":       "upload.bucket",
		"concurrency":  "upload.concurrency",
		"start":        "upload.start",
		"limit":        "upload.limit",
		"bounds":       "upload.bounds",
		"storage":      "storage.type",
		"storage-path": "storage.local_path",
		"retries":      "upload.retries",
	})

	rootCmd.AddCommand(serveCmd, uploadCmd, versionCmd)
}

// bindFlags binds flags to viper keys. Unset flags leave config file and
// environment values in place.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		viper.Set("cache.enabled", false)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting bathytiles",
		"version", version,
		"address", cfg.Server.Address(),
		"renderer", cfg.Renderer.Type,
		"cache", cfg.Cache.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- application.Start(ctx)
	}()

	// Wait for shutdown signal or server error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Error("server error", "error", runErr)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return errors.Join(runErr, err)
	}

	logger.Info("server stopped")
	return runErr
}

func runUpload(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := app.RunUpload(ctx, cfg, logger)
	logger.Info("upload finished",
		"enqueued", stats.Enqueued,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"canceled", stats.Canceled,
		"finalized", stats.Finalized,
		"duration", stats.Duration,
	)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if stats.Failed > 0 {
		return fmt.Errorf("upload: %d of %d tiles failed", stats.Failed, stats.Completed)
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
