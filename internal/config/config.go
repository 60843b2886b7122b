// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/viper"

	"github.com/bathytiles/bathytiles/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Renderer RendererConfig `mapstructure:"renderer"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Storage  StorageConfig  `mapstructure:"storage"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
	// RejectOutOfRange answers 400 for tiles outside the 2^z grid instead of
	// passing them to the renderer.
	RejectOutOfRange bool `mapstructure:"reject_out_of_range"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["*"], ["https://example.com", "*.sub.domain.tld"]
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// CacheConfig holds disk cache configuration.
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	WriteQueue int    `mapstructure:"write_queue"`
	Writers    int    `mapstructure:"writers"`
}

// RendererConfig holds tile source configuration.
type RendererConfig struct {
	Type          string            `mapstructure:"type"` // mbtiles, http
	Path          string            `mapstructure:"path"`
	URLTemplate   string            `mapstructure:"url_template"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	Dedupe        bool              `mapstructure:"dedupe"`
	Watch         bool              `mapstructure:"watch"`
	WatchDebounce time.Duration     `mapstructure:"watch_debounce"`
}

// UploadConfig holds batch upload configuration.
type UploadConfig struct {
	MinZoom             int           `mapstructure:"min_zoom"`
	MaxZoom             int           `mapstructure:"max_zoom"`
	Bucket              string        `mapstructure:"bucket"`
	Concurrency         int           `mapstructure:"concurrency"`
	Start               string        `mapstructure:"start"`  // resume tile, z/x/y
	Limit               int           `mapstructure:"limit"`  // 0 = unbounded
	Bounds              string        `mapstructure:"bounds"` // west,south,east,north
	StagingDir          string        `mapstructure:"staging_dir"`
	RenderTimeout       time.Duration `mapstructure:"render_timeout"`
	UploadTimeout       time.Duration `mapstructure:"upload_timeout"`
	Retries             int           `mapstructure:"retries"`
	RetryInterval       time.Duration `mapstructure:"retry_interval"`
	AbortOnStagingError bool          `mapstructure:"abort_on_staging_error"`
	ContentType         string        `mapstructure:"content_type"`
	ContentEncoding     string        `mapstructure:"content_encoding"`
	ProgressEvery       int           `mapstructure:"progress_every"`
}

// StorageConfig holds remote object store configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, swift, local
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	Swift     SwiftConfig `mapstructure:"swift"`
}

// S3Config holds AWS S3 configuration. The bucket is upload.bucket.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicRead      bool   `mapstructure:"public_read"`
}

// AzureConfig holds Azure Blob Storage configuration. The container is upload.bucket.
type AzureConfig struct {
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// SwiftConfig holds OpenStack Swift configuration. The container is upload.bucket.
type SwiftConfig struct {
	AuthURL    string        `mapstructure:"auth_url"`
	Username   string        `mapstructure:"username"`
	APIKey     string        `mapstructure:"api_key"`
	StorageURL string        `mapstructure:"storage_url"`
	Token      string        `mapstructure:"token"`
	Prefix     string        `mapstructure:"prefix"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled     bool         `mapstructure:"enabled"`
	Domains     []string     `mapstructure:"domains"`
	Email       string       `mapstructure:"email"`
	CacheDir    string       `mapstructure:"cache_dir"`
	Staging     bool         `mapstructure:"staging"`      // Use Let's Encrypt staging
	Challenge   string       `mapstructure:"challenge"`    // http, dns
	HTTPAddress string       `mapstructure:"http_address"` // HTTP-01 listener
	DNS         TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig holds Azure DNS settings for DNS-01 challenges.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// DefaultCORSHeaders are the request headers allowed from browsers.
var DefaultCORSHeaders = []string{"Origin", "X-Requested-With", "Content-Type", "Accept"}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.cors.allowed_headers", DefaultCORSHeaders)
	viper.SetDefault("server.reject_out_of_range", false)

	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.dir", "./cache")
	viper.SetDefault("cache.write_queue", 256)
	viper.SetDefault("cache.writers", 1)

	// Renderer defaults
	viper.SetDefault("renderer.type", "mbtiles")
	viper.SetDefault("renderer.path", "./data/bathy.mbtiles")
	viper.SetDefault("renderer.timeout", 30*time.Second)
	viper.SetDefault("renderer.dedupe", true)
	viper.SetDefault("renderer.watch", true)
	viper.SetDefault("renderer.watch_debounce", 2*time.Second)

	// Upload defaults
	viper.SetDefault("upload.min_zoom", 0)
	viper.SetDefault("upload.max_zoom", 6)
	viper.SetDefault("upload.bucket", "bathy")
	viper.SetDefault("upload.concurrency", 2)
	viper.SetDefault("upload.limit", 0)
	viper.SetDefault("upload.staging_dir", "/tmp")
	viper.SetDefault("upload.render_timeout", time.Minute)
	viper.SetDefault("upload.upload_timeout", 5*time.Minute)
	viper.SetDefault("upload.retries", 0)
	viper.SetDefault("upload.retry_interval", 500*time.Millisecond)
	viper.SetDefault("upload.abort_on_staging_error", false)
	viper.SetDefault("upload.content_type", domain.ContentTypeProtobuf)
	viper.SetDefault("upload.content_encoding", domain.ContentEncodingGzip)
	viper.SetDefault("upload.progress_every", 100)

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./upload")
	viper.SetDefault("storage.swift.timeout", 5*time.Minute)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)
	viper.SetDefault("tls.challenge", "http")
	viper.SetDefault("tls.http_address", ":80")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.namespace", "bathytiles")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("BATHYTILES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/bathytiles")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the settings shared by all commands.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &domain.ConfigError{Field: "server.port", Message: fmt.Sprintf("invalid port: %d", c.Server.Port)}
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
		}
		if c.TLS.Email == "" {
			return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
		}
		switch c.TLS.Challenge {
		case "http", "":
		case "dns":
			if c.TLS.DNS.SubscriptionID == "" || c.TLS.DNS.ResourceGroupName == "" {
				return &domain.ConfigError{Field: "tls.dns", Message: "DNS challenge requires subscription_id and resource_group_name"}
			}
		default:
			return &domain.ConfigError{Field: "tls.challenge", Message: "unknown challenge: " + c.TLS.Challenge}
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return &domain.ConfigError{Field: "metrics.port", Message: fmt.Sprintf("invalid port: %d", c.Metrics.Port)}
	}

	if c.Cache.Enabled && c.Cache.Dir == "" {
		return &domain.ConfigError{Field: "cache.dir", Message: "cache directory is required"}
	}

	switch c.Renderer.Type {
	case "mbtiles":
		if c.Renderer.Path == "" {
			return &domain.ConfigError{Field: "renderer.path", Message: "MBTiles path is required"}
		}
	case "http":
		if c.Renderer.URLTemplate == "" {
			return &domain.ConfigError{Field: "renderer.url_template", Message: "URL template is required"}
		}
	default:
		return &domain.ConfigError{Field: "renderer.type", Message: "unknown renderer type: " + c.Renderer.Type}
	}

	switch c.Logging.Format {
	case "json", "text", "":
	default:
		return &domain.ConfigError{Field: "logging.format", Message: "unknown log format: " + c.Logging.Format}
	}

	return nil
}

// ValidateUpload validates the upload and storage settings.
func (c *Config) ValidateUpload() error {
	u := c.Upload
	if u.MinZoom < 0 || u.MaxZoom > domain.MaxZoom || u.MinZoom > u.MaxZoom {
		return &domain.ConfigError{
			Field:   "upload.min_zoom",
			Message: fmt.Sprintf("invalid zoom range %d-%d", u.MinZoom, u.MaxZoom),
		}
	}
	if u.Concurrency < 1 {
		return &domain.ConfigError{Field: "upload.concurrency", Message: "must be at least 1"}
	}
	if u.Limit < 0 {
		return &domain.ConfigError{Field: "upload.limit", Message: "must not be negative"}
	}
	if u.Retries < 0 {
		return &domain.ConfigError{Field: "upload.retries", Message: "must not be negative"}
	}
	if u.Bucket == "" {
		return &domain.ConfigError{Field: "upload.bucket", Message: "bucket is required"}
	}
	if u.StagingDir == "" {
		return &domain.ConfigError{Field: "upload.staging_dir", Message: "staging directory is required"}
	}
	if _, err := u.StartKey(); err != nil {
		return &domain.ConfigError{Field: "upload.start", Message: err.Error()}
	}
	if _, err := u.ParsedBounds(); err != nil {
		return &domain.ConfigError{Field: "upload.bounds", Message: err.Error()}
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return &domain.ConfigError{Field: "storage.local_path", Message: "local storage path is required"}
		}
	case "s3":
		if c.Storage.S3.Region == "" {
			return &domain.ConfigError{Field: "storage.s3.region", Message: "S3 region is required"}
		}
	case "azure":
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return &domain.ConfigError{Field: "storage.azure", Message: "azure account name or connection string is required"}
		}
	case "swift":
		s := c.Storage.Swift
		if s.StorageURL == "" && s.AuthURL == "" {
			return &domain.ConfigError{Field: "storage.swift", Message: "auth_url or storage_url is required"}
		}
		if s.StorageURL != "" && s.Token == "" && s.AuthURL == "" {
			return &domain.ConfigError{Field: "storage.swift.token", Message: "token is required with storage_url"}
		}
	default:
		return &domain.ConfigError{Field: "storage.type", Message: "unknown storage type: " + c.Storage.Type}
	}

	return nil
}

// StartKey parses the resume tile. It returns nil when no start is set.
func (u *UploadConfig) StartKey() (*domain.TileKey, error) {
	if strings.TrimSpace(u.Start) == "" {
		return nil, nil
	}
	key, err := domain.ParseTileKey(u.Start)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ParsedBounds parses the "west,south,east,north" bounds. It returns nil
// when no bounds are set.
func (u *UploadConfig) ParsedBounds() (*orb.Bound, error) {
	if strings.TrimSpace(u.Bounds) == "" {
		return nil, nil
	}

	parts := strings.Split(u.Bounds, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bounds %q must be west,south,east,north", u.Bounds)
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bounds %q: %w", u.Bounds, err)
		}
		v[i] = f
	}

	west, south, east, north := v[0], v[1], v[2], v[3]
	if west < -180 || east > 180 || south < -90 || north > 90 || west > east || south > north {
		return nil, fmt.Errorf("bounds %q are out of range", u.Bounds)
	}

	return &orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}, nil
}

// Metadata returns the headers uploaded objects are stored with.
func (u *UploadConfig) Metadata() domain.ObjectMetadata {
	return domain.ObjectMetadata{
		ContentType:     u.ContentType,
		ContentEncoding: u.ContentEncoding,
	}
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
