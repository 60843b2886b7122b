package renderer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bathytiles/bathytiles/internal/domain"
	"github.com/bathytiles/bathytiles/internal/ports/output"
)

var _ output.TileRenderer = (*HTTPRenderer)(nil)

// maxTileSize bounds the body read from an upstream tile server.
const maxTileSize = 16 << 20

// HTTPRenderer fetches tiles from an upstream tile server using a URL
// template with {z}, {x} and {y} placeholders.
type HTTPRenderer struct {
	template string
	client   *http.Client
	headers  map[string]string
}

// HTTPRendererConfig holds configuration for the upstream renderer.
type HTTPRendererConfig struct {
	URLTemplate string
	Timeout     time.Duration
	Headers     map[string]string
}

// NewHTTPRenderer creates a renderer backed by an upstream tile server.
func NewHTTPRenderer(cfg HTTPRendererConfig) (*HTTPRenderer, error) {
	if cfg.URLTemplate == "" {
		return nil, &domain.ConfigError{Field: "renderer.url_template", Message: "URL template is required"}
	}
	for _, placeholder := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(cfg.URLTemplate, placeholder) {
			return nil, &domain.ConfigError{
				Field:   "renderer.url_template",
				Message: fmt.Sprintf("URL template must contain %s", placeholder),
			}
		}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPRenderer{
		template: cfg.URLTemplate,
		client:   &http.Client{Timeout: timeout},
		headers:  cfg.Headers,
	}, nil
}

// Source returns the URL template.
func (r *HTTPRenderer) Source() string {
	return r.template
}

// URL returns the upstream URL for key.
func (r *HTTPRenderer) URL(key domain.TileKey) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(key.Z),
		"{x}", strconv.Itoa(key.X),
		"{y}", strconv.Itoa(key.Y),
	).Replace(r.template)
}

// GetTile fetches a tile from upstream. Non-200 responses are errors.
func (r *HTTPRenderer) GetTile(ctx context.Context, key domain.TileKey) (*domain.Tile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	// Compressed tiles are passed through as stored upstream.
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching tile %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, errTileMissing
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("upstream returned %s for tile %s", resp.Status, key)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileSize))
	if err != nil {
		return nil, fmt.Errorf("reading tile %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, errTileMissing
	}

	headers := map[string]string{
		"Content-Type": resp.Header.Get("Content-Type"),
	}
	if headers["Content-Type"] == "" {
		headers["Content-Type"] = domain.ContentTypeProtobuf
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" {
		headers["Content-Encoding"] = enc
	}

	return &domain.Tile{Key: key, Data: data, Headers: headers}, nil
}

// Close releases idle connections.
func (r *HTTPRenderer) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
