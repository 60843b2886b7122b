package renderer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bathytiles/bathytiles/internal/domain"
)

func TestNewHTTPRenderer(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantErr  bool
	}{
		{"valid", "http://tiles.example.com/{z}/{x}/{y}.pbf", false},
		{"empty", "", true},
		{"missing y", "http://tiles.example.com/{z}/{x}.pbf", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPRenderer(HTTPRendererConfig{URLTemplate: tt.template})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewHTTPRenderer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPRendererURL(t *testing.T) {
	r, err := NewHTTPRenderer(HTTPRendererConfig{URLTemplate: "http://up/{z}/{x}/{y}.pbf?z={z}"})
	if err != nil {
		t.Fatalf("NewHTTPRenderer() error = %v", err)
	}

	want := "http://up/7/12/34.pbf?z=7"
	if got := r.URL(domain.TileKey{Z: 7, X: 12, Y: 34}); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestHTTPRendererGetTile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/1/0/0.pbf":
			if r.Header.Get("X-Api-Key") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/x-protobuf")
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(gzipTile)
		case "/1/1/1.pbf":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r, err := NewHTTPRenderer(HTTPRendererConfig{
		URLTemplate: srv.URL + "/{z}/{x}/{y}.pbf",
		Headers:     map[string]string{"X-Api-Key": "secret"},
	})
	if err != nil {
		t.Fatalf("NewHTTPRenderer() error = %v", err)
	}
	defer func() { _ = r.Close() }()

	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		tile, err := r.GetTile(ctx, domain.TileKey{Z: 1, X: 0, Y: 0})
		if err != nil {
			t.Fatalf("GetTile() error = %v", err)
		}
		if string(tile.Data) != string(gzipTile) {
			t.Errorf("Data = %v, want %v", tile.Data, gzipTile)
		}
		if tile.Headers["Content-Encoding"] != "gzip" {
			t.Errorf("Content-Encoding = %q", tile.Headers["Content-Encoding"])
		}
		if tile.Headers["Content-Type"] != domain.ContentTypeProtobuf {
			t.Errorf("Content-Type = %q", tile.Headers["Content-Type"])
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := r.GetTile(ctx, domain.TileKey{Z: 1, X: 1, Y: 0})
		if !errors.Is(err, domain.ErrTileNotFound) {
			t.Errorf("GetTile() error = %v, want ErrTileNotFound", err)
		}
	})

	t.Run("upstream failure", func(t *testing.T) {
		_, err := r.GetTile(ctx, domain.TileKey{Z: 1, X: 1, Y: 1})
		if err == nil || errors.Is(err, domain.ErrTileNotFound) {
			t.Errorf("GetTile() error = %v, want upstream error", err)
		}
	})
}
