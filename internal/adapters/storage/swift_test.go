package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bathytiles/bathytiles/internal/domain"
)

type swiftRecorder struct {
	mu       sync.Mutex
	token    string
	objects  map[string]string
	headers  map[string]http.Header
	posts    []http.Header
	authHits int
}

func newSwiftRecorder() *swiftRecorder {
	return &swiftRecorder{token: "tok", objects: map[string]string{}, headers: map[string]http.Header{}}
}

// expireToken invalidates the issued token; the next authentication hands
// out a new one.
func (r *swiftRecorder) expireToken(next string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = next
}

func newSwiftServer(t *testing.T, rec *swiftRecorder) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		defer rec.mu.Unlock()

		if r.URL.Path == "/auth/v1.0" {
			rec.authHits++
			if r.Header.Get("X-Auth-User") != "user" || r.Header.Get("X-Auth-Key") != "key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("X-Storage-Url", srv.URL+"/v1/AUTH_test")
			w.Header().Set("X-Auth-Token", rec.token)
			w.WriteHeader(http.StatusOK)
			return
		}

		if r.Header.Get("X-Auth-Token") != rec.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			rec.objects[r.URL.Path] = string(body)
			rec.headers[r.URL.Path] = r.Header.Clone()
			w.WriteHeader(http.StatusCreated)
		case http.MethodPost:
			rec.posts = append(rec.posts, r.Header.Clone())
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSwiftUploaderWithAuth(t *testing.T) {
	rec := newSwiftRecorder()
	srv := newSwiftServer(t, rec)

	u, err := NewSwiftUploader(SwiftConfig{
		Container: "bathy",
		AuthURL:   srv.URL + "/auth/v1.0",
		Username:  "user",
		APIKey:    "key",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewSwiftUploader() error = %v", err)
	}

	ctx := context.Background()
	for _, key := range []string{"0/0/0.pbf", "1/1/0.pbf"} {
		if err := u.Upload(ctx, writeStaged(t, key), key, domain.DefaultObjectMetadata()); err != nil {
			t.Fatalf("Upload(%s) error = %v", key, err)
		}
	}
	if err := u.Finalize(ctx); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if rec.authHits != 1 {
		t.Errorf("auth requests = %d, want 1", rec.authHits)
	}

	path := "/v1/AUTH_test/bathy/1/1/0.pbf"
	if rec.objects[path] != "1/1/0.pbf" {
		t.Errorf("object %s = %q", path, rec.objects[path])
	}
	h := rec.headers[path]
	if h.Get("Content-Type") != domain.ContentTypeProtobuf || h.Get("Content-Encoding") != "gzip" {
		t.Errorf("object headers = %v", h)
	}

	if len(rec.posts) != 1 {
		t.Fatalf("container POSTs = %d, want 1", len(rec.posts))
	}
	if got := rec.posts[0].Get("X-Container-Meta-Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q, want *", got)
	}
	if got := rec.posts[0].Get("X-Container-Read"); got != ".r:*" {
		t.Errorf("container read = %q", got)
	}
}

func TestSwiftUploaderWithToken(t *testing.T) {
	rec := newSwiftRecorder()
	srv := newSwiftServer(t, rec)

	u, err := NewSwiftUploader(SwiftConfig{
		Container:  "bathy",
		StorageURL: srv.URL + "/v1/AUTH_test/",
		Token:      "tok",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewSwiftUploader() error = %v", err)
	}

	if err := u.Upload(context.Background(), writeStaged(t, "x"), "2/3/1.pbf", domain.ObjectMetadata{}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if rec.authHits != 0 {
		t.Errorf("auth requests = %d, want 0", rec.authHits)
	}
	if _, ok := rec.objects["/v1/AUTH_test/bathy/2/3/1.pbf"]; !ok {
		t.Errorf("object not stored, have %v", rec.objects)
	}
}

func TestSwiftUploaderReauthenticatesOnExpiredToken(t *testing.T) {
	rec := newSwiftRecorder()
	srv := newSwiftServer(t, rec)

	u, err := NewSwiftUploader(SwiftConfig{
		Container: "bathy",
		AuthURL:   srv.URL + "/auth/v1.0",
		Username:  "user",
		APIKey:    "key",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewSwiftUploader() error = %v", err)
	}

	ctx := context.Background()
	if err := u.Upload(ctx, writeStaged(t, "first"), "0/0/0.pbf", domain.DefaultObjectMetadata()); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	rec.expireToken("tok-2")

	keys := []string{"1/0/0.pbf", "1/0/1.pbf", "1/1/0.pbf"}
	for _, key := range keys {
		if err := u.Upload(ctx, writeStaged(t, key), key, domain.DefaultObjectMetadata()); err != nil {
			t.Fatalf("Upload(%s) after token expiry error = %v", key, err)
		}
	}
	if err := u.Finalize(ctx); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.authHits != 2 {
		t.Errorf("auth requests = %d, want 2", rec.authHits)
	}
	for _, key := range keys {
		path := "/v1/AUTH_test/bathy/" + key
		if rec.objects[path] != key {
			t.Errorf("object %s = %q, want %q", path, rec.objects[path], key)
		}
	}
}

func TestSwiftUploaderStaleTokenWithCredentials(t *testing.T) {
	rec := newSwiftRecorder()
	srv := newSwiftServer(t, rec)

	u, err := NewSwiftUploader(SwiftConfig{
		Container:  "bathy",
		StorageURL: srv.URL + "/v1/AUTH_test",
		Token:      "stale",
		AuthURL:    srv.URL + "/auth/v1.0",
		Username:   "user",
		APIKey:     "key",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewSwiftUploader() error = %v", err)
	}

	if err := u.Upload(context.Background(), writeStaged(t, "tile"), "3/2/1.pbf", domain.ObjectMetadata{}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.authHits != 1 {
		t.Errorf("auth requests = %d, want 1", rec.authHits)
	}
	if got := rec.objects["/v1/AUTH_test/bathy/3/2/1.pbf"]; got != "tile" {
		t.Errorf("object content = %q, want %q", got, "tile")
	}
}

func TestSwiftUploaderRejected(t *testing.T) {
	rec := newSwiftRecorder()
	srv := newSwiftServer(t, rec)

	u, err := NewSwiftUploader(SwiftConfig{
		Container:  "bathy",
		StorageURL: srv.URL + "/v1/AUTH_test",
		Token:      "wrong",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewSwiftUploader() error = %v", err)
	}

	if err := u.Upload(context.Background(), writeStaged(t, "x"), "0/0/0.pbf", domain.ObjectMetadata{}); err == nil {
		t.Error("Upload() should fail with an invalid token")
	}
}

func TestNewSwiftUploaderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SwiftConfig
	}{
		{"no container", SwiftConfig{StorageURL: "http://x"}},
		{"no endpoint", SwiftConfig{Container: "bathy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSwiftUploader(tt.cfg, testLogger()); err == nil {
				t.Error("NewSwiftUploader() should fail")
			}
		})
	}
}
