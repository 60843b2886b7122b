package domain

import (
	"errors"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:      "z",
		Value:      -1,
		Constraint: "[0, 30]",
		Message:    "zoom must be between 0 and 30",
	}

	if err.Error() == "" {
		t.Error("Error() should not return empty string")
	}

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}
}

func TestCacheError(t *testing.T) {
	underlying := errors.New("no such file")
	key := TileKey{Z: 1, X: 0, Y: 1}

	tests := []struct {
		name      string
		op        string
		wantRead  bool
		wantWrite bool
	}{
		{"read", "read", true, false},
		{"write", "write", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &CacheError{Op: tt.op, Key: key, Err: underlying}

			if got := errors.Is(err, ErrCacheRead); got != tt.wantRead {
				t.Errorf("errors.Is(ErrCacheRead) = %v, want %v", got, tt.wantRead)
			}
			if got := errors.Is(err, ErrCacheWrite); got != tt.wantWrite {
				t.Errorf("errors.Is(ErrCacheWrite) = %v, want %v", got, tt.wantWrite)
			}
			if !errors.Is(err, underlying) {
				t.Error("CacheError should unwrap to the underlying error")
			}
		})
	}
}

func TestRenderError(t *testing.T) {
	underlying := errors.New("Tile does not exist")
	err := &RenderError{Key: TileKey{Z: 3}, Err: underlying}

	if err.Error() != "Tile does not exist" {
		t.Errorf("Error() = %q, want the renderer message", err.Error())
	}
	if !errors.Is(err, ErrRender) {
		t.Error("RenderError should match ErrRender")
	}
	if !errors.Is(err, underlying) {
		t.Error("RenderError should unwrap to the underlying error")
	}

	notFound := &RenderError{Err: ErrTileNotFound}
	if !errors.Is(notFound, ErrNotFound) {
		t.Error("RenderError wrapping ErrTileNotFound should match ErrNotFound")
	}

	empty := &RenderError{}
	if empty.Error() != ErrRender.Error() {
		t.Errorf("Error() without cause = %q", empty.Error())
	}
}

func TestUploadAndStagingErrors(t *testing.T) {
	cause := errors.New("disk full")

	upload := &UploadError{Key: TileKey{Z: 1}, Path: "/tmp/1/0/0.pbf", Err: cause}
	if !errors.Is(upload, ErrUpload) || !errors.Is(upload, cause) {
		t.Errorf("UploadError should match ErrUpload and its cause: %v", upload)
	}
	if errors.Is(upload, ErrStaging) {
		t.Error("UploadError should not match ErrStaging")
	}

	staging := &StagingError{Key: TileKey{Z: 1}, Path: "/tmp/1/0/0.pbf", Err: cause}
	if !errors.Is(staging, ErrStaging) || !errors.Is(staging, cause) {
		t.Errorf("StagingError should match ErrStaging and its cause: %v", staging)
	}
}

func TestStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  *StorageError
	}{
		{
			name: "with key",
			err: &StorageError{
				Operation: "upload",
				Key:       "0/0/0.pbf",
				Err:       errors.New("network error"),
			},
		},
		{
			name: "without key",
			err: &StorageError{
				Operation: "finalize",
				Err:       errors.New("access denied"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() == "" {
				t.Error("Error() should not return empty string")
			}
			if !errors.Is(tt.err, tt.err.Err) {
				t.Error("Unwrap should return the underlying error")
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "upload.concurrency", Message: "must be at least 1"}

	if err.Error() == "" {
		t.Error("Error() should not return empty string")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ConfigError should unwrap to ErrInvalidInput")
	}
}

func TestSentinelHierarchy(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		parent error
	}{
		{"tile not found", ErrTileNotFound, ErrNotFound},
		{"invalid tile key", ErrInvalidTileKey, ErrInvalidInput},
		{"cache read", ErrCacheRead, ErrInternal},
		{"cache write", ErrCacheWrite, ErrInternal},
		{"renderer closed", ErrRendererClosed, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.parent) {
				t.Errorf("%v should wrap %v", tt.err, tt.parent)
			}
		})
	}
}
