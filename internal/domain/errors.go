package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrTileNotFound    = fmt.Errorf("tile: %w", ErrNotFound)
	ErrInvalidTileKey  = fmt.Errorf("tile key: %w", ErrInvalidInput)
	ErrCacheRead       = fmt.Errorf("cache read: %w", ErrInternal)
	ErrCacheWrite      = fmt.Errorf("cache write: %w", ErrInternal)
	ErrRender          = errors.New("render failed")
	ErrUpload          = errors.New("upload failed")
	ErrStaging         = errors.New("staging failed")
	ErrRendererClosed  = fmt.Errorf("renderer closed: %w", ErrUnavailable)
	ErrStorageNotReady = fmt.Errorf("storage: %w", ErrUnavailable)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// CacheError represents a failed disk cache operation.
type CacheError struct {
	Op  string  // "read" or "write"
	Key TileKey // Tile being read or written
	Err error   // Underlying error
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *CacheError) Unwrap() error {
	return e.Err
}

// Is matches ErrCacheRead / ErrCacheWrite based on the operation.
func (e *CacheError) Is(target error) bool {
	switch target {
	case ErrCacheRead:
		return e.Op == "read"
	case ErrCacheWrite:
		return e.Op == "write"
	}
	return false
}

// RenderError is returned when the renderer could not produce a tile.
type RenderError struct {
	Key TileKey
	Err error
}

// Error implements the error interface. The message is the renderer's own
// message so it can be passed to HTTP clients unchanged.
func (e *RenderError) Error() string {
	if e.Err == nil {
		return ErrRender.Error()
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *RenderError) Unwrap() []error {
	return []error{ErrRender, e.Err}
}

// UploadError represents a failed upload of a staged tile.
type UploadError struct {
	Key  TileKey
	Path string
	Err  error
}

// Error implements the error interface.
func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s from %s: %v", e.Key, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *UploadError) Unwrap() []error {
	return []error{ErrUpload, e.Err}
}

// StagingError represents a local filesystem failure while staging a tile.
type StagingError struct {
	Key  TileKey
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s at %s: %v", e.Key, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StagingError) Unwrap() []error {
	return []error{ErrStaging, e.Err}
}

// StorageError represents an error during remote storage operations.
type StorageError struct {
	Operation string // Operation that failed (upload, finalize, ...)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
