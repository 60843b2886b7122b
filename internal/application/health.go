package application

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/bathytiles/bathytiles/internal/ports/input"
)

var _ input.HealthChecker = (*HealthService)(nil)

// Component statuses.
const (
	statusOK       = "ok"
	statusError    = "error"
	statusDisabled = "disabled"
	statusLoading  = "loading"
)

// pendingWriter reports queued cache writes.
type pendingWriter interface {
	PendingWrites() int
}

// HealthService provides health check functionality.
type HealthService struct {
	rendererSource string
	cacheDir       string
	writes         pendingWriter
	ready          atomic.Bool
}

// NewHealthService creates a new health service. cacheDir is empty when the
// disk cache is disabled; writes may be nil.
func NewHealthService(rendererSource, cacheDir string, writes pendingWriter) *HealthService {
	return &HealthService{
		rendererSource: rendererSource,
		cacheDir:       cacheDir,
		writes:         writes,
	}
}

// SetReady marks the renderer as loaded (or not).
func (s *HealthService) SetReady(ready bool) {
	s.ready.Store(ready)
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true // Basic health check
}

// IsReady returns true once the renderer is loaded.
func (s *HealthService) IsReady(_ context.Context) bool {
	return s.ready.Load()
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := map[string]string{
		"renderer": statusLoading,
		"cache":    s.cacheStatus(),
	}
	if s.IsReady(ctx) {
		components["renderer"] = statusOK
	}

	var pending int
	if s.writes != nil {
		pending = s.writes.PendingWrites()
	}

	return input.HealthDetails{
		Healthy:        s.IsHealthy(ctx),
		Ready:          s.IsReady(ctx),
		RendererSource: s.rendererSource,
		CacheDir:       s.cacheDir,
		PendingWrites:  pending,
		Components:     components,
	}
}

func (s *HealthService) cacheStatus() string {
	if s.cacheDir == "" {
		return statusDisabled
	}
	info, err := os.Stat(s.cacheDir)
	if err != nil || !info.IsDir() {
		return statusError
	}
	return statusOK
}
