package output

import "time"

// Tile sources reported to metrics.
const (
	SourceCache  = "cache"
	SourceRender = "render"
	SourceError  = "error"
)

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncTileRequests counts a served tile request by source.
	IncTileRequests(source string)

	// ObserveRenderDuration records a renderer call.
	ObserveRenderDuration(duration time.Duration, success bool)

	// IncCacheWrites counts background cache writes by outcome (success, error, dropped).
	IncCacheWrites(outcome string)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)

	// IncPipelineTasks counts pipeline tasks reaching a terminal state.
	IncPipelineTasks(state string)

	// SetPipelineInFlight sets the number of tasks currently being processed.
	SetPipelineInFlight(count int)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncTileRequests implements MetricsCollector.
func (n *NoOpMetrics) IncTileRequests(_ string) {}

// ObserveRenderDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveRenderDuration(_ time.Duration, _ bool) {}

// IncCacheWrites implements MetricsCollector.
func (n *NoOpMetrics) IncCacheWrites(_ string) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}

// IncPipelineTasks implements MetricsCollector.
func (n *NoOpMetrics) IncPipelineTasks(_ string) {}

// SetPipelineInFlight implements MetricsCollector.
func (n *NoOpMetrics) SetPipelineInFlight(_ int) {}
