package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector("test")

	c.IncTileRequests("cache")
	c.IncTileRequests("cache")
	c.IncTileRequests("render")
	c.IncCacheWrites("dropped")
	c.IncStorageOperations("upload", true)
	c.IncStorageOperations("upload", false)
	c.IncPipelineTasks("done")
	c.SetPipelineInFlight(3)
	c.ObserveRenderDuration(20*time.Millisecond, true)
	c.ObserveStorageDuration("upload", time.Second)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"cache requests", testutil.ToFloat64(c.tileRequests.WithLabelValues("cache")), 2},
		{"render requests", testutil.ToFloat64(c.tileRequests.WithLabelValues("render")), 1},
		{"dropped writes", testutil.ToFloat64(c.cacheWrites.WithLabelValues("dropped")), 1},
		{"upload success", testutil.ToFloat64(c.storageOperations.WithLabelValues("upload", "success")), 1},
		{"upload error", testutil.ToFloat64(c.storageOperations.WithLabelValues("upload", "error")), 1},
		{"done tasks", testutil.ToFloat64(c.pipelineTasks.WithLabelValues("done")), 1},
		{"in flight", testutil.ToFloat64(c.pipelineInFlight), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(c.renderDuration); n != 1 {
		t.Errorf("render duration series = %d, want 1", n)
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Each collector owns a registry, so two can coexist.
	a := NewCollector("test")
	b := NewCollector("test")

	a.IncTileRequests("cache")
	if got := testutil.ToFloat64(b.tileRequests.WithLabelValues("cache")); got != 0 {
		t.Errorf("second collector counted %v", got)
	}
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	c := NewCollector("test")

	r := mux.NewRouter()
	r.Use(c.Middleware)
	r.HandleFunc("/tiles/{z}/{x}/{y}.pbf", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/tiles/1/0/0.pbf", "/tiles/2/3/1.pbf"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues(http.MethodGet, "/tiles/{z}/{x}/{y}.pbf", "4xx"))
	if got != 2 {
		t.Errorf("requests for route template = %v, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector("bathytiles")
	c.IncTileRequests("cache")

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `bathytiles_tile_requests_total{source="cache"} 1`) {
		t.Error("exposition should contain the tile request counter")
	}
}

func TestStatusToString(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		304: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "unknown",
		700: "unknown",
	}
	for code, want := range tests {
		if got := statusToString(code); got != want {
			t.Errorf("statusToString(%d) = %q, want %q", code, got, want)
		}
	}
}
