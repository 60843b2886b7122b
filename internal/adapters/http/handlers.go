package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/bathytiles/bathytiles/internal/domain"
)

// handleTile serves GET /tiles/{z}/{x}/{y}.pbf.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	key, err := parseTileKey(mux.Vars(r))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.config.RejectOutOfRange && !key.InRange() {
		s.writeError(w, http.StatusBadRequest, "tile "+key.String()+" is outside the zoom level grid")
		return
	}

	result, err := s.tiles.GetTile(r.Context(), key)
	if err != nil {
		s.handleTileError(w, key, err)
		return
	}
	defer func() { _ = result.Body.Close() }()

	for name, value := range result.Headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, result.Body); err != nil {
		s.logger.Warn("streaming tile failed",
			"z", key.Z, "x", key.X, "y", key.Y,
			"source", result.Source,
			"error", err,
		)
	}
}

// handleTileError maps tile service errors to HTTP responses.
func (s *Server) handleTileError(w http.ResponseWriter, key domain.TileKey, err error) {
	var renderErr *domain.RenderError
	if errors.As(err, &renderErr) {
		writeText(w, http.StatusNotFound, renderErr.Error())
		return
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	if errors.Is(err, domain.ErrCacheRead) {
		s.logger.Error("cache read failed", "z", key.Z, "x", key.X, "y", key.Y, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read cached tile")
		return
	}

	s.logger.Error("tile request failed", "z", key.Z, "x", key.X, "y", key.Y, "error", err)
	s.writeError(w, http.StatusInternalServerError, "Tile request failed")
}

// parseTileKey builds a tile key from the route variables.
func parseTileKey(vars map[string]string) (domain.TileKey, error) {
	var coords [3]int
	for i, name := range []string{"z", "x", "y"} {
		v, err := strconv.Atoi(vars[name])
		if err != nil {
			return domain.TileKey{}, errors.New("invalid " + name + " parameter")
		}
		coords[i] = v
	}
	return domain.NewTileKey(coords[0], coords[1], coords[2])
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":         boolToStatus(details.Healthy),
		"ready":          details.Ready,
		"renderer":       details.RendererSource,
		"cache_dir":      details.CacheDir,
		"pending_writes": details.PendingWrites,
		"components":     details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleOpenAPI returns the OpenAPI document as JSON.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI document")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// handleSwaggerUI serves a Swagger UI page for /openapi.json.
func (s *Server) handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, swaggerUIPage)
}

const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>bathytiles API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = () => { SwaggerUIBundle({ url: "/openapi.json", dom_id: "#swagger-ui" }); };
  </script>
</body>
</html>
`

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// writeText writes a plain-text response.
func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
