package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/flick/internal/build"
	"github.com/conneroisu/flick/internal/protocol"
	"github.com/conneroisu/flick/internal/validation"
	"github.com/conneroisu/flick/internal/version"
	"github.com/conneroisu/flick/internal/websocket"
)

// routes builds the HTTP surface. Device WebSocket upgrades are accepted on
// /ws and on any other path that is not an API route.
func (s *PreviewServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/project", s.handleProject)
	mux.HandleFunc("GET /api/modules", s.handleModules)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/clients", s.handleClients)
	mux.HandleFunc("GET /api/bytecode/{id}", s.handleBytecode)
	mux.HandleFunc("GET /api/bytecode/{id}/binary", s.handleBytecodeBinary)
	mux.HandleFunc("GET /api/files/{path...}", s.handleFile)

	assets := filepath.Join(s.root, filepath.FromSlash(s.config.Project.AssetsDir))
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(assets))))

	mux.Handle("/ws", s.manager)
	mux.HandleFunc("/", s.handleRoot)

	return s.addMiddleware(mux)
}

func (s *PreviewServer) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		handler.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "HTTP request",
			"method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin,
// or "" when it is not allowed.
func (s *PreviewServer) allowedOrigin(origin string) string {
	for _, allowed := range s.config.Server.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && allowed == origin {
			return origin
		}
	}
	return ""
}

func (s *PreviewServer) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(ctx, err, "Failed to encode response")
	}
}

func (s *PreviewServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketRequest(r) {
		s.manager.ServeHTTP(w, r)
		return
	}
	if r.URL.Path != "/" {
		s.writeJSON(r.Context(), w, http.StatusNotFound, map[string]interface{}{
			"error": "Not found",
			"path":  r.URL.Path,
		})
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"name":      "flick",
		"version":   version.GetShortVersion(),
		"websocket": "/ws",
		"features":  s.Features(),
		"clients":   s.registry.Count(),
	})
}

func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   version.GetShortVersion(),
		"timestamp": protocol.Timestamp(time.Now()),
		"features":  s.Features(),
		"clients":   s.registry.Count(),
	})
}

func (s *PreviewServer) handleProject(w http.ResponseWriter, r *http.Request) {
	if s.snapshot == nil {
		s.writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]string{
			"error": "Project not loaded",
		})
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, s.snapshot.Data())
}

func (s *PreviewServer) handleModules(w http.ResponseWriter, r *http.Request) {
	modules := s.cache.List()
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"count":     len(modules),
		"modules":   modules,
		"timestamp": protocol.Timestamp(time.Now()),
	})
}

func (s *PreviewServer) handleClients(w http.ResponseWriter, r *http.Request) {
	clients := s.registry.Clients()
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"count":   len(clients),
		"clients": clients,
	})
}

func (s *PreviewServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := s.queue.Metrics()

	s.serverMutex.RLock()
	startedAt := s.startedAt
	s.serverMutex.RUnlock()

	var uptime time.Duration
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}

	s.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"compile":      metrics.GetSnapshot(),
		"success_rate": metrics.GetSuccessRate(),
		"cache":        s.cache.Stats(),
		"queue":        s.queue.Stats(),
		"clients":      s.registry.Count(),
		"uptime_ms":    uptime.Milliseconds(),
	})
}

// lookupModule writes the 404 reply itself when id is not cached.
func (s *PreviewServer) lookupModule(w http.ResponseWriter, r *http.Request) (*build.Artifact, bool) {
	id := r.PathValue("id")
	artifact, ok := s.cache.Get(id)
	if !ok {
		s.writeJSON(r.Context(), w, http.StatusNotFound, map[string]string{
			"error":    "Module not found",
			"moduleId": id,
		})
		return nil, false
	}
	return artifact, true
}

func (s *PreviewServer) handleBytecode(w http.ResponseWriter, r *http.Request) {
	artifact, ok := s.lookupModule(w, r)
	if !ok {
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"moduleId":   artifact.ID,
		"moduleName": artifact.Name,
		"bytecode":   artifact.Payload,
		"size":       artifact.Size,
		"checksum":   artifact.Checksum,
		"compiledAt": protocol.Timestamp(artifact.CompiledAt),
		"timestamp":  protocol.Timestamp(time.Now()),
	})
}

func (s *PreviewServer) handleBytecodeBinary(w http.ResponseWriter, r *http.Request) {
	artifact, ok := s.lookupModule(w, r)
	if !ok {
		return
	}

	filename := artifact.Name + s.config.Compiler.OutputExtension
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("X-Module-Checksum", artifact.Checksum)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Payload); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to write module", "module_id", artifact.ID)
	}
}

// handleFile serves a project file relative to the project root.
func (s *PreviewServer) handleFile(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")

	full, err := validation.ResolveWithinRoot(s.root, rel)
	if err != nil {
		s.logger.Warn(r.Context(), err, "Rejected file request", "path", rel)
		s.writeJSON(r.Context(), w, http.StatusForbidden, map[string]string{
			"error": "Access denied",
			"path":  rel,
		})
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		status := http.StatusNotFound
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			status = http.StatusInternalServerError
		}
		s.writeJSON(r.Context(), w, status, map[string]string{
			"error": "File not found",
			"path":  rel,
		})
		return
	}

	http.ServeFile(w, r, full)
}
