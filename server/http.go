// Package server implements the front door (C9): a net/http.ServeMux
// mirroring every Tool Surface operation as a REST route plus a /ws upgrade
// wired to the Connection Hub, and a stdio line-delimited JSON loop for
// tool-call clients that never open a socket. Grounded on internal/web/server.go's
// Start(addr)/route-wiring/Shutdown shape and internal/web/api.go's jsonResponse/
// jsonError idiom, generalized from page+API routes to one route per named
// Tool Surface operation (SPEC_FULL.md §4.9).
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/processd/processd/hub"
	"github.com/processd/processd/toolsurface"
)

// Server is the HTTP+WebSocket front door.
type Server struct {
	surface *toolsurface.Surface
	hub     *hub.Hub
	logger  *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New builds a Server wired to the Tool Surface and Connection Hub.
func New(surface *toolsurface.Surface, h *hub.Hub, logger *slog.Logger) *Server {
	return &Server{surface: surface, hub: h, logger: logger}
}

// operationRoutes maps one REST endpoint to the Tool Surface operation name
// it mirrors (§4.9: "every Tool Surface operation is reachable as REST").
var operationRoutes = []struct {
	Method string
	Path   string
	Op     string
}{
	{"POST", "/api/processes", "process.start"},
	{"POST", "/api/processes/{id}/stop", "process.stop"},
	{"GET", "/api/processes", "process.list"},
	{"GET", "/api/processes/{id}", "process.get"},
	{"GET", "/api/processes/{id}/logs", "process.logs"},

	{"POST", "/api/queue", "queue.submit"},
	{"GET", "/api/queue", "queue.status"},
	{"PATCH", "/api/queue/config", "queue.config"},
	{"POST", "/api/queue/pause", "queue.pause"},
	{"POST", "/api/queue/resume", "queue.resume"},
	{"DELETE", "/api/queue/{logicalId}", "queue.cancel"},

	{"POST", "/api/issues", "issue.create"},
	{"GET", "/api/issues/{id}", "issue.get"},
	{"GET", "/api/issues", "issue.list"},
	{"PATCH", "/api/issues/{id}", "issue.update"},
	{"DELETE", "/api/issues/{id}", "issue.delete"},

	{"GET", "/api/milestone", "milestone.get"},
	{"PUT", "/api/milestone", "milestone.set"},

	{"POST", "/api/fragments", "fragment.create"},
	{"GET", "/api/fragments/{id}", "fragment.read"},
	{"PATCH", "/api/fragments/{id}", "fragment.update"},
	{"DELETE", "/api/fragments/{id}", "fragment.delete"},
	{"GET", "/api/fragments", "fragment.list"},
	{"GET", "/api/fragments/search/title", "fragment.searchByTitle"},
	{"GET", "/api/fragments/search/similar", "fragment.searchSimilar"},
	{"GET", "/api/fragments/search/advanced", "fragment.searchAdvanced"},
	{"GET", "/api/fragments/stats", "fragment.stats"},
	{"GET", "/api/fragments/{id}/links", "link.fragmentWithLinks"},

	{"POST", "/api/links", "link.create"},
	{"DELETE", "/api/links/{id}", "link.delete"},
	{"GET", "/api/links", "link.query"},
	{"POST", "/api/links/traverse", "link.traverse"},
}

// Handler builds the routed http.Handler: one route per Tool Surface
// operation, plus the /ws upgrade endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	for _, route := range operationRoutes {
		op := route.Op
		mux.HandleFunc(route.Method+" "+route.Path, func(w http.ResponseWriter, r *http.Request) {
			s.handleOperation(w, r, op)
		})
	}

	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s.withLogging(mux)
}

// handleOperation decodes path params + JSON body into one args map and
// dispatches through the Tool Surface, mirroring internal/web/api.go's
// decode -> call-domain -> encode-response shape.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request, op string) {
	args := map[string]any{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil && err.Error() != "EOF" {
			s.jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	for _, key := range pathParamNames(op) {
		if v := r.PathValue(key); v != "" {
			args[key] = v
		}
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			args[key] = values[0]
		}
	}

	resp := s.surface.Dispatch(r.Context(), op, args)
	status := http.StatusOK
	if resp.IsError {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode response", "op", op, "error", err)
	}
}

// pathParamNames lists the {brace} path params each route's PathValue must
// be folded into args under, keyed by operation name.
func pathParamNames(op string) []string {
	switch op {
	case "process.stop", "process.get", "process.logs":
		return []string{"id"}
	case "queue.cancel":
		return []string{"logicalId"}
	case "issue.get", "issue.update", "issue.delete":
		return []string{"id"}
	case "fragment.read", "fragment.update", "fragment.delete", "link.fragmentWithLinks":
		return []string{"id"}
	case "link.delete":
		return []string{"id"}
	default:
		return nil
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	metadata := map[string]any{"remoteAddr": r.RemoteAddr}
	if _, err := s.hub.Upgrade(w, r, metadata); err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		s.logger.Error("failed to encode JSON error response", "error", err)
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// Start runs the HTTP server on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("starting http server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and closes all hub connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.hub.CloseAll()
		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
	})
	return err
}
