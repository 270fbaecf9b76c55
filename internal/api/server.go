// Package api exposes the leveling service over HTTP JSON: the current
// mesh, probing run control and progress, run history, and one-shot
// compensation requests.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/siganberg/meshlevel/internal/httputil"
	"github.com/siganberg/meshlevel/internal/level"
	"github.com/siganberg/meshlevel/internal/mesh"
	"github.com/siganberg/meshlevel/internal/report"
	"github.com/siganberg/meshlevel/internal/version"
)

// ANSI escape codes for request logging
const (
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Server handles the HTTP surface over a leveling service.
type Server struct {
	svc *level.Service
	log *zap.SugaredLogger

	// baseCtx is the lifetime probing runs started over HTTP inherit.
	baseCtx context.Context
}

// NewServer creates a Server over svc. Probing runs started via the API run
// under baseCtx, so shutting the process down cancels them cooperatively.
func NewServer(svc *level.Service, baseCtx context.Context, log *zap.SugaredLogger) *Server {
	return &Server{svc: svc, log: log, baseCtx: baseCtx}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// loggingMiddleware logs method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		s.log.Infof("[%s] %s %s %vms", statusCodeColor(lrw.statusCode), r.Method, r.URL.Path, time.Since(start).Milliseconds())
	})
}

// Handler returns the server's routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/mesh", s.handleMesh)
	mux.HandleFunc("/api/mesh/report", s.handleMeshReport)
	mux.HandleFunc("/api/probe", s.handleProbeStart)
	mux.HandleFunc("/api/probe/stop", s.handleProbeStop)
	mux.HandleFunc("/api/probe/status", s.handleProbeStatus)
	mux.HandleFunc("/api/compensate", s.handleCompensate)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/version", s.handleVersion)
	return s.loggingMiddleware(mux)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"version": version.Version()})
}

func (s *Server) handleMesh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	m := s.svc.Mesh()
	if m == nil {
		httputil.NotFound(w, "no surface mesh available")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mesh.Document{
		Version:    mesh.DocumentVersion,
		GridParams: m.Params,
		Mesh:       m.Points,
	})
}

func (s *Server) handleMeshReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	m := s.svc.Mesh()
	if m == nil {
		httputil.NotFound(w, "no surface mesh available")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.Render(w, m); err != nil {
		s.log.Errorw("failed to render mesh report", "error", err)
	}
}

type probeStartRequest struct {
	// ProgramPath is required in bounds grid mode, ignored otherwise.
	ProgramPath string `json:"program_path,omitempty"`
}

func (s *Server) handleProbeStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req probeStartRequest
	// an empty body is fine; size-mode runs need no program
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	grid, anchor, err := s.svc.GridFromSettings(req.ProgramPath)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.svc.StartProbe(s.baseCtx, s.svc.ProbeParams(grid, anchor)); err != nil {
		httputil.Conflict(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "probing"})
}

func (s *Server) handleProbeStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.svc.StopProbe() {
		httputil.NotFound(w, "no probing run active")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleProbeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	progress, running := s.svc.Probing()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"running":  running,
		"progress": progress,
	})
}

func (s *Server) handleCompensate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req level.ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.ProgramPath == "" {
		httputil.BadRequest(w, "program_path is required")
		return
	}
	if err := s.svc.SubmitApply(req); err != nil {
		switch {
		case errors.Is(err, level.ErrNoMesh), errors.Is(err, level.ErrApplyPending):
			httputil.Conflict(w, err.Error())
		default:
			httputil.BadRequest(w, err.Error())
		}
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	runs, err := s.svc.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}
