// Package httpapi implements the single web-triggered entry point named in
// §4.1/§5: a caller bound cancellation token for running a pipeline cycle
// over HTTP rather than the CLI, narrow and operational rather than a web
// UI (§1 Non-goal). Grounded on the teacher's internal/server package
// (Server wraps an app, owns its own *http.Server, exposes Start/Shutdown),
// routed with gorilla/mux instead of the teacher's bare ServeMux.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/orchestrator"
)

// CycleRunner is the subset of *orchestrator.Orchestrator the trigger
// endpoint needs, narrowed so tests can substitute a fake.
type CycleRunner interface {
	RunCycle(ctx context.Context, mode orchestrator.Mode) error
}

// Server exposes the cycle-trigger API.
type Server struct {
	orch   CycleRunner
	logger arbor.ILogger
	router *mux.Router
	server *http.Server
}

// New builds a Server bound to addr (host:port), routing through orch.
func New(addr string, orch CycleRunner, logger arbor.ILogger) *Server {
	s := &Server{orch: orch, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/v1/cycles", s.handleStartCycle).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = r

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withLogging(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return s
}

// Start runs the HTTP server until it is shut down. It always returns a
// non-nil error, matching net/http.Server.ListenAndServe's contract;
// http.ErrServerClosed signals a clean Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting cycle-trigger HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires. A cycle started by POST /v1/cycles runs inside its request, so
// Shutdown waits for it; it does not cancel running cycles.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type cycleRequest struct {
	Mode string `json:"mode"`
}

type cycleResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
	Error  string `json:"error,omitempty"`
}

// handleStartCycle runs one orchestrator cycle synchronously, bound to the
// request's context: an HTTP client disconnect cancels the cycle the same
// way SIGTERM does (§5 "a caller-supplied cancellation token for the
// web-triggered path").
func (s *Server) handleStartCycle(w http.ResponseWriter, r *http.Request) {
	var req cycleRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, cycleResponse{Status: "error", Error: "invalid request body"})
			return
		}
	}

	mode := orchestrator.Mode(req.Mode)
	switch mode {
	case "":
		mode = orchestrator.ModeAll
	case orchestrator.ModeAll, orchestrator.ModeETL, orchestrator.ModeMatching:
	default:
		writeJSON(w, http.StatusBadRequest, cycleResponse{Status: "error", Error: fmt.Sprintf("unknown mode %q", req.Mode)})
		return
	}

	if err := s.orch.RunCycle(r.Context(), mode); err != nil {
		s.logger.Error().Err(err).Str("mode", string(mode)).Msg("web-triggered cycle failed")
		writeJSON(w, http.StatusInternalServerError, cycleResponse{Status: "error", Mode: string(mode), Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, cycleResponse{Status: "complete", Mode: string(mode)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(started)).Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
