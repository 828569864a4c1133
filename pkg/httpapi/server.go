// Package httpapi exposes the engine over HTTP: external results for async
// operations, group inspection, manual passes and a server-sent event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/engine"
)

// Engine is the part of the engine the API drives.
type Engine interface {
	Run(ctx context.Context, w engine.Window) ([]string, error)
	RunSync(ctx context.Context, w engine.Window) ([]string, error)
	SaveResult(ctx context.Context, operationID string, result core.ExecutionResult) (*core.Operation, error)
	UncompletedGroupIDs(ctx context.Context) ([]string, error)
	Events() <-chan core.Event
	Unsubscribe(ch <-chan core.Event)
}

// Server serves the API.
type Server struct {
	engine  Engine
	storage core.Storage

	metrics    http.Handler
	middleware func(http.Handler) http.Handler
	logger     *slog.Logger
	runTimeout time.Duration

	router chi.Router
}

// New creates a Server.
func New(e Engine, s core.Storage, opts ...Option) *Server {
	srv := &Server{
		engine:     e,
		storage:    s,
		logger:     slog.Default(),
		runTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt.apply(srv)
	}
	srv.router = srv.routes()
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.middleware != nil {
		return s.middleware(s.router)
	}
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.structuredLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/operations/{id}", s.handleGetOperation)
		r.Post("/operations/{id}/result", s.handleSaveResult)

		r.Get("/groups/uncompleted", s.handleUncompletedGroups)
		r.Get("/groups/{id}", s.handleGetGroup)

		r.Post("/engine/run", s.handleRun)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.storage.GetOperation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationView(op))
}

type saveResultRequest struct {
	Result string `json:"result"`
}

func (s *Server) handleSaveResult(w http.ResponseWriter, r *http.Request) {
	var req saveResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "PARSE_ERROR")
		return
	}
	result := core.ExecutionResult(strings.ToUpper(strings.TrimSpace(req.Result)))
	if result == "" {
		writeError(w, http.StatusBadRequest, "result is required", "VALIDATION_ERROR")
		return
	}

	op, err := s.engine.SaveResult(r.Context(), chi.URLParam(r, "id"), result)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationView(op))
}

// ──────────────────────────────────────────────────────────────────────────────
// Groups
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) handleUncompletedGroups(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.UncompletedGroupIDs(r.Context())
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": ids})
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	group, err := s.storage.GetGroup(r.Context(), id)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	ops, err := s.storage.GetGroupOperations(r.Context(), id)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupView(group, ops))
}

// ──────────────────────────────────────────────────────────────────────────────
// Engine
// ──────────────────────────────────────────────────────────────────────────────

type runRequest struct {
	MaxOperations *int   `json:"max_operations"`
	Timeout       string `json:"timeout"`
	Sync          bool   `json:"sync"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "PARSE_ERROR")
			return
		}
	}

	timeout := s.runTimeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timeout %q", req.Timeout), "VALIDATION_ERROR")
			return
		}
		if d < timeout {
			timeout = d
		}
	}
	window := engine.Window{Deadline: time.Now().Add(timeout), MaxOperations: engine.Unlimited}
	if req.MaxOperations != nil {
		if *req.MaxOperations < engine.Unlimited {
			writeError(w, http.StatusBadRequest, "max_operations must be -1 or more", "VALIDATION_ERROR")
			return
		}
		window.MaxOperations = *req.MaxOperations
	}

	run := s.engine.Run
	if req.Sync {
		run = s.engine.RunSync
	}
	groups, err := run(r.Context(), window)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "sync": req.Sync})
}

// handleEvents streams engine events as server-sent events until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "INTERNAL")
		return
	}
	filter := r.URL.Query().Get("group")

	events := s.engine.Events()
	defer s.engine.Unsubscribe(events)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			view := toEventView(e)
			if view == nil || (filter != "" && view.GroupID != filter) {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: ", view.Type); err != nil {
				return
			}
			if err := enc.Encode(view); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrOperationNotFound), errors.Is(err, core.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, core.ErrInvalidResult):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_RESULT")
	case errors.Is(err, core.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), "INVALID_TRANSITION")
	case errors.Is(err, core.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error(), "VERSION_CONFLICT")
	default:
		s.logger.Error("api request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, code string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) structuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
