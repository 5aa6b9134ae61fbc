// Package server exposes a bulk run over HTTP: operation and chain
// snapshots for observers, and start/pause/stop/reset controls.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"api-runner/internal/bulk"
	"api-runner/internal/extract"
	"api-runner/internal/logging"
	"api-runner/internal/request"

	"github.com/gorilla/mux"
)

// Controller is the part of a bulk orchestrator the API drives.
type Controller interface {
	Start(ctx context.Context) bool
	Pause()
	Stop()
	Reset() error
	Operations() []bulk.Operation
	Operation(id string) (bulk.Operation, bool)
	ChainSnapshot() map[string]string
	Summary() bulk.Summary
	Running() bool
	Complete() bool
}

// Opts configures optional parts of the server.
type Opts struct {
	// RunContext is passed to Start. Runs outlive the request that started
	// them, so the request context is never used. Defaults to
	// context.Background().
	RunContext context.Context
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

type Server struct {
	ctrl   Controller
	runCtx context.Context
	router *mux.Router
}

// New builds the router for ctrl.
func New(ctrl Controller, opts *Opts) *Server {
	if opts == nil {
		opts = &Opts{}
	}
	s := &Server{ctrl: ctrl, runCtx: opts.RunContext}
	if s.runCtx == nil {
		s.runCtx = context.Background()
	}

	r := mux.NewRouter()
	r.Use(logRequests)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/operations", s.handleOperations).Methods(http.MethodGet)
	api.HandleFunc("/operations/{id}", s.handleOperation).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/chain", s.handleChain).Methods(http.MethodGet)
	api.HandleFunc("/run/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/run/pause", s.handlePause).Methods(http.MethodPost)
	api.HandleFunc("/run/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/run/reset", s.handleReset).Methods(http.MethodPost)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not allowed here")
	})
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Logf(logging.Info, "Control API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logging.Logf(logging.Info, "Shutting down control API")
		return srv.Shutdown(shutdownCtx)
	}
}

type operationView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Status      bulk.Status       `json:"status"`
	Error       string            `json:"error,omitempty"`
	Response    *request.Response `json:"response,omitempty"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	EndedAt     *time.Time        `json:"endedAt,omitempty"`
	DurationMs  int64             `json:"durationMs,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"` // chainable keys of Response
}

// toView drops headers, params, body and auth so credentials never leave
// the process.
func toView(op bulk.Operation) operationView {
	v := operationView{
		ID:       op.ID,
		Name:     op.Spec.Name,
		Method:   op.Spec.Method,
		URL:      op.Spec.URL,
		Status:   op.Status,
		Error:    op.Error,
		Response: op.Response,
	}
	if op.Response != nil {
		v.Suggestions = extract.Suggestions(op.Response)
	}
	if !op.StartedAt.IsZero() {
		started := op.StartedAt
		v.StartedAt = &started
	}
	if !op.EndedAt.IsZero() {
		ended := op.EndedAt
		v.EndedAt = &ended
		if v.StartedAt != nil {
			v.DurationMs = ended.Sub(*v.StartedAt).Milliseconds()
		}
	}
	return v
}

type statusView struct {
	Summary  bulk.Summary `json:"summary"`
	Running  bool         `json:"running"`
	Complete bool         `json:"complete"`
}

func (s *Server) status() statusView {
	return statusView{Summary: s.ctrl.Summary(), Running: s.ctrl.Running(), Complete: s.ctrl.Complete()}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOperations(w http.ResponseWriter, _ *http.Request) {
	ops := s.ctrl.Operations()
	views := make([]operationView, len(ops))
	for i, op := range ops {
		views[i] = toView(op)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	op, ok := s.ctrl.Operation(id)
	if !ok {
		writeError(w, http.StatusNotFound, "operation_not_found", "no operation with id '"+id+"'")
		return
	}
	writeJSON(w, http.StatusOK, toView(op))
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleChain(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.ChainSnapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if !s.ctrl.Start(s.runCtx) {
		writeError(w, http.StatusConflict, "already_running", bulk.ErrAlreadyRunning.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.status())
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Pause()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Stop()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Reset(); err != nil {
		if errors.Is(err, bulk.ErrRunActive) {
			writeError(w, http.StatusConflict, "run_active", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Logf(logging.Debug, "API %s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
