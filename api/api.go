// CLAUDE:SUMMARY HTTP surface: chi routes to start a run, read run records with their texts, corrections and events, and probe OCR readiness.
// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/reelscan/horosafe"
	"github.com/hazyhaar/reelscan/idgen"
	"github.com/hazyhaar/reelscan/ocr"
	"github.com/hazyhaar/reelscan/pipeline"
	"github.com/hazyhaar/reelscan/store"
)

// MaxRequestBody bounds JSON request bodies.
const MaxRequestBody = 64 * 1024

// Runner is the pipeline as seen by the API.
type Runner interface {
	Request(ctx context.Context, r pipeline.RunRequest) (pipeline.Request, error)
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
	ServiceReady(ctx context.Context) bool
}

// RunDetail is a stored run with its OCR output and events.
type RunDetail struct {
	*store.Run
	Texts       []ocr.FrameText       `json:"texts"`
	Corrections []ocr.CorrectionGroup `json:"corrections"`
	Events      []store.Event         `json:"events"`
}

// Server serves the HTTP API.
type Server struct {
	runner Runner
	store  *store.Store
	events *store.EventLogger
	logger *slog.Logger
	newID  idgen.Generator
}

// Option configures a Server.
type Option func(*Server)

// WithRequestIDGenerator sets the generator of request IDs.
func WithRequestIDGenerator(gen idgen.Generator) Option {
	return func(s *Server) { s.newID = gen }
}

// New creates a Server. st may be nil, in which case the run read
// routes answer 503.
func New(runner Runner, st *store.Store, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner: runner,
		store:  st,
		logger: logger,
		newID:  idgen.Request,
	}
	if st != nil {
		s.events = store.NewEventLogger(st.DB(), store.WithEventLogger(logger))
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the chi router of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(headToGet, securityHeaders, maxBody(MaxRequestBody), requestID(s.logger, s.newID))
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the API routes on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Post("/runs", s.handleRun)
	r.Get("/runs", s.handleList)
	r.Get("/runs/{run_id}", s.handleGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"ocr_ready": s.runner.ServiceReady(r.Context()),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	log := GetLogger(r.Context())

	var in pipeline.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := horosafe.ValidateTargetID(in.TargetID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.runner.Request(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.runner.Run(r.Context(), req)
	switch {
	case rep == nil && errors.Is(err, horosafe.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case rep == nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case rep == nil:
		log.Error("api: run", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		writeJSON(w, http.StatusUnprocessableEntity, rep)
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 500)
	}
	target := r.URL.Query().Get("target_id")
	if target != "" {
		if err := horosafe.ValidateTargetID(target); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	runs, err := s.store.ListRuns(r.Context(), target, limit)
	if err != nil {
		GetLogger(r.Context()).Error("api: list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store disabled")
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "run_id")

	run, err := s.store.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		GetLogger(ctx).Error("api: get run", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}

	d := RunDetail{Run: run}
	if d.Texts, err = s.store.Texts(ctx, id); err == nil {
		if d.Corrections, err = s.store.Corrections(ctx, id); err == nil {
			d.Events, err = s.events.Events(ctx, id)
		}
	}
	if err != nil {
		GetLogger(ctx).Error("api: run detail", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
