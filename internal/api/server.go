package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipcast-hq/clipcast-pipeline/internal/dispatch"
	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/internal/logger"
	"github.com/clipcast-hq/clipcast-pipeline/internal/store"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/sources"
)

const (
	maxRequestBody  = 1 << 20 // 1 MiB
	shutdownTimeout = 10 * time.Second
)

// Server exposes the management API: candidate injection, job inspection,
// cancellation, channel pause/resume, and the dispatch completion callback.
type Server struct {
	store       store.Store
	channels    *channels.Registry
	completions *dispatch.Completions
	log         logger.Logger

	srv *http.Server
}

// NewServer wires the management API for the given store and channel registry.
func NewServer(addr string, st store.Store, reg *channels.Registry, completions *dispatch.Completions, log logger.Logger) *Server {
	if log == nil {
		log = &logger.NopLogger{}
	}
	s := &Server{
		store:       st,
		channels:    reg,
		completions: completions,
		log:         log,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes builds the chi router. Exposed separately so tests can drive
// handlers without binding a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/channels/{id}/candidates", s.handleSubmitCandidate)
		r.Post("/channels/{id}/pause", s.handlePause(true))
		r.Post("/channels/{id}/resume", s.handlePause(false))

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)

		r.Post("/dispatch/callback", s.handleDispatchCallback)
	})

	return r
}

// Run serves until the context is cancelled, then drains with a timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.InfoObj("management api listening", "api_addr", s.srv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitCandidateRequest struct {
	Origin string `json:"origin"`
	Title  string `json:"title"`
}

func (s *Server) handleSubmitCandidate(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	if _, ok := s.channels.ByID(channelID); !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}

	var req submitCandidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Origin = strings.TrimSpace(req.Origin)
	if req.Origin == "" {
		writeError(w, http.StatusBadRequest, "origin is required")
		return
	}

	cand := domain.Candidate{
		Origin:       req.Origin,
		Fingerprint:  sources.Fingerprint(req.Origin),
		Title:        strings.TrimSpace(req.Title),
		DiscoveredAt: time.Now().UTC(),
	}

	job, err := s.store.Enqueue(cand, channelID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateCandidate) {
			writeError(w, http.StatusConflict, "candidate already tracked for this channel")
			return
		}
		s.log.ErrorObj("candidate enqueue failed", "api_error", map[string]any{
			"channel_id": channelID,
			"origin":     req.Origin,
			"error":      err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID := chi.URLParam(r, "id")
		if _, ok := s.channels.ByID(channelID); !ok {
			writeError(w, http.StatusNotFound, "unknown channel")
			return
		}

		if err := s.store.SetPaused(channelID, paused); err != nil {
			writeError(w, http.StatusInternalServerError, "pause state update failed")
			return
		}

		s.log.InfoObj("channel pause state changed", "pause_state", map[string]any{
			"channel_id": channelID,
			"paused":     paused,
		})
		writeJSON(w, http.StatusOK, map[string]any{"channel_id": channelID, "paused": paused})
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		ChannelID: strings.TrimSpace(r.URL.Query().Get("channel")),
		Stage:     domain.Stage(strings.TrimSpace(r.URL.Query().Get("stage"))),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	jobs, err := s.store.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.RequestCancel(chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, store.ErrTerminal):
			writeError(w, http.StatusConflict, "job already terminal")
		default:
			writeError(w, http.StatusInternalServerError, "cancel failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDispatchCallback(w http.ResponseWriter, r *http.Request) {
	var comp dispatch.Completion
	if err := decodeJSON(r, &comp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(comp.DispatchID) == "" {
		writeError(w, http.StatusBadRequest, "dispatch_id is required")
		return
	}

	job, applied, err := s.completions.Apply(comp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown dispatch id")
			return
		}
		writeError(w, http.StatusInternalServerError, "completion apply failed")
		return
	}

	// duplicates and superseded ids ack with 200 so runners stop retrying
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied, "job": job})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
