// Package server exposes the graph engine over HTTP. Turn submission and
// resume stream progress as server-sent events; terminate and state lookup
// are plain JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/deskmesh/agent/checkpoint"
	contractx "github.com/tanpawarit/deskmesh/agent/contract"
	statex "github.com/tanpawarit/deskmesh/agent/state"
)

// Engine is the conversation surface the HTTP layer drives.
type Engine interface {
	Run(ctx context.Context, in contractx.TurnInput, emit contractx.EmitFunc) (*statex.State, error)
	Resume(ctx context.Context, threadID string, emit contractx.EmitFunc) (*statex.State, error)
	Terminate(ctx context.Context, threadID string) error
}

// StateLoader reads persisted thread state for the inspection endpoint.
type StateLoader interface {
	LoadLatest(ctx context.Context, threadID, namespace string) (*statex.State, int, error)
}

type Server struct {
	engine Engine
	loader StateLoader
	gather prometheus.Gatherer
	log    zerolog.Logger
}

type Option func(*Server)

// WithGatherer mounts /metrics backed by the given registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gather = g
	}
}

func New(engine Engine, loader StateLoader, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		loader: loader,
		log:    log.With().Str("component", "server").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.gather != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}

	r.Route("/threads/{threadID}", func(r chi.Router) {
		r.Post("/turns", s.handleTurn)
		r.Post("/resume", s.handleResume)
		r.Post("/terminate", s.handleTerminate)
		r.Get("/state", s.handleState)
	})
	return r
}

// Listen serves until ctx is cancelled, then drains within the shutdown
// timeout.
func (s *Server) Listen(ctx context.Context, cfg Config) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.Handler(),
		ReadTimeout: cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("http listener starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type turnRequest struct {
	Text     string `json:"text"`
	Workflow string `json:"workflow,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	var body turnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	in := contractx.TurnInput{ThreadID: threadID, Text: body.Text, Workflow: body.Workflow}
	s.stream(w, r, func(ctx context.Context, emit contractx.EmitFunc) (*statex.State, error) {
		return s.engine.Run(ctx, in, emit)
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	s.stream(w, r, func(ctx context.Context, emit contractx.EmitFunc) (*statex.State, error) {
		return s.engine.Resume(ctx, threadID, emit)
	})
}

// stream runs one engine operation while forwarding its events as SSE
// frames. The engine runs in its own goroutine; emits funnel through a
// channel because tool dispatch can emit concurrently.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, emit contractx.EmitFunc) (*statex.State, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan contractx.Event, 32)
	done := make(chan error, 1)
	go func() {
		_, err := run(r.Context(), func(ev contractx.Event) {
			select {
			case events <- ev:
			case <-r.Context().Done():
			}
		})
		close(events)
		done <- err
	}()

	for ev := range events {
		writeEvent(w, ev)
		flusher.Flush()
	}

	if err := <-done; err != nil {
		s.log.Error().Err(err).Msg("turn failed")
		writeEvent(w, contractx.Event{Type: contractx.EventError, Text: publicError(err)})
		flusher.Flush()
	}
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if err := s.engine.Terminate(r.Context(), threadID); err != nil {
		if errors.Is(err, checkpoint.ErrInvalidThread) {
			writeError(w, http.StatusBadRequest, "thread id is required")
			return
		}
		s.log.Error().Err(err).Str("thread", threadID).Msg("terminate failed")
		writeError(w, http.StatusInternalServerError, "terminate failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	st, step, err := s.loader.LoadLatest(r.Context(), threadID, checkpoint.DefaultNamespace)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		s.log.Error().Err(err).Str("thread", threadID).Msg("state lookup failed")
		writeError(w, http.StatusInternalServerError, "state lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"state": st, "step": step})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func writeEvent(w http.ResponseWriter, ev contractx.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// publicError maps engine failures to client-safe strings.
func publicError(err error) string {
	switch {
	case errors.Is(err, contractx.ErrThreadTerminated):
		return "thread is terminated"
	case errors.Is(err, contractx.ErrValidation), errors.Is(err, statex.ErrInvalidThread):
		return "invalid request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request cancelled"
	default:
		return "internal error"
	}
}
