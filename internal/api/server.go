package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/digest"
	"github.com/JakeFAU/esg-news-digest/internal/eventlog"
	"github.com/JakeFAU/esg-news-digest/internal/metrics"
	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/pipeline"
)

// DefaultRequestTimeout bounds non-streaming requests.
const DefaultRequestTimeout = 60 * time.Second

// RunService queues and cancels runs.
type RunService interface {
	SubmitRun(ctx context.Context, req pipeline.SubmitRequest) (news.Run, error)
	CancelRun(ctx context.Context, id string) (news.Run, error)
}

// EventLog reads run events.
type EventLog interface {
	Poll(ctx context.Context, runID string, after int64) (eventlog.Page, error)
	Summary(ctx context.Context, runID string) (map[news.EventType]int, error)
	Stream(ctx context.Context, runID string, send func(eventlog.Message) error) error
}

// Digests builds and persists digests.
type Digests interface {
	Build(ctx context.Context, start, end time.Time) (digest.Digest, error)
	Publish(ctx context.Context, window time.Duration) (digest.Result, error)
}

// ReadStore is the read side of persistence used by the listing routes.
type ReadStore interface {
	GetRun(ctx context.Context, id string) (news.Run, error)
	ListRuns(ctx context.Context, limit int) ([]news.Run, error)
	GetItem(ctx context.Context, id string) (news.ItemDetail, error)
	ListItems(ctx context.Context, filter news.ItemFilter) ([]news.Item, error)
	ListTopics(ctx context.Context) ([]news.Topic, error)
	ListSources(ctx context.Context, ids []string) ([]news.Source, error)
}

// Dependencies are the services behind the routes.
type Dependencies struct {
	Runs    RunService
	Store   ReadStore
	Events  EventLog
	Digests Digests
}

// Config tunes the HTTP surface.
type Config struct {
	RequestTimeout time.Duration
	// DigestWindow is used when a digest request names no window.
	DigestWindow time.Duration
}

// Server wires HTTP handlers to the pipeline services.
type Server struct {
	router chi.Router
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.DigestWindow <= 0 {
		cfg.DigestWindow = 24 * time.Hour
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// event streams stay open past the request timeout
		r.Get("/runs/{run_id}/events", s.getRunEvents)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))

			r.Post("/runs", s.submitRun)
			r.Get("/runs", s.listRuns)
			r.Get("/runs/{run_id}", s.getRun)
			r.Post("/runs/{run_id}/cancel", s.cancelRun)
			r.Get("/runs/{run_id}/events/summary", s.getRunEventSummary)
			r.Post("/reanalyze", s.submitReanalysis)

			r.Get("/items", s.listItems)
			r.Get("/items/{item_id}", s.getItem)
			r.Get("/topics", s.listTopics)
			r.Get("/sources", s.listSources)

			r.Post("/digests", s.publishDigest)
			r.Post("/digests/preview", s.previewDigest)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.deps.Store.ListTopics(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeServiceError maps domain errors onto status codes. Validation errors
// and missing records echo their message; anything else is logged and hidden.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, news.ErrValidation):
		writeError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, news.ErrNotFound):
		writeError(w, http.StatusNotFound, msg+": not found")
	default:
		s.logger.Error(msg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func validationMessage(err error) string {
	var verr *news.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return err.Error()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
