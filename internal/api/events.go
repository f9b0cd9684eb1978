package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/eventlog"
)

// getRunEvents serves one cursor page, or with ?stream=true an SSE stream
// that ends with an "end" event once the run is terminal.
func (s *Server) getRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	q := r.URL.Query()

	if stream, _ := strconv.ParseBool(q.Get("stream")); stream {
		s.streamRunEvents(w, r, runID)
		return
	}

	var after int64
	if raw := q.Get("after"); raw != "" {
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || val < 0 {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		after = val
	}
	page, err := s.deps.Events.Poll(r.Context(), runID, after)
	if err != nil {
		s.writeServiceError(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request, runID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// resolve the run first so an unknown id still gets a JSON 404
	if _, err := s.deps.Store.GetRun(r.Context(), runID); err != nil {
		s.writeServiceError(w, err, "run")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := s.deps.Events.Stream(r.Context(), runID, func(msg eventlog.Message) error {
		if err := writeSSE(w, msg); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && r.Context().Err() == nil {
		s.logger.Warn("event stream ended with error", zap.String("run_id", runID), zap.Error(err))
	}
}

func writeSSE(w http.ResponseWriter, msg eventlog.Message) error {
	var payload any = msg.Events
	if msg.Kind == eventlog.MessageEnd {
		payload = map[string]any{"status": msg.Status}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, data); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	return nil
}
