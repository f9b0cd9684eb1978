package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/pipeline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultTrigger   = "api"
)

type submitRunRequest struct {
	Kind        news.RunKind `json:"kind"`
	SourceIDs   []string     `json:"sourceIds"`
	ItemIDs     []string     `json:"itemIds"`
	TriggeredBy string       `json:"triggeredBy"`
}

type reanalyzeRequest struct {
	ItemIDs     []string `json:"itemIds"`
	TriggeredBy string   `json:"triggeredBy"`
}

type digestRequest struct {
	Hours int `json:"hours"`
}

type previewRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Kind == "" {
		req.Kind = news.RunKindDiscovery
	}
	s.queueRun(w, r, pipeline.SubmitRequest{
		Kind:        req.Kind,
		SourceIDs:   req.SourceIDs,
		ItemIDs:     req.ItemIDs,
		TriggeredBy: req.TriggeredBy,
	})
}

func (s *Server) submitReanalysis(w http.ResponseWriter, r *http.Request) {
	var req reanalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.ItemIDs) == 0 {
		writeError(w, http.StatusBadRequest, "itemIds required")
		return
	}
	s.queueRun(w, r, pipeline.SubmitRequest{
		Kind:        news.RunKindReanalysis,
		ItemIDs:     req.ItemIDs,
		TriggeredBy: req.TriggeredBy,
	})
}

func (s *Server) queueRun(w http.ResponseWriter, r *http.Request, req pipeline.SubmitRequest) {
	if req.TriggeredBy == "" {
		req.TriggeredBy = defaultTrigger
	}
	run, err := s.deps.Runs.SubmitRun(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err, "submit run")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.deps.Store.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err, "list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": nonNil(runs)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Store.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeServiceError(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.CancelRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeServiceError(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) getRunEventSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Events.Summary(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeServiceError(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := news.ItemFilter{Limit: limit}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := parseItemStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	items, err := s.deps.Store.ListItems(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err, "list items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Store.GetItem(r.Context(), chi.URLParam(r, "item_id"))
	if err != nil {
		s.writeServiceError(w, err, "item")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.deps.Store.ListTopics(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "list topics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": nonNil(topics)})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.deps.Store.ListSources(r.Context(), nil)
	if err != nil {
		s.writeServiceError(w, err, "list sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": nonNil(sources)})
}

func (s *Server) publishDigest(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	window := s.cfg.DigestWindow
	if req.Hours < 0 {
		writeError(w, http.StatusBadRequest, "hours must be positive")
		return
	}
	if req.Hours > 0 {
		window = time.Duration(req.Hours) * time.Hour
	}
	res, err := s.deps.Digests.Publish(r.Context(), window)
	if err != nil {
		s.writeServiceError(w, err, "publish digest")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) previewDigest(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date range")
		return
	}
	if req.Start.IsZero() || req.End.IsZero() {
		writeError(w, http.StatusBadRequest, "start and end are required")
		return
	}
	d, err := s.deps.Digests.Build(r.Context(), req.Start, req.End)
	if err != nil {
		s.writeServiceError(w, err, "build digest")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"html":  d.HTML,
		"text":  d.Text,
		"stats": d.Stats,
	})
}

// decodeBody decodes a JSON body; an empty body leaves dst at its zero value.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxListLimit {
		val = maxListLimit
	}
	return val, nil
}

func parseItemStatus(raw string) (news.ItemStatus, bool) {
	status := news.ItemStatus(strings.ToLower(raw))
	switch status {
	case news.ItemStatusNew, news.ItemStatusFetched, news.ItemStatusExtracted,
		news.ItemStatusAnalyzed, news.ItemStatusSkipped, news.ItemStatusFailed:
		return status, true
	default:
		return "", false
	}
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
