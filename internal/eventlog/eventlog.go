// Package eventlog records and replays the append-only event trail of a run.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// Defaults for polling.
const (
	DefaultPageSize       = 100
	DefaultStreamInterval = 500 * time.Millisecond
)

// Store is what the event log reads and writes.
type Store interface {
	news.EventStore
	GetRun(ctx context.Context, id string) (news.Run, error)
}

// Page is one cursor poll result.
type Page struct {
	Events     []news.RunEvent `json:"events"`
	Status     news.RunStatus  `json:"status"`
	IsComplete bool            `json:"isComplete"`
	NextCursor int64           `json:"nextCursor"`
}

// Config tunes paging and streaming.
type Config struct {
	PageSize       int
	StreamInterval time.Duration
}

// Log appends and reads run events.
type Log struct {
	store    Store
	clock    news.Clock
	logger   *zap.Logger
	pageSize int
	interval time.Duration
}

// New builds a Log.
func New(store Store, clock news.Clock, cfg Config, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = DefaultStreamInterval
	}
	return &Log{
		store:    store,
		clock:    clock,
		logger:   logger,
		pageSize: cfg.PageSize,
		interval: cfg.StreamInterval,
	}
}

// Emit appends one event and mirrors it to the process log.
func (l *Log) Emit(
	ctx context.Context,
	runID string,
	level news.EventLevel,
	eventType news.EventType,
	message string,
	data map[string]any,
) error {
	event, err := l.store.AppendEvent(ctx, news.RunEvent{
		RunID:     runID,
		Level:     level,
		Type:      eventType,
		Message:   message,
		Data:      data,
		CreatedAt: l.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}

	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("type", string(eventType)),
		zap.Int64("event_id", event.ID),
	}
	switch level {
	case news.LevelError:
		l.logger.Error(message, fields...)
	case news.LevelWarn:
		l.logger.Warn(message, fields...)
	case news.LevelInfo:
		l.logger.Info(message, fields...)
	default:
		l.logger.Debug(message, fields...)
	}
	return nil
}

// Poll returns up to one page of events with id greater than after, together
// with the run's current status. The status is read before the events so a
// terminal status always comes with every event written before it.
func (l *Log) Poll(ctx context.Context, runID string, after int64) (Page, error) {
	run, err := l.store.GetRun(ctx, runID)
	if err != nil {
		return Page{}, fmt.Errorf("get run: %w", err)
	}
	events, err := l.store.ListEvents(ctx, runID, after, l.pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("list events: %w", err)
	}
	if events == nil {
		events = []news.RunEvent{}
	}
	next := after
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}
	return Page{
		Events:     events,
		Status:     run.Status,
		IsComplete: run.Status.Terminal() && len(events) < l.pageSize,
		NextCursor: next,
	}, nil
}

// Summary counts a run's events by type.
func (l *Log) Summary(ctx context.Context, runID string) (map[news.EventType]int, error) {
	counts, err := l.store.CountEventsByType(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	return counts, nil
}
