// Package pipeline drives runs from claim to a terminal status: it resolves
// the item set of a run and advances every item through fetch, extract,
// prefilter and classification while recording the event trail.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/esg-news-digest/internal/eventlog"
	"github.com/JakeFAU/esg-news-digest/internal/metrics"
	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/taxonomy"
)

// DefaultItemConcurrency bounds how many items of one run are in flight.
const DefaultItemConcurrency = 4

// ClassifierSelector chooses the classifier for a run.
type ClassifierSelector interface {
	Select(ctx context.Context) news.Classifier
}

// Config tunes the orchestrator.
type Config struct {
	ItemConcurrency int
}

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	Store       news.Store
	Discoverer  news.Discoverer
	Fetcher     news.Fetcher
	Extractor   news.Extractor
	Classifiers ClassifierSelector
	Events      *eventlog.Log
	IDs         news.IDGenerator
	Clock       news.Clock
}

// Orchestrator owns the run and item state machines.
type Orchestrator struct {
	store       news.Store
	discoverer  news.Discoverer
	fetcher     news.Fetcher
	extractor   news.Extractor
	classifiers ClassifierSelector
	events      *eventlog.Log
	ids         news.IDGenerator
	clock       news.Clock
	cfg         Config
	logger      *zap.Logger
}

// New constructs an Orchestrator.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ItemConcurrency <= 0 {
		cfg.ItemConcurrency = DefaultItemConcurrency
	}
	return &Orchestrator{
		store:       deps.Store,
		discoverer:  deps.Discoverer,
		fetcher:     deps.Fetcher,
		extractor:   deps.Extractor,
		classifiers: deps.Classifiers,
		events:      deps.Events,
		ids:         deps.IDs,
		clock:       deps.Clock,
		cfg:         cfg,
		logger:      logger,
	}
}

// SubmitRequest describes a new run.
type SubmitRequest struct {
	Kind        news.RunKind
	SourceIDs   []string
	ItemIDs     []string
	TriggeredBy string
}

// SubmitRun validates req and stores a queued run. Reanalysis requests must
// reference existing, distinct items; otherwise nothing is created.
func (o *Orchestrator) SubmitRun(ctx context.Context, req SubmitRequest) (news.Run, error) {
	if !req.Kind.Valid() {
		return news.Run{}, &news.ValidationError{Reason: fmt.Sprintf("unknown run kind %q", req.Kind)}
	}
	switch req.Kind {
	case news.RunKindDiscovery:
		if len(req.ItemIDs) > 0 {
			return news.Run{}, &news.ValidationError{Reason: "itemIds are only accepted for reanalysis runs"}
		}
	case news.RunKindReanalysis:
		if len(req.SourceIDs) > 0 {
			return news.Run{}, &news.ValidationError{Reason: "sourceIds are only accepted for discovery runs"}
		}
		if err := o.validateItemIDs(ctx, req.ItemIDs); err != nil {
			return news.Run{}, err
		}
	}

	id, err := o.ids.NewID()
	if err != nil {
		return news.Run{}, fmt.Errorf("run id: %w", err)
	}
	run := news.Run{
		ID:          id,
		Kind:        req.Kind,
		Status:      news.RunStatusQueued,
		SourceIDs:   req.SourceIDs,
		ItemIDs:     req.ItemIDs,
		TriggeredBy: req.TriggeredBy,
		CreatedAt:   o.clock.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return news.Run{}, fmt.Errorf("create run: %w", err)
	}
	o.logger.Info("run submitted",
		zap.String("run_id", run.ID),
		zap.String("kind", string(run.Kind)),
		zap.Int("sources", len(run.SourceIDs)),
		zap.Int("items", len(run.ItemIDs)),
	)
	return run, nil
}

func (o *Orchestrator) validateItemIDs(ctx context.Context, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	var dupes []string
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			dupes = append(dupes, id)
			continue
		}
		seen[id] = struct{}{}
	}
	if len(dupes) > 0 {
		return &news.ValidationError{Reason: "duplicate item ids", IDs: dupes}
	}
	if len(ids) == 0 {
		return nil
	}
	found, err := o.store.GetItemsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve items: %w", err)
	}
	present := make(map[string]struct{}, len(found))
	for _, item := range found {
		present[item.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &news.ValidationError{Reason: "unknown item ids", IDs: missing}
	}
	return nil
}

// ClaimNextRun claims the oldest queued run. It returns nil when there is none.
func (o *Orchestrator) ClaimNextRun(ctx context.Context) (*news.Run, error) {
	run, err := o.store.ClaimNextRun(ctx, o.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	if run != nil {
		o.logger.Info("run claimed", zap.String("run_id", run.ID), zap.String("kind", string(run.Kind)))
	}
	return run, nil
}

// CancelRun requests cancellation. A running run stops starting new items at
// its next checkpoint; items already in flight finish.
func (o *Orchestrator) CancelRun(ctx context.Context, id string) (news.Run, error) {
	run, err := o.store.CancelRun(ctx, id, o.clock.Now().UTC())
	if err != nil {
		return news.Run{}, fmt.Errorf("cancel run: %w", err)
	}
	o.logger.Info("run canceled", zap.String("run_id", id))
	return run, nil
}

type counters struct {
	mu sync.Mutex
	c  news.RunCounters
}

func (c *counters) record(status news.ItemStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch status {
	case news.ItemStatusAnalyzed:
		c.c.Processed++
	case news.ItemStatusSkipped:
		c.c.Skipped++
	case news.ItemStatusFailed:
		c.c.Failed++
	}
}

func (c *counters) snapshot() news.RunCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c
}

// runOutcome is how execution ended before the run is finished in the store.
type runOutcome struct {
	status  news.RunStatus
	errText string
}

// Execute drives a claimed run to a terminal status. Per-item failures are
// recorded on the items; only setup failures fail the run. The returned run
// is the stored state after finishing.
func (o *Orchestrator) Execute(ctx context.Context, run news.Run) (news.Run, error) {
	started := o.clock.Now()
	logger := o.logger.With(zap.String("run_id", run.ID), zap.String("kind", string(run.Kind)))
	tally := &counters{}

	outcome := o.execute(ctx, run, tally, logger)

	// final bookkeeping must land even when the worker is shutting down
	finishCtx := context.WithoutCancel(ctx)
	final := tally.snapshot()
	elapsed := o.clock.Now().Sub(started)
	// a cancel after the last item checkpoint still wins over the outcome
	if outcome.status != news.RunStatusCanceled && o.canceled(finishCtx, run.ID, logger) {
		outcome = runOutcome{status: news.RunStatusCanceled}
	}
	o.emitDone(finishCtx, run.ID, outcome, final, elapsed)

	if err := o.store.FinishRun(finishCtx, run.ID, outcome.status, final, outcome.errText, o.clock.Now().UTC()); err != nil {
		logger.Error("finish run failed", zap.Error(err))
		return news.Run{}, fmt.Errorf("finish run: %w", err)
	}
	stored, err := o.store.GetRun(finishCtx, run.ID)
	if err != nil {
		return news.Run{}, fmt.Errorf("reload run: %w", err)
	}
	metrics.ObserveRun(string(run.Kind), string(stored.Status), elapsed)
	logger.Info("run finished",
		zap.String("status", string(stored.Status)),
		zap.Int("processed", final.Processed),
		zap.Int("failed", final.Failed),
		zap.Int("skipped", final.Skipped),
		zap.Duration("elapsed", elapsed),
	)
	return stored, nil
}

func (o *Orchestrator) execute(ctx context.Context, run news.Run, tally *counters, logger *zap.Logger) runOutcome {
	topics, err := o.loadTopics(ctx)
	if err != nil {
		return o.failRun(ctx, run.ID, err, logger)
	}
	matcher := taxonomy.NewMatcher(topics)
	slugs := taxonomy.Slugs(topics)

	classifier := o.classifiers.Select(ctx)
	o.emit(ctx, run.ID, news.LevelDebug, news.EventClassify,
		fmt.Sprintf("Using classifier: %s", classifier.Model()),
		map[string]any{"model": classifier.Model()})

	if o.canceled(ctx, run.ID, logger) {
		return runOutcome{status: news.RunStatusCanceled}
	}

	var items []news.Item
	switch run.Kind {
	case news.RunKindReanalysis:
		items, err = o.resolveReanalysis(ctx, run)
	default:
		items, err = o.resolveDiscovery(ctx, run, logger)
	}
	if err != nil {
		return o.failRun(ctx, run.ID, err, logger)
	}

	proc := itemProcessor{
		o:          o,
		runID:      run.ID,
		matcher:    matcher,
		slugs:      slugs,
		classifier: classifier,
		logger:     logger,
	}
	var (
		stop atomic.Bool
		g    errgroup.Group
	)
	g.SetLimit(o.cfg.ItemConcurrency)
	for _, item := range items {
		if stop.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// checkpoint once a slot is free, right before the item starts
			if stop.Load() {
				return nil
			}
			if o.canceled(ctx, run.ID, logger) {
				stop.Store(true)
				return nil
			}
			tally.record(proc.process(ctx, item))
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case stop.Load():
		return runOutcome{status: news.RunStatusCanceled}
	case ctx.Err() != nil:
		return runOutcome{status: news.RunStatusFailed, errText: fmt.Sprintf("interrupted: %v", ctx.Err())}
	default:
		return runOutcome{status: news.RunStatusSucceeded}
	}
}

func (o *Orchestrator) loadTopics(ctx context.Context) ([]news.Topic, error) {
	all, err := o.store.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}
	enabled := make([]news.Topic, 0, len(all))
	for _, t := range all {
		if t.Enabled {
			enabled = append(enabled, t)
		}
	}
	return enabled, nil
}

func (o *Orchestrator) failRun(ctx context.Context, runID string, err error, logger *zap.Logger) runOutcome {
	logger.Error("run failed", zap.Error(err))
	o.emit(ctx, runID, news.LevelError, news.EventError, fmt.Sprintf("Run failed: %v", err), nil)
	return runOutcome{status: news.RunStatusFailed, errText: err.Error()}
}

// canceled is the run-level checkpoint. A failed status read does not stop the run.
func (o *Orchestrator) canceled(ctx context.Context, runID string, logger *zap.Logger) bool {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		logger.Warn("cancellation checkpoint failed", zap.Error(err))
		return false
	}
	return run.Status == news.RunStatusCanceled
}

func (o *Orchestrator) emitDone(
	ctx context.Context,
	runID string,
	outcome runOutcome,
	final news.RunCounters,
	elapsed time.Duration,
) {
	data := map[string]any{
		"status":    string(outcome.status),
		"processed": final.Processed,
		"failed":    final.Failed,
		"skipped":   final.Skipped,
	}
	tail := fmt.Sprintf("Processed: %d, Failed: %d, Skipped: %d", final.Processed, final.Failed, final.Skipped)
	switch outcome.status {
	case news.RunStatusCanceled:
		o.emit(ctx, runID, news.LevelWarn, news.EventDone, "Run canceled. "+tail, data)
	case news.RunStatusFailed:
		o.emit(ctx, runID, news.LevelError, news.EventDone, "Run failed. "+tail, data)
	default:
		secs := int(elapsed.Round(time.Second) / time.Second)
		o.emit(ctx, runID, news.LevelInfo, news.EventDone, fmt.Sprintf("Run completed in %ds. %s", secs, tail), data)
	}
}

// emit writes an event. Event log failures are logged and never change the
// outcome of the step that produced them.
func (o *Orchestrator) emit(
	ctx context.Context,
	runID string,
	level news.EventLevel,
	eventType news.EventType,
	message string,
	data map[string]any,
) {
	if err := o.events.Emit(ctx, runID, level, eventType, message, data); err != nil {
		o.logger.Warn("emit event failed",
			zap.String("run_id", runID),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}
