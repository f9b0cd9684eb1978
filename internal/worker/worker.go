// Package worker implements the run claim loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/metrics"
	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// DefaultPollInterval is how long an idle worker waits between claims.
const DefaultPollInterval = 2 * time.Second

// Runner claims and executes runs.
type Runner interface {
	ClaimNextRun(ctx context.Context) (*news.Run, error)
	Execute(ctx context.Context, run news.Run) (news.Run, error)
}

// Config controls Worker behavior.
type Config struct {
	PollInterval time.Duration
	Topic        string
}

// Worker polls for queued runs and executes them one at a time.
type Worker struct {
	runner    Runner
	publisher news.Publisher
	clock     news.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. A nil publisher or empty topic disables
// completion notifications.
func New(
	runner Runner,
	publisher news.Publisher,
	clock news.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Worker{
		runner:    runner,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, claiming and executing runs until the context finishes. After
// a run completes the next claim happens immediately; an empty queue or a
// claim error waits one poll interval.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		worked, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("run iteration failed", zap.Error(err))
		}
		if worked && err == nil {
			timer.Reset(0)
			continue
		}
		timer.Reset(w.cfg.PollInterval)
	}
}

// RunOnce claims at most one run and executes it. It reports whether a run
// was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	run, err := w.runner.ClaimNextRun(ctx)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if run == nil {
		w.logger.Debug("no queued runs")
		return false, nil
	}
	w.logger.Debug("claimed run", zap.String("run_id", run.ID))

	final, err := w.runner.Execute(ctx, *run)
	if err != nil {
		return true, fmt.Errorf("execute run %s: %w", run.ID, err)
	}
	if err := w.publishCompletion(ctx, final); err != nil {
		w.logger.Warn("completion notification failed", zap.String("run_id", final.ID), zap.Error(err))
	}
	return true, nil
}

func (w *Worker) publishCompletion(ctx context.Context, run news.Run) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"runId":     run.ID,
		"kind":      run.Kind,
		"status":    run.Status,
		"counters":  run.Counters,
		"timestamp": w.clock.Now().Format(time.RFC3339),
	}
	if run.ErrorText != "" {
		payload["error"] = run.ErrorText
	}
	msgID, err := w.publisher.Publish(context.WithoutCancel(ctx), w.cfg.Topic, payload)
	if err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("run completion published",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.String("message_id", msgID),
	)
	return nil
}
