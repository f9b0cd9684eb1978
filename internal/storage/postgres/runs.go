package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

const runColumns = `id, kind, status, source_ids, item_ids, triggered_by, created_at, ` +
	`started_at, finished_at, processed, failed, skipped, error_text`

func scanRun(row pgx.Row) (news.Run, error) {
	var (
		run       news.Run
		sourceIDs string
		itemIDs   string
	)
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Status,
		&sourceIDs,
		&itemIDs,
		&run.TriggeredBy,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Counters.Processed,
		&run.Counters.Failed,
		&run.Counters.Skipped,
		&run.ErrorText,
	)
	if err != nil {
		return news.Run{}, err
	}
	run.SourceIDs = decodeStrings(sourceIDs)
	run.ItemIDs = decodeStrings(itemIDs)
	return run, nil
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run news.Run) error {
	query := `
INSERT INTO runs (id, kind, status, source_ids, item_ids, triggered_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		run.ID,
		string(run.Kind),
		string(run.Status),
		encodeStrings(run.SourceIDs),
		encodeStrings(run.ItemIDs),
		run.TriggeredBy,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (news.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return news.Run{}, fmt.Errorf("run %s: %w", id, news.ErrNotFound)
		}
		return news.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]news.Run, error) {
	builder := psql.Select(runColumns).From("runs").OrderBy("created_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list runs: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []news.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ClaimNextRun atomically moves the oldest queued run to running. Concurrent
// claimers skip rows locked by each other, so each run is claimed once.
func (s *Store) ClaimNextRun(ctx context.Context, startedAt time.Time) (*news.Run, error) {
	query := `
UPDATE runs SET status = 'running', started_at = $1
WHERE id = (
	SELECT id FROM runs
	WHERE status = 'queued'
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + runColumns
	run, err := scanRun(s.pool.QueryRow(ctx, query, startedAt))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim run: %w", err)
	}
	return &run, nil
}

// FinishRun records counters and, if the run is still running, its terminal status.
func (s *Store) FinishRun(
	ctx context.Context,
	id string,
	status news.RunStatus,
	counters news.RunCounters,
	errText string,
	at time.Time,
) error {
	query := `
UPDATE runs SET
	processed = $1,
	failed = $2,
	skipped = $3,
	finished_at = COALESCE(finished_at, $4),
	error_text = CASE WHEN status = 'running' THEN $5 ELSE error_text END,
	status = CASE WHEN status = 'running' THEN $6 ELSE status END
WHERE id = $7`
	tag, err := s.pool.Exec(ctx, query,
		counters.Processed,
		counters.Failed,
		counters.Skipped,
		at,
		errText,
		string(status),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", id, news.ErrNotFound)
	}
	return nil
}

// CancelRun transitions a queued or running run to canceled.
func (s *Store) CancelRun(ctx context.Context, id string, at time.Time) (news.Run, error) {
	query := `
UPDATE runs SET
	finished_at = CASE WHEN status = 'queued' THEN $1 ELSE finished_at END,
	status = 'canceled'
WHERE id = $2 AND status IN ('queued', 'running')
RETURNING ` + runColumns
	run, err := scanRun(s.pool.QueryRow(ctx, query, at, id))
	if err == nil {
		return run, nil
	}
	if !isNoRows(err) {
		return news.Run{}, fmt.Errorf("cancel run: %w", err)
	}
	current, err := s.GetRun(ctx, id)
	if err != nil {
		return news.Run{}, err
	}
	return news.Run{}, &news.ValidationError{
		Reason: fmt.Sprintf("run is already %s", current.Status),
		IDs:    []string{id},
	}
}
