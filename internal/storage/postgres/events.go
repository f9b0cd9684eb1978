package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// AppendEvent inserts an event and returns it with its assigned id. Appends
// for the same run are serialized with a transaction-scoped advisory lock so
// ids become visible to readers in increasing order.
func (s *Store) AppendEvent(ctx context.Context, event news.RunEvent) (news.RunEvent, error) {
	data, err := encodeData(event.Data)
	if err != nil {
		return news.RunEvent{}, err
	}
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, event.RunID); err != nil {
			return fmt.Errorf("lock run events: %w", err)
		}
		insert := `
INSERT INTO run_events (run_id, level, type, message, data, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`
		if err := tx.QueryRow(ctx, insert,
			event.RunID,
			string(event.Level),
			string(event.Type),
			event.Message,
			data,
			event.CreatedAt,
		).Scan(&event.ID); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
	if err != nil {
		return news.RunEvent{}, err
	}
	return event, nil
}

// ListEvents returns up to limit events for runID with an id greater than after.
func (s *Store) ListEvents(ctx context.Context, runID string, after int64, limit int) ([]news.RunEvent, error) {
	builder := psql.Select("id, run_id, level, type, message, data, created_at").
		From("run_events").
		Where(sq.Eq{"run_id": runID}).
		Where(sq.Gt{"id": after}).
		OrderBy("id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list events: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []news.RunEvent
	for rows.Next() {
		var (
			ev   news.RunEvent
			data string
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Level, &ev.Type, &ev.Message, &data, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.Data = decodeData(data)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// CountEventsByType aggregates a run's events by type.
func (s *Store) CountEventsByType(ctx context.Context, runID string) (map[news.EventType]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT type, COUNT(*) FROM run_events WHERE run_id = $1 GROUP BY type`, runID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[news.EventType]int)
	for rows.Next() {
		var (
			eventType news.EventType
			n         int
		)
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[eventType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return counts, nil
}
