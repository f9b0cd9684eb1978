package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// MessageKind distinguishes stream payloads.
type MessageKind string

// Stream message kinds.
const (
	MessageEvents MessageKind = "events"
	MessageEnd    MessageKind = "end"
)

// Message is one push to a stream observer.
type Message struct {
	Kind   MessageKind     `json:"kind"`
	Events []news.RunEvent `json:"events,omitempty"`
	Status news.RunStatus  `json:"status"`
}

// Stream replays a run's history from the start and then re-polls on a fixed
// interval, pushing each non-empty batch to send. Once the run is terminal and
// fully drained it sends a single end message and returns. A run that already
// finished is replayed once and ended immediately.
func (l *Log) Stream(ctx context.Context, runID string, send func(Message) error) error {
	var cursor int64
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		page, err := l.Poll(ctx, runID, cursor)
		if err != nil {
			return err
		}
		if len(page.Events) > 0 {
			cursor = page.NextCursor
			if err := send(Message{Kind: MessageEvents, Events: page.Events, Status: page.Status}); err != nil {
				return fmt.Errorf("send events: %w", err)
			}
		}
		if page.IsComplete {
			if err := send(Message{Kind: MessageEnd, Status: page.Status}); err != nil {
				return fmt.Errorf("send end: %w", err)
			}
			return nil
		}
		// a full page means more history is already waiting
		if len(page.Events) == l.pageSize {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
