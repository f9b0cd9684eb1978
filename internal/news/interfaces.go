package news

import (
	"context"
	"io"
	"time"
)

// RunStore persists runs and performs the atomic claim.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	// ClaimNextRun moves the oldest queued run to running. It returns nil
	// without error when nothing is queued.
	ClaimNextRun(ctx context.Context, startedAt time.Time) (*Run, error)
	// FinishRun records counters and the terminal status. A run that is no
	// longer running keeps its status.
	FinishRun(ctx context.Context, id string, status RunStatus, counters RunCounters, errText string, at time.Time) error
	CancelRun(ctx context.Context, id string, at time.Time) (Run, error)
}

// ItemStore persists items and their article and analysis records.
type ItemStore interface {
	// UpsertItem inserts the item unless its canonical URL is already known.
	// It returns the stored item and whether it was newly created.
	UpsertItem(ctx context.Context, item Item) (Item, bool, error)
	GetItem(ctx context.Context, id string) (ItemDetail, error)
	GetItemsByIDs(ctx context.Context, ids []string) ([]Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
	UpdateItemStatus(ctx context.Context, id string, status ItemStatus, errText string, fetchedAt *time.Time) error
	// ResetItems deletes prior articles and analyses and sets status to new,
	// all or nothing.
	ResetItems(ctx context.Context, ids []string) error
	SaveArticle(ctx context.Context, article Article) error
	SaveAnalysis(ctx context.Context, analysis Analysis) error
	ListDigestEntries(ctx context.Context, since, until time.Time) ([]DigestEntry, error)
}

// EventStore is the append-only backing store of the event log.
type EventStore interface {
	AppendEvent(ctx context.Context, event RunEvent) (RunEvent, error)
	ListEvents(ctx context.Context, runID string, after int64, limit int) ([]RunEvent, error)
	CountEventsByType(ctx context.Context, runID string) (map[EventType]int, error)
}

// TopicStore exposes the taxonomy.
type TopicStore interface {
	ListTopics(ctx context.Context) ([]Topic, error)
	UpsertTopic(ctx context.Context, topic Topic) error
}

// SourceStore exposes configured sources.
type SourceStore interface {
	// ListSources returns enabled sources, restricted to ids when non-empty.
	ListSources(ctx context.Context, ids []string) ([]Source, error)
	UpsertSource(ctx context.Context, source Source) error
}

// Store aggregates every persistence contract the pipeline needs.
type Store interface {
	RunStore
	ItemStore
	EventStore
	TopicStore
	SourceStore
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Discoverer produces candidate URLs for a source.
type Discoverer interface {
	Discover(ctx context.Context, source Source) ([]Candidate, error)
}

// Extractor turns raw HTML into a readable article.
type Extractor interface {
	Extract(html []byte, pageURL string) (Article, error)
}

// Classifier is a language-model backend producing structured analyses.
type Classifier interface {
	ClassifyAndSummarize(ctx context.Context, req ClassifyRequest) (Classification, error)
	Available(ctx context.Context) bool
	Model() string
}

// BlobStore writes rendered artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run completion notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
