// Package news defines the domain types and collaborator contracts shared by
// the run processing pipeline.
package news

import (
	"net/http"
	"time"
)

// RunKind selects how a run resolves its item set.
type RunKind string

// Run kinds accepted by the orchestrator.
const (
	RunKindDiscovery  RunKind = "discovery"
	RunKindReanalysis RunKind = "reanalysis"
)

// Valid reports whether k is a known run kind.
func (k RunKind) Valid() bool {
	return k == RunKindDiscovery || k == RunKindReanalysis
}

// RunStatus represents the lifecycle state of a run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether no further transitions are possible from s.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// Run is one unit of pipeline work.
type Run struct {
	ID          string      `json:"id"`
	Kind        RunKind     `json:"kind"`
	Status      RunStatus   `json:"status"`
	SourceIDs   []string    `json:"sourceIds,omitempty"`
	ItemIDs     []string    `json:"itemIds,omitempty"`
	TriggeredBy string      `json:"triggeredBy,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	FinishedAt  *time.Time  `json:"finishedAt,omitempty"`
	Counters    RunCounters `json:"counters"`
	ErrorText   string      `json:"error,omitempty"`
}

// RunCounters tracks per-item outcomes for a run.
type RunCounters struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ItemStatus is the pipeline stage an item has reached.
type ItemStatus string

// Item status values.
const (
	ItemStatusNew       ItemStatus = "new"
	ItemStatusFetched   ItemStatus = "fetched"
	ItemStatusExtracted ItemStatus = "extracted"
	ItemStatusAnalyzed  ItemStatus = "analyzed"
	ItemStatusSkipped   ItemStatus = "skipped"
	ItemStatusFailed    ItemStatus = "failed"
)

// Item is one article candidate, unique by canonical URL.
type Item struct {
	ID           string     `json:"id"`
	SourceID     string     `json:"sourceId,omitempty"`
	URL          string     `json:"url"`
	CanonicalURL string     `json:"canonicalUrl"`
	Status       ItemStatus `json:"status"`
	FetchedAt    *time.Time `json:"fetchedAt,omitempty"`
	ErrorText    string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Article is the readable content extracted for an item.
type Article struct {
	ItemID      string     `json:"itemId"`
	Title       string     `json:"title"`
	Author      string     `json:"author,omitempty"`
	Text        string     `json:"text"`
	Language    string     `json:"language,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	ExtractedAt time.Time  `json:"extractedAt"`
}

// Model identities recorded on analyses that did not come from a language model.
const (
	ModelKeywordPrefilter = "keyword-prefilter"
	ModelErrorFallback    = "error-fallback"
)

// Analysis is the relevance and summary result for an item.
type Analysis struct {
	ItemID       string    `json:"itemId"`
	Relevant     bool      `json:"relevant"`
	Topics       []string  `json:"topics"`
	Importance   int       `json:"importance"`
	Bullets      []string  `json:"bullets"`
	WhyItMatters string    `json:"whyItMatters"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ItemDetail bundles an item with its optional article and analysis.
type ItemDetail struct {
	Item     Item      `json:"item"`
	Article  *Article  `json:"article,omitempty"`
	Analysis *Analysis `json:"analysis,omitempty"`
}

// Topic is a taxonomy entry.
type Topic struct {
	Slug     string   `json:"slug" yaml:"slug"`
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
}

// SourceKind selects the discovery strategy for a source.
type SourceKind string

// Source kinds.
const (
	SourceKindFeed SourceKind = "feed"
	SourceKindPage SourceKind = "page"
)

// Selectors configures link selection for page sources.
type Selectors struct {
	ListPageURL  string `json:"listPageUrl,omitempty" yaml:"list_page_url"`
	LinkSelector string `json:"linkSelector,omitempty" yaml:"link_selector"`
}

// Source is a configured place to discover articles from.
type Source struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Kind      SourceKind `json:"kind" yaml:"kind"`
	URLs      []string   `json:"urls" yaml:"urls"`
	Selectors Selectors  `json:"selectors" yaml:"selectors"`
	Enabled   bool       `json:"enabled" yaml:"enabled"`
}

// Candidate is one URL produced by discovery.
type Candidate struct {
	URL          string
	CanonicalURL string
}

// EventLevel is the severity of a run event.
type EventLevel string

// Event levels.
const (
	LevelDebug EventLevel = "debug"
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// EventType is the fixed vocabulary of run event types.
type EventType string

// Event types.
const (
	EventDiscover  EventType = "DISCOVER"
	EventFetch     EventType = "FETCH"
	EventExtract   EventType = "EXTRACT"
	EventPrefilter EventType = "PREFILTER"
	EventClassify  EventType = "CLASSIFY"
	EventSummarize EventType = "SUMMARIZE"
	EventDone      EventType = "DONE"
	EventError     EventType = "ERROR"
)

// RunEvent is one immutable entry in a run's event log. ID is assigned by the
// store and increases in insertion order.
type RunEvent struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"runId"`
	Level     EventLevel     `json:"level"`
	Type      EventType      `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	Status ItemStatus
	Limit  int
}

// DigestEntry is an analyzed, relevant item joined with its content.
type DigestEntry struct {
	Item       Item
	SourceName string
	Article    Article
	Analysis   Analysis
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ClassifyRequest is the input to a Classifier.
type ClassifyRequest struct {
	Title      string
	Body       string
	TopicSlugs []string
}

// Classification is the structured output of a Classifier.
type Classification struct {
	Relevant     bool     `json:"relevant"`
	Topics       []string `json:"topics"`
	Importance   int      `json:"importance" validate:"gte=0,lte=100"`
	Bullets      []string `json:"summaryBullets" validate:"min=2,max=4,dive,required"`
	WhyItMatters string   `json:"whyItMatters" validate:"required"`
}
