// Package memory provides in-memory record and blob stores for tests and local mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// Store is an in-memory news.Store for development and tests.
type Store struct {
	mu          sync.RWMutex
	runs        map[string]news.Run
	runSeq      map[string]int64
	items       map[string]news.Item
	itemSeq     map[string]int64
	byCanonical map[string]string
	articles    map[string]news.Article
	analyses    map[string]news.Analysis
	events      []news.RunEvent
	topics      []news.Topic
	sources     []news.Source
	seq         int64
	nextEventID int64
}

var _ news.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		runs:        make(map[string]news.Run),
		runSeq:      make(map[string]int64),
		items:       make(map[string]news.Item),
		itemSeq:     make(map[string]int64),
		byCanonical: make(map[string]string),
		articles:    make(map[string]news.Article),
		analyses:    make(map[string]news.Analysis),
	}
}

// CreateRun stores a new run.
func (s *Store) CreateRun(_ context.Context, run news.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.seq++
	s.runs[run.ID] = cloneRun(run)
	s.runSeq[run.ID] = s.seq
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(_ context.Context, id string) (news.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return news.Run{}, fmt.Errorf("run %s: %w", id, news.ErrNotFound)
	}
	return cloneRun(run), nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(_ context.Context, limit int) ([]news.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]news.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.runSeq[out[i].ID] > s.runSeq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimNextRun moves the oldest queued run to running under the store lock.
func (s *Store) ClaimNextRun(_ context.Context, startedAt time.Time) (*news.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		picked string
		found  bool
	)
	for id, run := range s.runs {
		if run.Status != news.RunStatusQueued {
			continue
		}
		if !found || s.olderRun(id, picked) {
			picked = id
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	run := s.runs[picked]
	run.Status = news.RunStatusRunning
	run.StartedAt = pointerTime(startedAt)
	s.runs[picked] = run
	out := cloneRun(run)
	return &out, nil
}

func (s *Store) olderRun(a, b string) bool {
	ra, rb := s.runs[a], s.runs[b]
	if !ra.CreatedAt.Equal(rb.CreatedAt) {
		return ra.CreatedAt.Before(rb.CreatedAt)
	}
	return s.runSeq[a] < s.runSeq[b]
}

// FinishRun records the outcome of a running run.
func (s *Store) FinishRun(
	_ context.Context,
	id string,
	status news.RunStatus,
	counters news.RunCounters,
	errText string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, news.ErrNotFound)
	}
	run.Counters = counters
	if run.Status == news.RunStatusRunning {
		run.Status = status
		run.ErrorText = errText
	}
	if run.FinishedAt == nil {
		run.FinishedAt = pointerTime(at)
	}
	s.runs[id] = run
	return nil
}

// CancelRun marks a queued or running run as canceled.
func (s *Store) CancelRun(_ context.Context, id string, at time.Time) (news.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return news.Run{}, fmt.Errorf("run %s: %w", id, news.ErrNotFound)
	}
	if run.Status.Terminal() {
		return news.Run{}, &news.ValidationError{
			Reason: fmt.Sprintf("run is already %s", run.Status),
			IDs:    []string{id},
		}
	}
	if run.Status == news.RunStatusQueued {
		run.FinishedAt = pointerTime(at)
	}
	run.Status = news.RunStatusCanceled
	s.runs[id] = run
	return cloneRun(run), nil
}

// UpsertItem inserts item unless its canonical URL already exists.
func (s *Store) UpsertItem(_ context.Context, item news.Item) (news.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byCanonical[item.CanonicalURL]; ok {
		return s.items[id], false, nil
	}
	if _, exists := s.items[item.ID]; exists {
		return news.Item{}, false, fmt.Errorf("item %s already exists", item.ID)
	}
	s.seq++
	s.items[item.ID] = item
	s.itemSeq[item.ID] = s.seq
	s.byCanonical[item.CanonicalURL] = item.ID
	return item, true, nil
}

// GetItem returns the item with its article and analysis when present.
func (s *Store) GetItem(_ context.Context, id string) (news.ItemDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return news.ItemDetail{}, fmt.Errorf("item %s: %w", id, news.ErrNotFound)
	}
	detail := news.ItemDetail{Item: item}
	if article, ok := s.articles[id]; ok {
		detail.Article = &article
	}
	if analysis, ok := s.analyses[id]; ok {
		a := cloneAnalysis(analysis)
		detail.Analysis = &a
	}
	return detail, nil
}

// GetItemsByIDs returns the items that exist among ids, in the order given.
func (s *Store) GetItemsByIDs(_ context.Context, ids []string) ([]news.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]news.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// ListItems returns items newest first.
func (s *Store) ListItems(_ context.Context, filter news.ItemFilter) ([]news.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]news.Item, 0, len(s.items))
	for _, item := range s.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.itemSeq[out[i].ID] > s.itemSeq[out[j].ID]
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateItemStatus sets status and error text. A nil fetchedAt leaves the
// previous fetch time untouched.
func (s *Store) UpdateItemStatus(
	_ context.Context,
	id string,
	status news.ItemStatus,
	errText string,
	fetchedAt *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s: %w", id, news.ErrNotFound)
	}
	item.Status = status
	item.ErrorText = errText
	if fetchedAt != nil {
		item.FetchedAt = pointerTime(*fetchedAt)
	}
	s.items[id] = item
	return nil
}

// ResetItems clears derived records for ids. Nothing changes if any id is unknown.
func (s *Store) ResetItems(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, id := range ids {
		if _, ok := s.items[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("reset items: %w", &news.ValidationError{Reason: "unknown item ids", IDs: missing})
	}
	for _, id := range ids {
		item := s.items[id]
		item.Status = news.ItemStatusNew
		item.ErrorText = ""
		s.items[id] = item
		delete(s.articles, id)
		delete(s.analyses, id)
	}
	return nil
}

// SaveArticle stores or replaces the article for an item.
func (s *Store) SaveArticle(_ context.Context, article news.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[article.ItemID]; !ok {
		return fmt.Errorf("item %s: %w", article.ItemID, news.ErrNotFound)
	}
	s.articles[article.ItemID] = article
	return nil
}

// SaveAnalysis stores or replaces the analysis for an item.
func (s *Store) SaveAnalysis(_ context.Context, analysis news.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[analysis.ItemID]; !ok {
		return fmt.Errorf("item %s: %w", analysis.ItemID, news.ErrNotFound)
	}
	s.analyses[analysis.ItemID] = cloneAnalysis(analysis)
	return nil
}

// ListDigestEntries returns analyzed relevant items discovered within [since, until].
func (s *Store) ListDigestEntries(_ context.Context, since, until time.Time) ([]news.DigestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[string]string, len(s.sources))
	for _, src := range s.sources {
		names[src.ID] = src.Name
	}
	var out []news.DigestEntry
	for id, item := range s.items {
		if item.Status != news.ItemStatusAnalyzed {
			continue
		}
		if item.CreatedAt.Before(since) || item.CreatedAt.After(until) {
			continue
		}
		analysis, ok := s.analyses[id]
		if !ok || !analysis.Relevant {
			continue
		}
		article, ok := s.articles[id]
		if !ok {
			continue
		}
		out = append(out, news.DigestEntry{
			Item:       item,
			SourceName: names[item.SourceID],
			Article:    article,
			Analysis:   cloneAnalysis(analysis),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Item.CreatedAt.After(out[j].Item.CreatedAt)
	})
	return out, nil
}

// AppendEvent assigns the next event id and stores the event.
func (s *Store) AppendEvent(_ context.Context, event news.RunEvent) (news.RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	event.ID = s.nextEventID
	s.events = append(s.events, event)
	return event, nil
}

// ListEvents returns up to limit events for runID with an id greater than after.
func (s *Store) ListEvents(_ context.Context, runID string, after int64, limit int) ([]news.RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := sort.Search(len(s.events), func(i int) bool { return s.events[i].ID > after })
	var out []news.RunEvent
	for _, ev := range s.events[start:] {
		if ev.RunID != runID {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CountEventsByType aggregates the events of a run by type.
func (s *Store) CountEventsByType(_ context.Context, runID string) (map[news.EventType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[news.EventType]int)
	for _, ev := range s.events {
		if ev.RunID == runID {
			counts[ev.Type]++
		}
	}
	return counts, nil
}

// ListTopics returns topics in insertion order.
func (s *Store) ListTopics(_ context.Context) ([]news.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]news.Topic, len(s.topics))
	for i, t := range s.topics {
		t.Keywords = append([]string(nil), t.Keywords...)
		out[i] = t
	}
	return out, nil
}

// UpsertTopic inserts or replaces a topic by slug.
func (s *Store) UpsertTopic(_ context.Context, topic news.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic.Keywords = append([]string(nil), topic.Keywords...)
	for i, existing := range s.topics {
		if existing.Slug == topic.Slug {
			s.topics[i] = topic
			return nil
		}
	}
	s.topics = append(s.topics, topic)
	return nil
}

// ListSources returns enabled sources, restricted to ids when provided.
func (s *Store) ListSources(_ context.Context, ids []string) ([]news.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []news.Source
	for _, src := range s.sources {
		if !src.Enabled {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[src.ID]; !ok {
				continue
			}
		}
		src.URLs = append([]string(nil), src.URLs...)
		out = append(out, src)
	}
	return out, nil
}

// UpsertSource inserts or replaces a source by id.
func (s *Store) UpsertSource(_ context.Context, source news.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	source.URLs = append([]string(nil), source.URLs...)
	for i, existing := range s.sources {
		if existing.ID == source.ID {
			s.sources[i] = source
			return nil
		}
	}
	s.sources = append(s.sources, source)
	return nil
}

func cloneRun(run news.Run) news.Run {
	run.SourceIDs = append([]string(nil), run.SourceIDs...)
	run.ItemIDs = append([]string(nil), run.ItemIDs...)
	if run.StartedAt != nil {
		run.StartedAt = pointerTime(*run.StartedAt)
	}
	if run.FinishedAt != nil {
		run.FinishedAt = pointerTime(*run.FinishedAt)
	}
	return run
}

// cloneAnalysis keeps empty lists non-nil so they serialize as [].
func cloneAnalysis(a news.Analysis) news.Analysis {
	a.Topics = append(make([]string, 0, len(a.Topics)), a.Topics...)
	a.Bullets = append(make([]string, 0, len(a.Bullets)), a.Bullets...)
	return a
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
