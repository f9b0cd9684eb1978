package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/eventlog"
	"github.com/JakeFAU/esg-news-digest/internal/extract"
	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/storage/memory"
	"github.com/JakeFAU/esg-news-digest/internal/taxonomy"
	"github.com/JakeFAU/esg-news-digest/internal/urlcanon"
)

var epoch = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return epoch }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%d", s.n.Add(1)), nil
}

type fakeDiscoverer struct {
	urls map[string][]string
	err  error
}

func (d *fakeDiscoverer) Discover(_ context.Context, source news.Source) ([]news.Candidate, error) {
	var out []news.Candidate
	for _, u := range d.urls[source.ID] {
		out = append(out, news.Candidate{URL: u, CanonicalURL: urlcanon.Canonicalize(u)})
	}
	return out, d.err
}

type fakeFetcher struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	before func(url string)
}

func (f *fakeFetcher) Fetch(_ context.Context, req news.FetchRequest) (news.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	f.mu.Unlock()
	if f.before != nil {
		f.before(req.URL)
	}
	if err := f.fail[req.URL]; err != nil {
		return news.FetchResponse{}, err
	}
	return news.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(req.URL)}, nil
}

// fakeExtractor treats the body as the page URL and serves canned articles.
type fakeExtractor struct {
	articles map[string]news.Article
}

func (e fakeExtractor) Extract(body []byte, _ string) (news.Article, error) {
	a, ok := e.articles[string(body)]
	if !ok {
		return news.Article{}, extract.ErrNoArticle
	}
	return a, nil
}

type fakeClassifier struct {
	calls atomic.Int32
	err   error
	seen  []string
	mu    sync.Mutex
}

func (c *fakeClassifier) ClassifyAndSummarize(_ context.Context, req news.ClassifyRequest) (news.Classification, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.seen = req.TopicSlugs
	c.mu.Unlock()
	if c.err != nil {
		return news.Classification{}, c.err
	}
	return news.Classification{
		Relevant:     true,
		Topics:       []string{"climate-carbon"},
		Importance:   80,
		Bullets:      []string{"one", "two"},
		WhyItMatters: "because",
	}, nil
}

func (c *fakeClassifier) Available(context.Context) bool { return true }
func (c *fakeClassifier) Model() string                  { return "test-model" }

type fixedSelector struct{ c news.Classifier }

func (s fixedSelector) Select(context.Context) news.Classifier { return s.c }

type harness struct {
	store      *memory.Store
	discoverer *fakeDiscoverer
	fetcher    *fakeFetcher
	classifier *fakeClassifier
	orch       *Orchestrator
}

const (
	urlRelevant   = "https://news.test/carbon"
	urlOffTopic   = "https://news.test/sports"
	urlBroken     = "https://news.test/broken"
	urlUnreadable = "https://news.test/empty"
)

func newHarness(t *testing.T, store news.Store, concurrency int) *harness {
	t.Helper()
	mem, _ := store.(*memory.Store)
	ctx := context.Background()
	for _, topic := range taxonomy.DefaultTopics() {
		require.NoError(t, store.UpsertTopic(ctx, topic))
	}
	require.NoError(t, store.UpsertTopic(ctx, news.Topic{Slug: "disabled", Name: "Off", Keywords: []string{"football"}}))
	require.NoError(t, store.UpsertSource(ctx, news.Source{
		ID: "src-1", Name: "Wire", Kind: news.SourceKindFeed, URLs: []string{"https://news.test/feed"}, Enabled: true,
	}))

	h := &harness{
		store: mem,
		discoverer: &fakeDiscoverer{urls: map[string][]string{
			"src-1": {urlRelevant, urlOffTopic, urlBroken, urlUnreadable, urlRelevant + "?utm_source=x"},
		}},
		fetcher: &fakeFetcher{fail: map[string]error{
			urlBroken: errors.New("HTTP 503: Service Unavailable"),
		}},
		classifier: &fakeClassifier{},
	}
	extractor := fakeExtractor{articles: map[string]news.Article{
		urlRelevant: {Title: "Carbon market expands", Text: strings.Repeat("Carbon emissions trading grows. ", 10)},
		urlOffTopic: {Title: "Local football results", Text: strings.Repeat("The match ended in a draw. ", 10)},
	}}
	events := eventlog.New(store, fakeClock{}, eventlog.Config{}, zap.NewNop())
	h.orch = New(Dependencies{
		Store:       store,
		Discoverer:  h.discoverer,
		Fetcher:     h.fetcher,
		Extractor:   extractor,
		Classifiers: fixedSelector{c: h.classifier},
		Events:      events,
		IDs:         &seqIDs{},
		Clock:       fakeClock{},
	}, Config{ItemConcurrency: concurrency}, zap.NewNop())
	return h
}

func (h *harness) submitAndRun(t *testing.T, req SubmitRequest) news.Run {
	t.Helper()
	ctx := context.Background()
	_, err := h.orch.SubmitRun(ctx, req)
	require.NoError(t, err)
	claimed, err := h.orch.ClaimNextRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	final, err := h.orch.Execute(ctx, *claimed)
	require.NoError(t, err)
	return final
}

func itemByURL(t *testing.T, store *memory.Store, url string) news.ItemDetail {
	t.Helper()
	items, err := store.ListItems(context.Background(), news.ItemFilter{})
	require.NoError(t, err)
	for _, item := range items {
		if item.URL == url {
			detail, err := store.GetItem(context.Background(), item.ID)
			require.NoError(t, err)
			return detail
		}
	}
	t.Fatalf("no item for %s", url)
	return news.ItemDetail{}
}

func eventsOf(t *testing.T, store *memory.Store, runID string) []news.RunEvent {
	t.Helper()
	events, err := store.ListEvents(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	return events
}

func TestExecuteDiscoveryRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 2)
	run := h.submitAndRun(t, SubmitRequest{Kind: news.RunKindDiscovery})

	require.Equal(t, news.RunStatusSucceeded, run.Status)
	require.Equal(t, news.RunCounters{Processed: 2, Failed: 1, Skipped: 1}, run.Counters)
	require.NotNil(t, run.FinishedAt)

	relevant := itemByURL(t, h.store, urlRelevant)
	require.Equal(t, news.ItemStatusAnalyzed, relevant.Item.Status)
	require.NotNil(t, relevant.Item.FetchedAt)
	require.Equal(t, "test-model", relevant.Analysis.Model)
	require.True(t, relevant.Analysis.Relevant)
	require.Equal(t, "Carbon market expands", relevant.Article.Title)

	offTopic := itemByURL(t, h.store, urlOffTopic)
	require.Equal(t, news.ItemStatusAnalyzed, offTopic.Item.Status)
	require.Equal(t, news.ModelKeywordPrefilter, offTopic.Analysis.Model)
	require.False(t, offTopic.Analysis.Relevant)
	require.Empty(t, offTopic.Analysis.Topics)
	require.Zero(t, offTopic.Analysis.Importance)
	require.Equal(t, PrefilterWhy, offTopic.Analysis.WhyItMatters)

	broken := itemByURL(t, h.store, urlBroken)
	require.Equal(t, news.ItemStatusFailed, broken.Item.Status)
	require.Contains(t, broken.Item.ErrorText, "HTTP 503")

	unreadable := itemByURL(t, h.store, urlUnreadable)
	require.Equal(t, news.ItemStatusSkipped, unreadable.Item.Status)
	require.Equal(t, SkipReasonExtraction, unreadable.Item.ErrorText)
	require.Nil(t, unreadable.Article)

	// the utm variant canonicalizes onto the relevant item
	items, err := h.store.ListItems(context.Background(), news.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 4)

	// only the keyword-matched item reaches the classifier, with every enabled slug
	require.EqualValues(t, 1, h.classifier.calls.Load())
	require.Equal(t, taxonomy.Slugs(taxonomy.DefaultTopics()), h.classifier.seen)

	events := eventsOf(t, h.store, run.ID)
	last := events[len(events)-1]
	require.Equal(t, news.EventDone, last.Type)
	require.Contains(t, last.Message, "Processed: 2, Failed: 1, Skipped: 1")
}

func TestPrefilterNeverCallsClassifier(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 1)
	h.discoverer.urls["src-1"] = []string{urlOffTopic}
	run := h.submitAndRun(t, SubmitRequest{Kind: news.RunKindDiscovery})

	require.Equal(t, news.RunStatusSucceeded, run.Status)
	require.Zero(t, h.classifier.calls.Load())
	detail := itemByURL(t, h.store, urlOffTopic)
	require.Equal(t, news.ModelKeywordPrefilter, detail.Analysis.Model)
}

func TestClassifierFailureFallsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 1)
	h.discoverer.urls["src-1"] = []string{urlRelevant}
	h.classifier.err = errors.New("llm timeout")
	run := h.submitAndRun(t, SubmitRequest{Kind: news.RunKindDiscovery})

	require.Equal(t, news.RunStatusSucceeded, run.Status)
	require.Equal(t, 1, run.Counters.Processed)
	detail := itemByURL(t, h.store, urlRelevant)
	require.Equal(t, news.ItemStatusAnalyzed, detail.Item.Status)
	require.Equal(t, news.ModelErrorFallback, detail.Analysis.Model)
	require.False(t, detail.Analysis.Relevant)
	require.Equal(t, []string{"climate-carbon"}, detail.Analysis.Topics)
	require.Equal(t, FallbackImportance, detail.Analysis.Importance)
	require.Equal(t, []string{FallbackBullet}, detail.Analysis.Bullets)

	var sawError bool
	for _, ev := range eventsOf(t, h.store, run.ID) {
		if ev.Type == news.EventError && strings.HasPrefix(ev.Message, "LLM analysis failed") {
			sawError = true
		}
	}
	require.True(t, sawError)
}

func TestRediscoveryKeepsExistingItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 2)
	first := h.submitAndRun(t, SubmitRequest{Kind: news.RunKindDiscovery})
	require.Equal(t, 2, first.Counters.Processed)
	fetches := len(h.fetcher.calls)

	second := h.submitAndRun(t, SubmitRequest{Kind: news.RunKindDiscovery})
	require.Equal(t, news.RunStatusSucceeded, second.Status)
	require.Equal(t, news.RunCounters{}, second.Counters)
	require.Len(t, h.fetcher.calls, fetches)

	items, err := h.store.ListItems(context.Background(), news.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 4)
	require.Equal(t, news.ItemStatusFailed, itemByURL(t, h.store, urlBroken).Item.Status)
}

func TestSubmitReanalysisRejectsUnknownIDs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 1)
	h.submitAndRun(t, SubmitRequest{Kind: news.RunKindDiscovery})
	known := itemByURL(t, h.store, urlRelevant).Item.ID

	_, err := h.orch.SubmitRun(context.Background(), SubmitRequest{
		Kind:    news.RunKindReanalysis,
		ItemIDs: []string{known, "ghost"},
	})
	var verr *news.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"ghost"}, verr.IDs)

	_, err = h.orch.SubmitRun(context.Background(), SubmitRequest{
		Kind:    news.RunKindReanalysis,
		ItemIDs: []string{known, known},
	})
	require.ErrorIs(t, err, news.ErrValidation)

	_, err = h.orch.SubmitRun(context.Background(), SubmitRequest{Kind: "bogus"})
	require.ErrorIs(t, err, news.ErrValidation)

	runs, err := h.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestReanalysisResetsAndReprocesses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 1)
	h.submitAndRun(t, SubmitRequest{Kind: news.RunKindDiscovery})
	relevant := itemByURL(t, h.store, urlRelevant)
	broken := itemByURL(t, h.store, urlBroken)
	require.Equal(t, 1, int(h.classifier.calls.Load()))

	delete(h.fetcher.fail, urlBroken)
	run := h.submitAndRun(t, SubmitRequest{
		Kind:    news.RunKindReanalysis,
		ItemIDs: []string{relevant.Item.ID, broken.Item.ID},
	})

	require.Equal(t, news.RunStatusSucceeded, run.Status)
	require.Equal(t, news.RunCounters{Processed: 1, Skipped: 1}, run.Counters)
	require.EqualValues(t, 2, h.classifier.calls.Load())

	again := itemByURL(t, h.store, urlRelevant)
	require.Equal(t, news.ItemStatusAnalyzed, again.Item.Status)
	require.NotNil(t, again.Analysis)

	retried := itemByURL(t, h.store, urlBroken)
	require.Equal(t, news.ItemStatusSkipped, retried.Item.Status)
}

func TestEmptyReanalysisSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 1)
	run := h.submitAndRun(t, SubmitRequest{Kind: news.RunKindReanalysis})

	require.Equal(t, news.RunStatusSucceeded, run.Status)
	require.Equal(t, news.RunCounters{}, run.Counters)
	events := eventsOf(t, h.store, run.ID)
	require.Equal(t, news.EventDone, events[len(events)-1].Type)
}

func TestNoSourcesSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 1)
	run := h.submitAndRun(t, SubmitRequest{Kind: news.RunKindDiscovery, SourceIDs: []string{"unknown"}})

	require.Equal(t, news.RunStatusSucceeded, run.Status)
	var warned bool
	for _, ev := range eventsOf(t, h.store, run.ID) {
		if ev.Level == news.LevelWarn && ev.Type == news.EventDiscover {
			warned = true
		}
	}
	require.True(t, warned)
}

type brokenTopics struct {
	*memory.Store
}

func (brokenTopics) ListTopics(context.Context) ([]news.Topic, error) {
	return nil, errors.New("topics table unavailable")
}

func TestTopicLoadFailureFailsRun(t *testing.T) {
	t.Parallel()

	mem := memory.NewStore()
	h := newHarness(t, brokenTopics{Store: mem}, 1)
	run := h.submitAndRun(t, SubmitRequest{Kind: news.RunKindDiscovery})

	require.Equal(t, news.RunStatusFailed, run.Status)
	require.Contains(t, run.ErrorText, "topics table unavailable")
	require.Empty(t, h.fetcher.calls)
}

func TestCancelStopsStartingItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 1)
	h.discoverer.urls["src-1"] = []string{urlRelevant, urlOffTopic, urlUnreadable}
	ctx := context.Background()

	submitted, err := h.orch.SubmitRun(ctx, SubmitRequest{Kind: news.RunKindDiscovery})
	require.NoError(t, err)
	var (
		once      sync.Once
		cancelErr error
	)
	h.fetcher.before = func(string) {
		once.Do(func() {
			_, cancelErr = h.orch.CancelRun(ctx, submitted.ID)
		})
	}

	claimed, err := h.orch.ClaimNextRun(ctx)
	require.NoError(t, err)
	final, err := h.orch.Execute(ctx, *claimed)
	require.NoError(t, err)
	require.NoError(t, cancelErr)

	require.Equal(t, news.RunStatusCanceled, final.Status)
	require.Equal(t, news.RunCounters{Processed: 1}, final.Counters)
	require.Len(t, h.fetcher.calls, 1)
	require.Equal(t, news.ItemStatusNew, itemByURL(t, h.store, urlOffTopic).Item.Status)
}

func TestCancelAfterLastCheckpointReportsCanceled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 1)
	h.discoverer.urls["src-1"] = []string{urlRelevant}
	ctx := context.Background()

	submitted, err := h.orch.SubmitRun(ctx, SubmitRequest{Kind: news.RunKindDiscovery})
	require.NoError(t, err)
	h.fetcher.before = func(string) {
		_, err := h.orch.CancelRun(ctx, submitted.ID)
		require.NoError(t, err)
	}

	claimed, err := h.orch.ClaimNextRun(ctx)
	require.NoError(t, err)
	final, err := h.orch.Execute(ctx, *claimed)
	require.NoError(t, err)

	require.Equal(t, news.RunStatusCanceled, final.Status)
	require.Equal(t, news.RunCounters{Processed: 1}, final.Counters)
	events := eventsOf(t, h.store, final.ID)
	done := events[len(events)-1]
	require.Equal(t, news.EventDone, done.Type)
	require.Equal(t, news.LevelWarn, done.Level)
	require.True(t, strings.HasPrefix(done.Message, "Run canceled."), done.Message)
	require.Equal(t, string(news.RunStatusCanceled), done.Data["status"])
}

func TestConcurrentClaimIsExclusive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 1)
	_, err := h.orch.SubmitRun(context.Background(), SubmitRequest{Kind: news.RunKindDiscovery})
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		claims atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := h.orch.ClaimNextRun(context.Background())
			if err == nil && run != nil {
				claims.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, claims.Load())
}

func TestCancelRunRejectsFinishedRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), 1)
	run := h.submitAndRun(t, SubmitRequest{Kind: news.RunKindReanalysis})

	_, err := h.orch.CancelRun(context.Background(), run.ID)
	require.ErrorIs(t, err, news.ErrValidation)

	_, err = h.orch.CancelRun(context.Background(), "ghost")
	require.ErrorIs(t, err, news.ErrNotFound)
}
