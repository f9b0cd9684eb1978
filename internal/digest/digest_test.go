package digest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type seedItem struct {
	id         string
	createdAt  time.Time
	status     news.ItemStatus
	relevant   bool
	importance int
	topics     []string
	title      string
	published  *time.Time
}

func seedStore(t *testing.T, items []seedItem) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.UpsertSource(ctx, news.Source{ID: "src-1", Name: "ESG Wire", Kind: news.SourceKindFeed, Enabled: true}))
	for _, topic := range []news.Topic{
		{Slug: "climate-carbon", Name: "Climate & Carbon", Enabled: true},
		{Slug: "esg-regulation", Name: "ESG Regulation", Enabled: true},
	} {
		require.NoError(t, store.UpsertTopic(ctx, topic))
	}
	for _, it := range items {
		_, _, err := store.UpsertItem(ctx, news.Item{
			ID:           it.id,
			SourceID:     "src-1",
			URL:          "https://example.com/" + it.id,
			CanonicalURL: "https://example.com/" + it.id,
			Status:       news.ItemStatusNew,
			CreatedAt:    it.createdAt,
		})
		require.NoError(t, err)
		require.NoError(t, store.SaveArticle(ctx, news.Article{
			ItemID:      it.id,
			Title:       it.title,
			Text:        "body",
			PublishedAt: it.published,
		}))
		require.NoError(t, store.SaveAnalysis(ctx, news.Analysis{
			ItemID:       it.id,
			Relevant:     it.relevant,
			Topics:       it.topics,
			Importance:   it.importance,
			Bullets:      []string{"first point", "second point"},
			WhyItMatters: "It matters.",
			Model:        "mock-llm-v1",
		}))
		require.NoError(t, store.UpdateItemStatus(ctx, it.id, it.status, "", nil))
	}
	return store
}

func TestBuild_SelectsWindowAndOrdersByImportance(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	store := seedStore(t, []seedItem{
		{id: "low", createdAt: now.Add(-2 * time.Hour), status: news.ItemStatusAnalyzed, relevant: true, importance: 40, topics: []string{"climate-carbon"}, title: "Low"},
		{id: "high", createdAt: now.Add(-3 * time.Hour), status: news.ItemStatusAnalyzed, relevant: true, importance: 90, topics: []string{"climate-carbon", "esg-regulation"}, title: "High", published: &published},
		{id: "irrelevant", createdAt: now.Add(-time.Hour), status: news.ItemStatusAnalyzed, relevant: false, importance: 99, topics: []string{"climate-carbon"}, title: "Irrelevant"},
		{id: "old", createdAt: now.Add(-48 * time.Hour), status: news.ItemStatusAnalyzed, relevant: true, importance: 80, topics: []string{"climate-carbon"}, title: "Old"},
		{id: "pending", createdAt: now.Add(-time.Hour), status: news.ItemStatusExtracted, relevant: true, importance: 70, topics: []string{"climate-carbon"}, title: "Pending"},
		{id: "unknown-topic", createdAt: now.Add(-time.Hour), status: news.ItemStatusAnalyzed, relevant: true, importance: 40, topics: []string{"water"}, title: "Water"},
	})
	b := NewBuilder(store, nil, fixedClock{now: now}, Config{}, zap.NewNop())

	d, err := b.Build(context.Background(), now.Add(-24*time.Hour), now)
	require.NoError(t, err)

	var ids []string
	for _, a := range d.Articles {
		ids = append(ids, a.ItemID)
	}
	// equal importance keeps newest-discovered first
	require.Equal(t, []string{"high", "unknown-topic", "low"}, ids)
	require.Equal(t, Stats{TotalArticles: 3, TopicCount: 3, DateRange: "Oct 18, 2026 - Oct 19, 2026"}, d.Stats)
	require.Equal(t, "ESG Wire", d.Articles[0].Source)
	require.Equal(t, []TopicRef{{Slug: "climate-carbon", Name: "Climate & Carbon"}, {Slug: "esg-regulation", Name: "ESG Regulation"}}, d.Articles[0].Topics)
	require.Equal(t, []TopicRef{{Slug: "water", Name: "water"}}, d.Articles[1].Topics)

	require.Len(t, d.Groups, 3)
	require.Equal(t, "climate-carbon", d.Groups[0].Topic.Slug)
	require.Len(t, d.Groups[0].Articles, 2)
	require.Equal(t, "esg-regulation", d.Groups[1].Topic.Slug)
	require.Equal(t, "water", d.Groups[2].Topic.Slug)
}

func TestBuild_RendersTextAndEscapedHTML(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	store := seedStore(t, []seedItem{
		{id: "a", createdAt: now.Add(-time.Hour), status: news.ItemStatusAnalyzed, relevant: true, importance: 75, topics: []string{"climate-carbon"}, title: `Carbon <tax> & "levies"`, published: &published},
	})
	b := NewBuilder(store, nil, fixedClock{now: now}, Config{}, nil)

	d, err := b.Build(context.Background(), now.Add(-24*time.Hour), now)
	require.NoError(t, err)

	want := "ESG NEWS DIGEST\n" + strings.Repeat("=", 50) + "\nPeriod: Oct 18, 2026 - Oct 19, 2026\n\n" +
		"\n• Carbon <tax> & \"levies\"\n" +
		"  Topics: [Climate & Carbon]\n" +
		"  Source: ESG Wire | Oct 18, 2026\n" +
		"  Link: https://example.com/a\n" +
		"\n  Key Points:\n" +
		"    - first point\n" +
		"    - second point\n" +
		"\n  Why it matters: It matters.\n"
	require.Equal(t, want, d.Text)

	require.Contains(t, d.HTML, "<title>ESG News Digest - Oct 18, 2026 - Oct 19, 2026</title>")
	require.Contains(t, d.HTML, `<a href="https://example.com/a">Carbon &lt;tax&gt; &amp; &#34;levies&#34;</a>`)
	require.Contains(t, d.HTML, `<span class="topic-badge">Climate &amp; Carbon</span>`)
	require.Contains(t, d.HTML, "<li>first point</li>")
	require.NotContains(t, d.HTML, "<tax>")
}

func TestBuild_EmptyAndInvalidWindow(t *testing.T) {
	t.Parallel()

	b := NewBuilder(seedStore(t, nil), nil, fixedClock{now: now}, Config{}, nil)
	d, err := b.Build(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Empty(t, d.Articles)
	require.Equal(t, 0, d.Stats.TotalArticles)
	require.True(t, strings.HasPrefix(d.Text, "ESG NEWS DIGEST\n"))

	_, err = b.Build(context.Background(), now, now.Add(-time.Hour))
	require.ErrorIs(t, err, news.ErrValidation)
}

func TestPublish_WritesBothRenderings(t *testing.T) {
	t.Parallel()

	store := seedStore(t, []seedItem{
		{id: "a", createdAt: now.Add(-time.Hour), status: news.ItemStatusAnalyzed, relevant: true, importance: 75, topics: []string{"climate-carbon"}, title: "Carbon"},
	})
	blobs := memory.NewBlobStore()
	b := NewBuilder(store, blobs, fixedClock{now: now}, Config{Prefix: "reports/"}, zap.NewNop())

	res, err := b.Publish(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, "memory://reports/20261019T120000Z/digest.html", res.HTMLURI)
	require.Equal(t, "memory://reports/20261019T120000Z/digest.txt", res.TextURI)
	require.Equal(t, 1, res.Stats.TotalArticles)

	obj, ok := blobs.Get("reports/20261019T120000Z/digest.txt")
	require.True(t, ok)
	require.Equal(t, "text/plain; charset=utf-8", obj.ContentType)
	require.Contains(t, string(obj.Data), "• Carbon")

	_, err = b.Publish(context.Background(), 0)
	require.ErrorIs(t, err, news.ErrValidation)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket missing")
}

func TestPublish_BlobStoreErrors(t *testing.T) {
	t.Parallel()

	b := NewBuilder(seedStore(t, nil), nil, fixedClock{now: now}, Config{}, nil)
	_, err := b.Publish(context.Background(), time.Hour)
	require.EqualError(t, err, "blob store is not configured")

	b = NewBuilder(seedStore(t, nil), failingBlobs{}, fixedClock{now: now}, Config{}, nil)
	_, err = b.Publish(context.Background(), time.Hour)
	require.EqualError(t, err, "write html digest: bucket missing")
}
