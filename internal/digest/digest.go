// Package digest assembles analyzed, relevant articles from a time window
// into HTML and plain-text digests.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/metrics"
	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// DefaultPrefix is the blob path prefix for persisted digests.
const DefaultPrefix = "digests"

// Store is the read side the builder needs.
type Store interface {
	ListDigestEntries(ctx context.Context, since, until time.Time) ([]news.DigestEntry, error)
	ListTopics(ctx context.Context) ([]news.Topic, error)
}

// TopicRef names a topic on an article.
type TopicRef struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Article is one digest entry.
type Article struct {
	ItemID       string     `json:"itemId"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	Source       string     `json:"source"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	Bullets      []string   `json:"bullets"`
	WhyItMatters string     `json:"whyItMatters"`
	Importance   int        `json:"importance"`
	Topics       []TopicRef `json:"topics"`
}

// TopicGroup lists the articles tagged with one topic, most important first.
type TopicGroup struct {
	Topic    TopicRef  `json:"topic"`
	Articles []Article `json:"articles"`
}

// Stats summarizes a digest.
type Stats struct {
	TotalArticles int    `json:"totalArticles"`
	TopicCount    int    `json:"topicCount"`
	DateRange     string `json:"dateRange"`
}

// Digest is an assembled and rendered digest.
type Digest struct {
	Start    time.Time    `json:"start"`
	End      time.Time    `json:"end"`
	Articles []Article    `json:"articles"`
	Groups   []TopicGroup `json:"groups"`
	HTML     string       `json:"-"`
	Text     string       `json:"-"`
	Stats    Stats        `json:"stats"`
}

// Result describes a digest written to blob storage.
type Result struct {
	Stats   Stats  `json:"stats"`
	HTMLURI string `json:"htmlUri"`
	TextURI string `json:"textUri"`
}

// Config controls where digests are written.
type Config struct {
	Prefix string
}

// Builder assembles digests from the store and persists renderings.
type Builder struct {
	store  Store
	blobs  news.BlobStore
	clock  news.Clock
	cfg    Config
	logger *zap.Logger
}

// NewBuilder constructs a Builder. blobs may be nil when only Build is used.
func NewBuilder(store Store, blobs news.BlobStore, clock news.Clock, cfg Config, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Builder{store: store, blobs: blobs, clock: clock, cfg: cfg, logger: logger}
}

// Build selects analyzed relevant items discovered in [start, end] and
// renders them ordered by importance.
func (b *Builder) Build(ctx context.Context, start, end time.Time) (Digest, error) {
	if end.Before(start) {
		return Digest{}, &news.ValidationError{Reason: "digest window ends before it starts"}
	}
	entries, err := b.store.ListDigestEntries(ctx, start, end)
	if err != nil {
		return Digest{}, fmt.Errorf("list digest entries: %w", err)
	}
	topics, err := b.store.ListTopics(ctx)
	if err != nil {
		return Digest{}, fmt.Errorf("list topics: %w", err)
	}
	names := make(map[string]string, len(topics))
	order := make(map[string]int, len(topics))
	for i, t := range topics {
		names[t.Slug] = t.Name
		order[t.Slug] = i
	}

	articles := make([]Article, 0, len(entries))
	unique := make(map[string]struct{})
	for _, e := range entries {
		refs := make([]TopicRef, 0, len(e.Analysis.Topics))
		for _, slug := range e.Analysis.Topics {
			unique[slug] = struct{}{}
			name := names[slug]
			if name == "" {
				name = slug
			}
			refs = append(refs, TopicRef{Slug: slug, Name: name})
		}
		articles = append(articles, Article{
			ItemID:       e.Item.ID,
			Title:        e.Article.Title,
			URL:          e.Item.URL,
			Source:       e.SourceName,
			PublishedAt:  e.Article.PublishedAt,
			Bullets:      e.Analysis.Bullets,
			WhyItMatters: e.Analysis.WhyItMatters,
			Importance:   e.Analysis.Importance,
			Topics:       refs,
		})
	}
	// stable so equal importance keeps newest-discovered first
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Importance > articles[j].Importance
	})

	d := Digest{
		Start:    start,
		End:      end,
		Articles: articles,
		Groups:   groupByTopic(articles, order),
		Stats: Stats{
			TotalArticles: len(articles),
			TopicCount:    len(unique),
			DateRange:     formatRange(start, end),
		},
	}
	if d.HTML, err = renderHTML(d); err != nil {
		return Digest{}, err
	}
	d.Text = renderText(d)
	metrics.ObserveDigest(len(articles))
	return d, nil
}

// Publish builds the digest for the window ending now and writes both
// renderings to blob storage.
func (b *Builder) Publish(ctx context.Context, window time.Duration) (Result, error) {
	if window <= 0 {
		return Result{}, &news.ValidationError{Reason: "digest window must be positive"}
	}
	if b.blobs == nil {
		return Result{}, fmt.Errorf("blob store is not configured")
	}
	end := b.clock.Now().UTC()
	start := end.Add(-window)
	d, err := b.Build(ctx, start, end)
	if err != nil {
		return Result{}, err
	}

	base := fmt.Sprintf("%s/%s", strings.TrimSuffix(b.cfg.Prefix, "/"), end.Format("20060102T150405Z"))
	htmlURI, err := b.blobs.PutObject(ctx, base+"/digest.html", "text/html; charset=utf-8", strings.NewReader(d.HTML))
	if err != nil {
		return Result{}, fmt.Errorf("write html digest: %w", err)
	}
	textURI, err := b.blobs.PutObject(ctx, base+"/digest.txt", "text/plain; charset=utf-8", strings.NewReader(d.Text))
	if err != nil {
		return Result{}, fmt.Errorf("write text digest: %w", err)
	}
	b.logger.Info("digest published",
		zap.Int("articles", d.Stats.TotalArticles),
		zap.Int("topics", d.Stats.TopicCount),
		zap.String("html_uri", htmlURI),
		zap.String("text_uri", textURI),
	)
	return Result{Stats: d.Stats, HTMLURI: htmlURI, TextURI: textURI}, nil
}

// groupByTopic buckets articles under each of their topics. Groups follow
// taxonomy order; slugs the taxonomy does not know sort last by slug.
func groupByTopic(articles []Article, order map[string]int) []TopicGroup {
	index := make(map[string]int)
	var groups []TopicGroup
	for _, a := range articles {
		for _, ref := range a.Topics {
			i, ok := index[ref.Slug]
			if !ok {
				i = len(groups)
				index[ref.Slug] = i
				groups = append(groups, TopicGroup{Topic: ref})
			}
			groups[i].Articles = append(groups[i].Articles, a)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		oi, iKnown := order[groups[i].Topic.Slug]
		oj, jKnown := order[groups[j].Topic.Slug]
		switch {
		case iKnown && jKnown:
			return oi < oj
		case iKnown != jKnown:
			return iKnown
		default:
			return groups[i].Topic.Slug < groups[j].Topic.Slug
		}
	})
	return groups
}

func formatDate(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006")
}

func formatRange(start, end time.Time) string {
	return formatDate(start) + " - " + formatDate(end)
}
