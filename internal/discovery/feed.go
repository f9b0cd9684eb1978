package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/urlcanon"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"

// FeedStrategy reads RSS, Atom and JSON feeds.
type FeedStrategy struct {
	fetcher news.Fetcher
}

// NewFeedStrategy builds a FeedStrategy.
func NewFeedStrategy(fetcher news.Fetcher) *FeedStrategy {
	return &FeedStrategy{fetcher: fetcher}
}

// Links fetches the feed at seedURL and returns each entry's link.
func (s *FeedStrategy) Links(ctx context.Context, seedURL string, _ news.Selectors) ([]string, error) {
	resp, err := s.fetcher.Fetch(ctx, news.FetchRequest{
		URL:     seedURL,
		Headers: http.Header{"Accept": {feedAccept}},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	return ParseFeed(string(resp.Body), seedURL)
}

// ParseFeed parses a feed body and returns absolute http(s) entry links.
// Entries without a usable link are skipped.
func ParseFeed(body, feedURL string) ([]string, error) {
	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	links := make([]string, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		link := extractLink(entry)
		if link == "" {
			continue
		}
		link = urlcanon.Resolve(link, feedURL)
		if urlcanon.IsValidHTTPURL(link) {
			links = append(links, link)
		}
	}
	return links, nil
}

// extractLink prefers the entry link and falls back to a URL-shaped GUID.
func extractLink(entry *gofeed.Item) string {
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	if strings.HasPrefix(entry.GUID, "http") {
		return entry.GUID
	}
	return ""
}
