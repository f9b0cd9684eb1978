package discovery

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/urlcanon"
)

// PageStrategy selects article links from a listing page.
type PageStrategy struct {
	fetcher news.Fetcher
	logger  *zap.Logger
}

// NewPageStrategy builds a PageStrategy.
func NewPageStrategy(fetcher news.Fetcher, logger *zap.Logger) *PageStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageStrategy{fetcher: fetcher, logger: logger}
}

// Links fetches pageURL and applies the source's link selector to it.
func (s *PageStrategy) Links(ctx context.Context, pageURL string, selectors news.Selectors) ([]string, error) {
	if strings.TrimSpace(selectors.LinkSelector) == "" {
		s.logger.Warn("page source has no link selector", zap.String("page", pageURL))
		return nil, nil
	}
	resp, err := s.fetcher.Fetch(ctx, news.FetchRequest{URL: pageURL})
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	return SelectLinks(resp.Body, pageURL, selectors.LinkSelector)
}

// SelectLinks returns the href of every element matching selector, resolved
// against pageURL and restricted to http(s).
func SelectLinks(html []byte, pageURL, selector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var links []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		abs := urlcanon.Resolve(href, pageURL)
		if urlcanon.IsValidHTTPURL(abs) {
			links = append(links, abs)
		}
	})
	return links, nil
}
