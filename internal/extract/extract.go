// Package extract turns fetched HTML into readable article content.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// MinTextLength is the shortest body, in characters, accepted as an article.
const MinTextLength = 100

// ErrNoArticle means the page held no readable article. It is a filtering
// outcome, not a failure.
var ErrNoArticle = errors.New("no readable article")

// Extractor runs readability over raw HTML.
type Extractor struct {
	minLength int
	now       func() time.Time
}

// New returns an Extractor with the default minimum length.
func New() *Extractor {
	return &Extractor{minLength: MinTextLength, now: time.Now}
}

// Extract parses html fetched from pageURL. The returned article has no
// ItemID; the caller assigns it.
func (e *Extractor) Extract(html []byte, pageURL string) (news.Article, error) {
	if len(bytes.TrimSpace(html)) == 0 {
		return news.Article{}, fmt.Errorf("%w: empty document", ErrNoArticle)
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return news.Article{}, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := readability.FromReader(bytes.NewReader(html), parsed)
	if err != nil {
		return news.Article{}, fmt.Errorf("%w: %v", ErrNoArticle, err)
	}

	text := strings.TrimSpace(doc.TextContent)
	if n := utf8.RuneCountInString(text); n < e.minLength {
		return news.Article{}, fmt.Errorf("%w: %d characters", ErrNoArticle, n)
	}

	article := news.Article{
		Title:       strings.TrimSpace(doc.Title),
		Author:      strings.TrimSpace(doc.Byline),
		Text:        text,
		Language:    strings.TrimSpace(doc.Language),
		ExtractedAt: e.now().UTC(),
	}
	if doc.PublishedTime != nil && !doc.PublishedTime.IsZero() {
		published := doc.PublishedTime.UTC()
		article.PublishedAt = &published
	}
	return article, nil
}
