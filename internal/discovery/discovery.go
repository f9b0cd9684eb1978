// Package discovery turns configured sources into candidate article URLs.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/urlcanon"
)

// ErrUnknownKind is returned for sources whose kind has no strategy.
var ErrUnknownKind = errors.New("unknown source kind")

// Strategy yields raw links for one seed URL of a source.
type Strategy interface {
	Links(ctx context.Context, seedURL string, selectors news.Selectors) ([]string, error)
}

// Discoverer dispatches to the strategy matching a source's kind.
type Discoverer struct {
	strategies map[news.SourceKind]Strategy
	logger     *zap.Logger
}

// New builds a Discoverer whose strategies fetch through fetcher.
func New(fetcher news.Fetcher, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		strategies: map[news.SourceKind]Strategy{
			news.SourceKindFeed: NewFeedStrategy(fetcher),
			news.SourceKindPage: NewPageStrategy(fetcher, logger.Named("page")),
		},
		logger: logger,
	}
}

// Discover visits every seed URL of source and returns candidates
// deduplicated by canonical URL, in first-seen order. A failing seed is
// skipped; its error is joined into the returned error while the candidates
// from the remaining seeds are still returned.
func (d *Discoverer) Discover(ctx context.Context, source news.Source) ([]news.Candidate, error) {
	strategy, ok := d.strategies[source.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, source.Kind)
	}

	var (
		candidates []news.Candidate
		seen       = make(map[string]struct{})
		seedErrs   []error
	)
	for _, seed := range seedTargets(source) {
		if err := ctx.Err(); err != nil {
			return candidates, fmt.Errorf("discover %s: %w", source.ID, err)
		}
		links, err := strategy.Links(ctx, seed, source.Selectors)
		if err != nil {
			d.logger.Warn("seed discovery failed",
				zap.String("source_id", source.ID),
				zap.String("seed", seed),
				zap.Error(err),
			)
			seedErrs = append(seedErrs, fmt.Errorf("seed %s: %w", seed, err))
			continue
		}
		for _, link := range links {
			canonical := urlcanon.Canonicalize(link)
			if _, dup := seen[canonical]; dup {
				continue
			}
			seen[canonical] = struct{}{}
			candidates = append(candidates, news.Candidate{URL: link, CanonicalURL: canonical})
		}
		d.logger.Debug("seed discovered",
			zap.String("source_id", source.ID),
			zap.String("seed", seed),
			zap.Int("links", len(links)),
		)
	}
	return candidates, errors.Join(seedErrs...)
}

// seedTargets returns the URLs to visit. Page sources with a list page URL
// visit that page once instead of each seed.
func seedTargets(source news.Source) []string {
	if source.Kind == news.SourceKindPage && source.Selectors.ListPageURL != "" {
		return []string{source.Selectors.ListPageURL}
	}
	return source.URLs
}
