package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/urlcanon"
)

// resolveDiscovery discovers candidates from the run's sources and returns
// the items that still need processing. Known canonical URLs keep their
// stored status and only rejoin the batch while still new.
func (o *Orchestrator) resolveDiscovery(ctx context.Context, run news.Run, logger *zap.Logger) ([]news.Item, error) {
	sources, err := o.store.ListSources(ctx, run.SourceIDs)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	if len(sources) == 0 {
		o.emit(ctx, run.ID, news.LevelWarn, news.EventDiscover, "No enabled sources to process", nil)
		return nil, nil
	}
	o.emit(ctx, run.ID, news.LevelInfo, news.EventDiscover,
		fmt.Sprintf("Found %d sources to process", len(sources)),
		map[string]any{"sources": len(sources)})

	var batch []news.Item
	queued := make(map[string]struct{})
	for _, source := range sources {
		if ctx.Err() != nil {
			break
		}
		o.emit(ctx, run.ID, news.LevelInfo, news.EventDiscover,
			fmt.Sprintf("Discovering URLs from: %s", source.Name),
			map[string]any{"sourceId": source.ID})

		candidates, err := o.discoverer.Discover(ctx, source)
		if err != nil {
			if len(candidates) == 0 {
				logger.Warn("discovery failed", zap.String("source_id", source.ID), zap.Error(err))
				o.emit(ctx, run.ID, news.LevelError, news.EventError,
					fmt.Sprintf("Discovery failed for %s: %v", source.Name, err),
					map[string]any{"sourceId": source.ID})
				continue
			}
			o.emit(ctx, run.ID, news.LevelWarn, news.EventDiscover,
				fmt.Sprintf("Some seeds failed for %s: %v", source.Name, err),
				map[string]any{"sourceId": source.ID})
		}
		o.emit(ctx, run.ID, news.LevelInfo, news.EventDiscover,
			fmt.Sprintf("Found %d URLs from %s", len(candidates), source.Name),
			map[string]any{"sourceId": source.ID, "urls": len(candidates)})

		for _, candidate := range candidates {
			item, ok := o.upsertCandidate(ctx, source, candidate, logger)
			if !ok || item.Status != news.ItemStatusNew {
				continue
			}
			if _, dup := queued[item.ID]; dup {
				continue
			}
			queued[item.ID] = struct{}{}
			batch = append(batch, item)
		}
	}

	level := news.LevelInfo
	if len(batch) == 0 {
		level = news.LevelWarn
	}
	o.emit(ctx, run.ID, level, news.EventDiscover,
		fmt.Sprintf("Total new items to process: %d", len(batch)),
		map[string]any{"items": len(batch)})
	return batch, nil
}

func (o *Orchestrator) upsertCandidate(
	ctx context.Context,
	source news.Source,
	candidate news.Candidate,
	logger *zap.Logger,
) (news.Item, bool) {
	canonical := candidate.CanonicalURL
	if canonical == "" {
		canonical = urlcanon.Canonicalize(candidate.URL)
	}
	id, err := o.ids.NewID()
	if err != nil {
		logger.Warn("item id generation failed", zap.String("url", candidate.URL), zap.Error(err))
		return news.Item{}, false
	}
	item, created, err := o.store.UpsertItem(ctx, news.Item{
		ID:           id,
		SourceID:     source.ID,
		URL:          candidate.URL,
		CanonicalURL: canonical,
		Status:       news.ItemStatusNew,
		CreatedAt:    o.clock.Now().UTC(),
	})
	if err != nil {
		logger.Warn("item upsert failed", zap.String("url", candidate.URL), zap.Error(err))
		return news.Item{}, false
	}
	if !created {
		logger.Debug("item already known",
			zap.String("item_id", item.ID),
			zap.String("canonical_url", canonical),
			zap.String("status", string(item.Status)),
		)
	}
	return item, true
}

// resolveReanalysis resets the run's items in one step and returns them in
// the order the run lists them.
func (o *Orchestrator) resolveReanalysis(ctx context.Context, run news.Run) ([]news.Item, error) {
	if len(run.ItemIDs) == 0 {
		o.emit(ctx, run.ID, news.LevelWarn, news.EventDiscover, "No items specified for reanalysis", nil)
		return nil, nil
	}
	if err := o.store.ResetItems(ctx, run.ItemIDs); err != nil {
		return nil, fmt.Errorf("reset items: %w", err)
	}
	items, err := o.store.GetItemsByIDs(ctx, run.ItemIDs)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	o.emit(ctx, run.ID, news.LevelInfo, news.EventDiscover,
		fmt.Sprintf("Reanalyzing %d items", len(items)),
		map[string]any{"items": len(items)})
	return items, nil
}
