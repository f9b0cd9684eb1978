package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/metrics"
	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/taxonomy"
)

// Messages persisted on items and fallback analyses.
const (
	SkipReasonExtraction = "Content extraction failed"
	PrefilterWhy         = "Article did not match any ESG topic keywords."
	FallbackImportance   = 50
	FallbackBullet       = "LLM analysis failed - matched by keywords only"
	FallbackWhy          = "Analysis failed. This article matched ESG keywords and may be relevant."
)

type itemProcessor struct {
	o          *Orchestrator
	runID      string
	matcher    *taxonomy.Matcher
	slugs      []string
	classifier news.Classifier
	logger     *zap.Logger
}

// process advances one item to analyzed, skipped or failed and returns the
// status it ended in.
func (p itemProcessor) process(ctx context.Context, item news.Item) news.ItemStatus {
	o := p.o
	logger := p.logger.With(zap.String("item_id", item.ID), zap.String("url", item.URL))
	itemData := map[string]any{"itemId": item.ID}

	o.emit(ctx, p.runID, news.LevelDebug, news.EventFetch, fmt.Sprintf("Fetching: %s", item.URL), itemData)
	resp, err := o.fetcher.Fetch(ctx, news.FetchRequest{URL: item.URL})
	if err != nil {
		return p.fail(ctx, item, err, logger)
	}
	fetchedAt := o.clock.Now().UTC()
	if err := o.store.UpdateItemStatus(ctx, item.ID, news.ItemStatusFetched, "", &fetchedAt); err != nil {
		return p.fail(ctx, item, err, logger)
	}
	metrics.ObserveItem(string(news.ItemStatusFetched))

	o.emit(ctx, p.runID, news.LevelDebug, news.EventExtract, fmt.Sprintf("Extracting content from: %s", item.URL), itemData)
	pageURL := resp.URL
	if pageURL == "" {
		pageURL = item.URL
	}
	article, err := o.extractor.Extract(resp.Body, pageURL)
	if err != nil {
		logger.Debug("extraction produced no article", zap.Error(err))
		o.emit(ctx, p.runID, news.LevelWarn, news.EventExtract,
			fmt.Sprintf("Extraction failed or content too short: %s", item.URL), itemData)
		if err := o.store.UpdateItemStatus(ctx, item.ID, news.ItemStatusSkipped, SkipReasonExtraction, nil); err != nil {
			return p.fail(ctx, item, err, logger)
		}
		metrics.ObserveItem(string(news.ItemStatusSkipped))
		return news.ItemStatusSkipped
	}
	article.ItemID = item.ID
	article.ExtractedAt = o.clock.Now().UTC()
	if err := o.store.SaveArticle(ctx, article); err != nil {
		return p.fail(ctx, item, err, logger)
	}
	if err := o.store.UpdateItemStatus(ctx, item.ID, news.ItemStatusExtracted, "", nil); err != nil {
		return p.fail(ctx, item, err, logger)
	}
	metrics.ObserveItem(string(news.ItemStatusExtracted))
	o.emit(ctx, p.runID, news.LevelInfo, news.EventExtract,
		fmt.Sprintf("Extracted: %q (%d chars)", article.Title, utf8.RuneCountInString(article.Text)), itemData)

	analysis := p.analyze(ctx, article, itemData, logger)
	analysis.ItemID = item.ID
	analysis.CreatedAt = o.clock.Now().UTC()
	if err := o.store.SaveAnalysis(ctx, analysis); err != nil {
		return p.fail(ctx, item, err, logger)
	}
	if err := o.store.UpdateItemStatus(ctx, item.ID, news.ItemStatusAnalyzed, "", nil); err != nil {
		return p.fail(ctx, item, err, logger)
	}
	metrics.ObserveItem(string(news.ItemStatusAnalyzed))
	metrics.ObserveClassification(analysis.Model)
	return news.ItemStatusAnalyzed
}

// analyze runs the keyword prefilter and, on a match, the classifier. It
// always returns an analysis.
func (p itemProcessor) analyze(
	ctx context.Context,
	article news.Article,
	itemData map[string]any,
	logger *zap.Logger,
) news.Analysis {
	o := p.o
	matched := p.matcher.Match(article.Title + " " + article.Text)
	if len(matched) == 0 {
		o.emit(ctx, p.runID, news.LevelInfo, news.EventPrefilter,
			fmt.Sprintf("No topic matches, skipping LLM: %s", article.Title), itemData)
		return news.Analysis{
			Relevant:     false,
			Topics:       []string{},
			Importance:   0,
			Bullets:      []string{},
			WhyItMatters: PrefilterWhy,
			Model:        news.ModelKeywordPrefilter,
		}
	}
	o.emit(ctx, p.runID, news.LevelInfo, news.EventPrefilter,
		fmt.Sprintf("Matched topics: %s", strings.Join(matched, ", ")),
		map[string]any{"itemId": itemData["itemId"], "topics": matched})

	o.emit(ctx, p.runID, news.LevelDebug, news.EventClassify,
		fmt.Sprintf("Sending to LLM: %s", article.Title),
		map[string]any{"itemId": itemData["itemId"], "model": p.classifier.Model()})
	result, err := p.classifier.ClassifyAndSummarize(ctx, news.ClassifyRequest{
		Title:      article.Title,
		Body:       article.Text,
		TopicSlugs: p.slugs,
	})
	if err != nil {
		logger.Warn("classification failed", zap.String("model", p.classifier.Model()), zap.Error(err))
		o.emit(ctx, p.runID, news.LevelError, news.EventError, fmt.Sprintf("LLM analysis failed: %v", err), itemData)
		return news.Analysis{
			Relevant:     false,
			Topics:       matched,
			Importance:   FallbackImportance,
			Bullets:      []string{FallbackBullet},
			WhyItMatters: FallbackWhy,
			Model:        news.ModelErrorFallback,
		}
	}

	o.emit(ctx, p.runID, news.LevelInfo, news.EventSummarize,
		fmt.Sprintf("LLM analysis complete: relevant=%t, importance=%d", result.Relevant, result.Importance),
		map[string]any{
			"itemId":     itemData["itemId"],
			"relevant":   result.Relevant,
			"importance": result.Importance,
			"topics":     result.Topics,
		})
	return news.Analysis{
		Relevant:     result.Relevant,
		Topics:       result.Topics,
		Importance:   result.Importance,
		Bullets:      result.Bullets,
		WhyItMatters: result.WhyItMatters,
		Model:        p.classifier.Model(),
	}
}

func (p itemProcessor) fail(ctx context.Context, item news.Item, cause error, logger *zap.Logger) news.ItemStatus {
	o := p.o
	logger.Warn("item failed", zap.Error(cause))
	o.emit(ctx, p.runID, news.LevelError, news.EventError,
		fmt.Sprintf("Failed to process %s: %v", item.URL, cause),
		map[string]any{"itemId": item.ID})
	// the failure must be recorded even if the step failed on cancellation
	storeCtx := context.WithoutCancel(ctx)
	if err := o.store.UpdateItemStatus(storeCtx, item.ID, news.ItemStatusFailed, cause.Error(), nil); err != nil {
		logger.Error("mark item failed", zap.Error(err))
	}
	metrics.ObserveItem(string(news.ItemStatusFailed))
	return news.ItemStatusFailed
}
