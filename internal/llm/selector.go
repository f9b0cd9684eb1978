package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// Selector picks the classifier for a run. The live backend is probed on
// every call; nothing is cached between runs.
type Selector struct {
	live    news.Classifier
	offline news.Classifier
	logger  *zap.Logger
}

// NewSelector builds a Selector. A nil live classifier always selects offline.
func NewSelector(live news.Classifier, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{live: live, offline: NewOfflineClient(), logger: logger}
}

// Select probes the live backend and falls back to the offline classifier.
func (s *Selector) Select(ctx context.Context) news.Classifier {
	if s.live != nil && s.live.Available(ctx) {
		s.logger.Info("using live classifier", zap.String("model", s.live.Model()))
		return s.live
	}
	s.logger.Info("live classifier unavailable, using offline classifier", zap.String("model", s.offline.Model()))
	return s.offline
}
