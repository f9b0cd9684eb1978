package headless

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/news"
)

// Detector decides whether a static response needs a browser render.
type Detector interface {
	NeedsRender(statusCode int, body []byte) bool
}

// Promoting fetches statically first and re-fetches through a renderer when
// the detector flags the result. A failed render keeps the static response.
type Promoting struct {
	static   news.Fetcher
	renderer news.Fetcher
	detector Detector
	logger   *zap.Logger
}

var _ news.Fetcher = (*Promoting)(nil)

// NewPromoting wraps static with render promotion.
func NewPromoting(static, renderer news.Fetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{static: static, renderer: renderer, detector: detector, logger: logger}
}

// Fetch implements news.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, request news.FetchRequest) (news.FetchResponse, error) {
	resp, err := p.static.Fetch(ctx, request)
	if err != nil {
		return resp, err
	}
	if !p.detector.NeedsRender(resp.StatusCode, resp.Body) {
		return resp, nil
	}
	p.logger.Debug("promoting to headless render", zap.String("url", request.URL), zap.Int("bytes", len(resp.Body)))
	rendered, err := p.renderer.Fetch(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return news.FetchResponse{}, fmt.Errorf("headless render: %w", ctx.Err())
		}
		p.logger.Warn("headless render failed, using static response", zap.String("url", request.URL), zap.Error(err))
		return resp, nil
	}
	rendered.Duration += resp.Duration
	return rendered, nil
}
