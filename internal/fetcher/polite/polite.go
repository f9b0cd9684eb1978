// Package polite wraps a Fetcher with a global concurrency ceiling and a
// per-host minimum request interval.
package polite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	collyfetcher "github.com/JakeFAU/esg-news-digest/internal/fetcher/colly"
	"github.com/JakeFAU/esg-news-digest/internal/metrics"
	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/policy/ratelimit"
)

// DefaultMaxConcurrent bounds simultaneous outbound requests.
const DefaultMaxConcurrent = 4

// HostLimiter delays requests that share a host. Dispatch stamps the host
// when a request actually leaves and returns the remaining cooldown when the
// previous request to it went out too recently.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) (time.Duration, error)
	Dispatch(rawURL string) time.Duration
}

// Config controls the pool size.
type Config struct {
	MaxConcurrent int
}

// Fetcher applies politeness around an inner fetcher.
type Fetcher struct {
	inner  news.Fetcher
	hosts  HostLimiter
	slots  *semaphore.Weighted
	logger *zap.Logger
}

// New builds a polite Fetcher. A nil limiter disables the per-host delay.
func New(inner news.Fetcher, hosts HostLimiter, cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.MaxConcurrent
	if size <= 0 {
		size = DefaultMaxConcurrent
	}
	return &Fetcher{
		inner:  inner,
		hosts:  hosts,
		slots:  semaphore.NewWeighted(int64(size)),
		logger: logger,
	}
}

// Fetch waits out the host cooldown first and only then takes a pool slot, so
// a request parked on a busy host never holds global capacity. Once a slot is
// held the host is checked again; if another request to it left in the
// meantime the slot is released and the request requeues after the
// remaining interval.
func (f *Fetcher) Fetch(ctx context.Context, request news.FetchRequest) (news.FetchResponse, error) {
	host := ratelimit.Host(request.URL)
	if f.hosts != nil {
		waited, err := f.hosts.Wait(ctx, request.URL)
		if err != nil {
			return news.FetchResponse{}, fmt.Errorf("host cooldown: %w", err)
		}
		f.observeWait(host, waited)
	}

	if err := f.acquire(ctx, request.URL, host); err != nil {
		return news.FetchResponse{}, err
	}
	defer f.slots.Release(1)

	start := time.Now()
	resp, err := f.inner.Fetch(ctx, request)
	metrics.ObserveFetch(request.URL, outcome(err), len(resp.Body), time.Since(start))
	if err != nil {
		return news.FetchResponse{}, err
	}
	return resp, nil
}

// acquire returns holding a slot with the host stamped as dispatched.
func (f *Fetcher) acquire(ctx context.Context, rawURL, host string) error {
	for {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire fetch slot: %w", err)
		}
		if f.hosts == nil {
			return nil
		}
		remaining := f.hosts.Dispatch(rawURL)
		if remaining <= 0 {
			return nil
		}
		f.slots.Release(1)

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("host cooldown: %w", ctx.Err())
		case <-timer.C:
		}
		f.observeWait(host, remaining)
	}
}

func (f *Fetcher) observeWait(host string, waited time.Duration) {
	if waited <= time.Millisecond {
		return
	}
	metrics.ObserveHostWait(host, waited)
	f.logger.Debug("waited for host cooldown",
		zap.String("host", host),
		zap.Duration("waited", waited),
	)
}

func outcome(err error) string {
	var statusErr *collyfetcher.StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, collyfetcher.ErrFetchTimeout):
		return "timeout"
	case errors.As(err, &statusErr):
		return "status"
	default:
		return "error"
	}
}
