// Package ratelimit enforces a minimum interval between requests to the same host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/esg-news-digest/internal/urlcanon"
)

// DefaultInterval is the spacing applied when Config.Interval is unset.
const DefaultInterval = time.Second

// Limiter manages one token bucket per host and remembers when each host
// was last dispatched to.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	last     map[string]time.Time
	every    rate.Limit
	interval time.Duration
	now      func() time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	// Interval is the minimum spacing between two requests to one host.
	// A negative value disables limiting.
	Interval time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	every := rate.Every(interval)
	if interval < 0 {
		every = rate.Inf
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		last:     make(map[string]time.Time),
		every:    every,
		interval: interval,
		now:      time.Now,
	}
}

// Host returns the key Wait uses for rawURL.
func Host(rawURL string) string {
	if domain := urlcanon.ExtractDomain(rawURL); domain != "" {
		return domain
	}
	return "unknown"
}

// Wait blocks until the host of rawURL may be contacted again and reports how
// long it waited. Other hosts are never delayed.
func (l *Limiter) Wait(ctx context.Context, rawURL string) (time.Duration, error) {
	host := Host(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.every, 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	return time.Since(start), nil
}

// Dispatch records that a request to the host of rawURL is going out now.
// When the previous dispatch to that host is less than one interval old it
// records nothing and returns the time left until the host is free.
func (l *Limiter) Dispatch(rawURL string) time.Duration {
	if l.interval < 0 {
		return 0
	}
	host := Host(rawURL)
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if last, ok := l.last[host]; ok {
		if remaining := l.interval - now.Sub(last); remaining > 0 {
			return remaining
		}
	}
	l.last[host] = now
	return 0
}
