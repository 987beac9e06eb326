package source

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default outbound pacing per source. Web search queries are spaced about
// 200ms apart, torrent query variants about 500ms.
var defaultRateLimits = map[Type]rate.Limit{
	TypeWebSearch: rate.Every(200 * time.Millisecond),
	TypeMessaging: rate.Every(time.Second),
	TypeTorrent:   rate.Every(500 * time.Millisecond),
}

// RateLimiterMap holds one rate.Limiter per source type, created once at startup.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[Type]*rate.Limiter
}

// NewRateLimiterMap creates limiters with the default pacing.
func NewRateLimiterMap() *RateLimiterMap {
	return NewRateLimiterMapWithLimits(defaultRateLimits)
}

// NewRateLimiterMapWithLimits creates limiters from an explicit table. Tests
// pass rate.Inf to disable pacing.
func NewRateLimiterMapWithLimits(limits map[Type]rate.Limit) *RateLimiterMap {
	m := &RateLimiterMap{
		limiters: make(map[Type]*rate.Limiter, len(limits)),
	}
	for t, limit := range limits {
		m.limiters[t] = rate.NewLimiter(limit, 1)
	}
	return m
}

// Unlimited returns a map whose limiters never block.
func Unlimited() *RateLimiterMap {
	limits := make(map[Type]rate.Limit, len(defaultRateLimits))
	for t := range defaultRateLimits {
		limits[t] = rate.Inf
	}
	return NewRateLimiterMapWithLimits(limits)
}

// Wait blocks until the limiter for t allows a request, or ctx is canceled.
func (m *RateLimiterMap) Wait(ctx context.Context, t Type) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	limiter, ok := m.limiters[t]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
