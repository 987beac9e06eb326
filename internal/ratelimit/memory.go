package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process memory. Use RedisLimiter when
// several instances must share counts.
type MemoryLimiter struct {
	mu      sync.Mutex
	limits  map[Category]Limit
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter. overrides replace the
// default limit of the categories they name.
func NewMemoryLimiter(overrides map[Category]Limit) *MemoryLimiter {
	return NewMemoryLimiterWithClock(overrides, time.Now)
}

// NewMemoryLimiterWithClock creates an in-memory limiter with a custom clock.
func NewMemoryLimiterWithClock(overrides map[Category]Limit, now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		limits:  mergeLimits(overrides),
		windows: make(map[string]*window),
		now:     now,
	}
}

// Check records one request for identity in category if the window allows it.
func (l *MemoryLimiter) Check(_ context.Context, identity string, category Category) (Decision, error) {
	limit, ok := l.limits[category]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := windowKey(identity, category)
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(limit.Window)}
		l.windows[key] = w
	}

	if w.count >= limit.Max {
		return Decision{Allowed: false, Remaining: 0, ResetIn: w.resetAt.Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: limit.Max - w.count, ResetIn: w.resetAt.Sub(now)}, nil
}

// Sweep removes windows whose reset time has passed and returns how many
// were removed.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (l *MemoryLimiter) StartSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					logger.Debug("swept rate limit windows", slog.Int("removed", n))
				}
			}
		}
	}()
}
