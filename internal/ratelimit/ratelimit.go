// Package ratelimit enforces fixed-window request limits per identity and
// category.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrUnknownCategory is returned by Check for a category with no limit.
var ErrUnknownCategory = errors.New("unknown rate limit category")

// Category groups operations that share a limit.
type Category string

// Known categories.
const (
	CategoryAPI           Category = "api"
	CategoryAuth          Category = "auth"
	CategoryCreateContent Category = "create_content"
	CategoryScan          Category = "scan"
	CategoryDMCA          Category = "dmca"
	CategoryBilling       Category = "billing"
)

// Limit allows Max requests per Window.
type Limit struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// DefaultLimits returns the built-in limit for every category.
func DefaultLimits() map[Category]Limit {
	return map[Category]Limit{
		CategoryAPI:           {Max: 100, Window: time.Minute},
		CategoryAuth:          {Max: 10, Window: 15 * time.Minute},
		CategoryCreateContent: {Max: 50, Window: time.Hour},
		CategoryScan:          {Max: 100, Window: time.Hour},
		CategoryDMCA:          {Max: 50, Window: time.Hour},
		CategoryBilling:       {Max: 10, Window: time.Minute},
	}
}

// mergeLimits overlays overrides on the defaults.
func mergeLimits(overrides map[Category]Limit) map[Category]Limit {
	limits := DefaultLimits()
	for c, l := range overrides {
		if l.Max > 0 && l.Window > 0 {
			limits[c] = l
		}
	}
	return limits
}

// Identity returns the limiter key for a caller: the user when known,
// otherwise the client address.
func Identity(userID, addr string) string {
	if userID != "" {
		return "user:" + userID
	}
	if addr == "" {
		addr = "unknown"
	}
	return "ip:" + addr
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// ResetInSeconds returns ResetIn rounded up to whole seconds.
func (d Decision) ResetInSeconds() int {
	if d.ResetIn <= 0 {
		return 0
	}
	return int(math.Ceil(d.ResetIn.Seconds()))
}

// Limiter counts requests. A denied request does not count against the
// window.
type Limiter interface {
	Check(ctx context.Context, identity string, category Category) (Decision, error)
}

func windowKey(identity string, category Category) string {
	return fmt.Sprintf("%s:%s", category, identity)
}
