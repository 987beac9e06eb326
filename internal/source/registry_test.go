package source

import (
	"context"
	"testing"

	"github.com/sydlexius/contentguard/internal/content"
)

type stubAdapter struct{ t Type }

func (s stubAdapter) Type() Type { return s.t }

func (s stubAdapter) Search(context.Context, *content.ProtectedContent) ([]CandidateResult, error) {
	return nil, nil
}

func TestRegistry_StableOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAdapter{TypeTorrent})
	r.Register(stubAdapter{TypeWebSearch})
	r.Register(stubAdapter{TypeMessaging})

	all := r.All()
	want := []Type{TypeWebSearch, TypeMessaging, TypeTorrent}
	if len(all) != len(want) {
		t.Fatalf("All() returned %d adapters, want %d", len(all), len(want))
	}
	for i, a := range all {
		if a.Type() != want[i] {
			t.Errorf("All()[%d] = %s, want %s", i, a.Type(), want[i])
		}
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAdapter{TypeTorrent})

	if r.Get(TypeTorrent) == nil {
		t.Error("expected torrent adapter")
	}
	if r.Get(TypeMessaging) != nil {
		t.Error("expected nil for unregistered type")
	}
}

func TestRateLimiterMap_UnknownAndNil(t *testing.T) {
	ctx := context.Background()
	var nilMap *RateLimiterMap
	if err := nilMap.Wait(ctx, TypeTorrent); err != nil {
		t.Errorf("nil map Wait: %v", err)
	}
	m := NewRateLimiterMapWithLimits(nil)
	if err := m.Wait(ctx, TypeTorrent); err != nil {
		t.Errorf("unknown type Wait: %v", err)
	}
}

func TestRateLimiterMap_CanceledContext(t *testing.T) {
	m := NewRateLimiterMap()
	ctx, cancel := context.WithCancel(context.Background())
	// First call consumes the burst token.
	if err := m.Wait(ctx, TypeMessaging); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	cancel()
	if err := m.Wait(ctx, TypeMessaging); err == nil {
		t.Error("expected error from canceled context")
	}
}
