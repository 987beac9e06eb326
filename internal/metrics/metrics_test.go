package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.ObserveScan("completed", 2*time.Second)
	m.SourceReturned("torrent", 3)
	m.SourceFailed("messaging")
	m.InfringementCreated("torrent")
	m.InfringementCreated("torrent")
	m.CacheLookup("web_search", "hit")
	m.RateLimitDenied("scan")

	if got := testutil.ToFloat64(m.ScansTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("scans_total{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SourceResults.WithLabelValues("torrent")); got != 3 {
		t.Errorf("source_results_total{torrent} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.InfringementsCreated.WithLabelValues("torrent")); got != 2 {
		t.Errorf("infringements_created_total{torrent} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("web_search", "hit")); got != 1 {
		t.Errorf("cache_lookups_total{web_search,hit} = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveScan("failed", time.Second)
	m.SourceFailed("torrent")
	m.CacheLookup("web_search", "miss")
	m.RateLimitDenied("api")
}

func TestHandler(t *testing.T) {
	m := New()
	m.SourceFailed("torrent")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `contentguard_source_failures_total{source="torrent"} 1`) {
		t.Errorf("metrics output missing source failure counter:\n%s", body)
	}
}
