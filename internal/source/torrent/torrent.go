// Package torrent searches public torrent indexes for listings of protected
// content.
package torrent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/scoring"
	"github.com/sydlexius/contentguard/internal/source"
)

const (
	// DefaultSiteTimeout bounds a single site fetch.
	DefaultSiteTimeout = 10 * time.Second

	perSiteLimit = 10
	mergedLimit  = 20
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Adapter implements source.Adapter over a set of torrent index sites.
type Adapter struct {
	client      *http.Client
	sites       []Site
	siteTimeout time.Duration
	limiter     *source.RateLimiterMap
	logger      *slog.Logger
}

// New creates a torrent adapter. A nil sites slice selects DefaultSites and a
// zero timeout selects DefaultSiteTimeout.
func New(sites []Site, siteTimeout time.Duration, limiter *source.RateLimiterMap, logger *slog.Logger) *Adapter {
	if sites == nil {
		sites = DefaultSites()
	}
	if siteTimeout <= 0 {
		siteTimeout = DefaultSiteTimeout
	}
	return &Adapter{
		client:      &http.Client{},
		sites:       sites,
		siteTimeout: siteTimeout,
		limiter:     limiter,
		logger:      logger.With(slog.String("source", string(source.TypeTorrent))),
	}
}

// Type returns source.TypeTorrent.
func (a *Adapter) Type() source.Type { return source.TypeTorrent }

// Queries returns the search variants tried for c, in order.
func Queries(c *content.ProtectedContent) []string {
	suffix := "course"
	if c.Type == content.TypePDF {
		suffix = "pdf"
	}
	qs := []string{
		c.Title,
		c.Title + " download",
		c.Title + " " + suffix,
	}
	if len(c.Keywords) > 0 {
		first := c.Title
		if f := strings.Fields(c.Title); len(f) > 0 {
			first = f[0]
		}
		qs = append(qs, c.Keywords[0]+" "+first)
	}
	return qs
}

// Search runs every query variant against all enabled sites, scores the
// listings and returns those at or above the retention threshold. Links are
// deduplicated across variants.
func (a *Adapter) Search(ctx context.Context, c *content.ProtectedContent) ([]source.CandidateResult, error) {
	seen := make(map[string]bool)
	var out []source.CandidateResult

	for _, q := range Queries(c) {
		if err := a.limiter.Wait(ctx, source.TypeTorrent); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		for _, r := range a.searchAll(ctx, q) {
			if seen[r.Link] {
				continue
			}
			seen[r.Link] = true

			score := scoring.ScoreTorrent(r.Title, r.Seeders, c.Title, c.Keywords)
			if !scoring.Retained(score) {
				continue
			}
			out = append(out, toCandidate(r, score))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.logger.Debug("torrent search completed",
		slog.String("content_id", c.ID),
		slog.Int("results", len(out)))
	return out, nil
}

// searchAll fetches every enabled site in parallel, merges the listings in
// site order, sorts them by seeders and keeps the top mergedLimit.
func (a *Adapter) searchAll(ctx context.Context, query string) []result {
	perSite := make([][]result, len(a.sites))

	var wg sync.WaitGroup
	for i, site := range a.sites {
		if !site.Enabled {
			continue
		}
		wg.Add(1)
		go func(i int, site Site) {
			defer wg.Done()
			results, err := a.searchSite(ctx, site, query)
			if err != nil {
				a.logger.Warn("site search failed",
					slog.String("site", site.Name),
					slog.String("error", err.Error()))
				return
			}
			perSite[i] = results
		}(i, site)
	}
	wg.Wait()

	var merged []result
	for _, rs := range perSite {
		merged = append(merged, rs...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Seeders > merged[j].Seeders
	})
	if len(merged) > mergedLimit {
		merged = merged[:mergedLimit]
	}
	return merged
}

func (a *Adapter) searchSite(ctx context.Context, site Site, query string) ([]result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.siteTimeout)
	defer cancel()

	escaped := strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
	reqURL := strings.ReplaceAll(site.URLTemplate, "{query}", escaped)
	pageURL, err := url.Parse(reqURL)
	if err != nil {
		return nil, fmt.Errorf("building url: %w", err)
	}

	body, err := a.doRequest(ctx, site.Name, reqURL)
	if err != nil {
		return nil, err
	}

	switch site.Format {
	case FormatJSON:
		return parseJSON(site.Name, body)
	default:
		return parseHTML(site.Name, pageURL, body, query)
	}
}

func (a *Adapter) doRequest(ctx context.Context, site, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/json")

	resp, err := a.client.Do(req) //nolint:gosec // URL comes from the configured site list
	if err != nil {
		return nil, &source.ErrSourceUnavailable{Source: source.TypeTorrent, Endpoint: site, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &source.ErrSourceUnavailable{
			Source:   source.TypeTorrent,
			Endpoint: site,
			Cause:    fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, &source.ErrSourceUnavailable{Source: source.TypeTorrent, Endpoint: site, Cause: err}
	}
	return body, nil
}

func toCandidate(r result, score int) source.CandidateResult {
	snippet := "Found on " + r.Site
	if r.Seeders > 0 {
		snippet = fmt.Sprintf("Seeders: %d, Leechers: %d", r.Seeders, r.Leechers)
		if r.Size != "" {
			snippet += ", Size: " + r.Size
		}
	}
	return source.CandidateResult{
		SourceType: source.TypeTorrent,
		SourceURL:  r.Link,
		Domain:     strings.ToLower(r.Site),
		Title:      fmt.Sprintf("[%s] %s", r.Site, r.Title),
		Snippet:    snippet,
		Confidence: score,
		DetectedAt: time.Now().UTC(),
		Metadata: source.TorrentMeta{
			Site:     r.Site,
			Seeders:  r.Seeders,
			Leechers: r.Leechers,
			Size:     r.Size,
		},
	}
}
