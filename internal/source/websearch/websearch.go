// Package websearch finds infringing pages through the Google Custom Search
// JSON API.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/scoring"
	"github.com/sydlexius/contentguard/internal/settings"
	"github.com/sydlexius/contentguard/internal/source"
)

const (
	defaultBaseURL = "https://www.googleapis.com"
	resultsPerPage = 10
	maxResults     = 20
)

// SecretStore resolves stored credentials. A missing key yields "".
type SecretStore interface {
	Lookup(ctx context.Context, key string) (string, error)
}

// ResultCache is the subset of the result cache the adapter uses.
type ResultCache interface {
	Get(ctx context.Context, contentID string, t source.Type) ([]source.CandidateResult, bool)
	Put(ctx context.Context, contentID string, t source.Type, results []source.CandidateResult)
}

// Config holds static credentials. Empty fields fall back to the secret store.
type Config struct {
	APIKey   string
	EngineID string
	BaseURL  string
}

// Adapter implements source.Adapter for Google Custom Search.
type Adapter struct {
	client  *http.Client
	cfg     Config
	secrets SecretStore
	cache   ResultCache
	limiter *source.RateLimiterMap
	logger  *slog.Logger
	baseURL string
}

// New creates a web search adapter. secrets and cache may be nil.
func New(cfg Config, secrets SecretStore, cache ResultCache, limiter *source.RateLimiterMap, logger *slog.Logger) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		client:  &http.Client{Timeout: 15 * time.Second},
		cfg:     cfg,
		secrets: secrets,
		cache:   cache,
		limiter: limiter,
		logger:  logger.With(slog.String("source", string(source.TypeWebSearch))),
		baseURL: strings.TrimRight(base, "/"),
	}
}

// Type returns source.TypeWebSearch.
func (a *Adapter) Type() source.Type { return source.TypeWebSearch }

// Search runs the compound queries for c, scores and thresholds the items,
// and returns at most 20 candidates ordered by confidence. A cached snapshot
// short-circuits all network calls.
func (a *Adapter) Search(ctx context.Context, c *content.ProtectedContent) ([]source.CandidateResult, error) {
	apiKey, engineID, err := a.credentials(ctx)
	if err != nil {
		a.logger.Warn("resolving credentials", slog.String("error", err.Error()))
		return nil, nil
	}
	if apiKey == "" || engineID == "" {
		a.logger.Debug("web search not configured, skipping")
		return nil, nil
	}

	if a.cache != nil {
		if cached, ok := a.cache.Get(ctx, c.ID, source.TypeWebSearch); ok {
			return cached, nil
		}
	}

	ownHost := siteHost(c.OriginalURL)
	seen := make(map[string]bool)
	var results []source.CandidateResult
	succeeded := 0

	for _, q := range Queries(c) {
		if err := a.limiter.Wait(ctx, source.TypeWebSearch); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		items, err := a.search(ctx, apiKey, engineID, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("query failed", slog.String("error", err.Error()))
			continue
		}
		succeeded++

		for _, item := range items {
			if item.Link == "" || seen[item.Link] {
				continue
			}
			seen[item.Link] = true
			if ownHost != "" && siteHost(item.Link) == ownHost {
				continue
			}

			cand := source.CandidateResult{
				SourceType: source.TypeWebSearch,
				SourceURL:  item.Link,
				Domain:     displayDomain(item),
				Title:      item.Title,
				Snippet:    item.Snippet,
				DetectedAt: time.Now().UTC(),
			}
			cand.Confidence = scoring.Score(cand, c.Title, c.Keywords, c.Type)
			if scoring.Retained(cand.Confidence) {
				results = append(results, cand)
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	a.logger.Debug("web search completed",
		slog.String("content_id", c.ID),
		slog.Int("queries_ok", succeeded),
		slog.Int("results", len(results)))

	if succeeded > 0 && a.cache != nil {
		a.cache.Put(ctx, c.ID, source.TypeWebSearch, results)
	}
	return results, nil
}

// credentials returns the configured API key and engine id, consulting the
// secret store for whichever is missing.
func (a *Adapter) credentials(ctx context.Context) (string, string, error) {
	apiKey, engineID := a.cfg.APIKey, a.cfg.EngineID
	if a.secrets == nil {
		return apiKey, engineID, nil
	}
	var err error
	if apiKey == "" {
		if apiKey, err = a.secrets.Lookup(ctx, settings.KeyWebSearchAPIKey); err != nil {
			return "", "", err
		}
	}
	if engineID == "" {
		if engineID, err = a.secrets.Lookup(ctx, settings.KeyWebSearchEngineID); err != nil {
			return "", "", err
		}
	}
	return apiKey, engineID, nil
}

func (a *Adapter) search(ctx context.Context, apiKey, engineID, query string) ([]searchItem, error) {
	params := url.Values{
		"key": {apiKey},
		"cx":  {engineID},
		"q":   {query},
		"num": {strconv.Itoa(resultsPerPage)},
	}
	body, err := a.doRequest(ctx, a.baseURL+"/customsearch/v1?"+params.Encode())
	if err != nil {
		return nil, err
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &source.ErrSourceUnavailable{
			Source: source.TypeWebSearch,
			Cause:  fmt.Errorf("parsing response: %w", err),
		}
	}
	return resp.Items, nil
}

func (a *Adapter) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from adapter config, not user input
	if err != nil {
		return nil, &source.ErrSourceUnavailable{Source: source.TypeWebSearch, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &source.ErrSourceUnavailable{
			Source: source.TypeWebSearch,
			Cause:  fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, &source.ErrSourceUnavailable{Source: source.TypeWebSearch, Cause: err}
	}
	return body, nil
}

func displayDomain(item searchItem) string {
	if item.DisplayLink != "" {
		return strings.ToLower(item.DisplayLink)
	}
	if u, err := url.Parse(item.Link); err == nil {
		return strings.ToLower(u.Hostname())
	}
	return ""
}

// siteHost returns rawURL's host in lowercase ASCII form with any leading
// "www." removed. Other subdomains stay distinct. Unparseable URLs yield "".
func siteHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return strings.TrimPrefix(host, "www.")
}
