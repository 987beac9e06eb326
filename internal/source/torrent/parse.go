package torrent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// result is one listing from one site, before scoring.
type result struct {
	Site     string
	Title    string
	Link     string
	Seeders  int
	Leechers int
	Size     string
}

// Link shapes, tried in order. Earlier shapes claim a link first.
var linkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/torrent/\d+/.+`),
	regexp.MustCompile(`^magnet:\?xt=urn:btih:`),
	regexp.MustCompile(`\.torrent`),
	regexp.MustCompile(`^/torrent/.+`),
}

var (
	extensionRe = regexp.MustCompile(`\.\w+$`)
	digitsRe    = regexp.MustCompile(`\d[\d,]*`)
)

type ytsResponse struct {
	Data struct {
		Movies []ytsMovie `json:"movies"`
	} `json:"data"`
}

type ytsMovie struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	TitleLong string `json:"title_long"`
	Slug      string `json:"slug"`
	URL       string `json:"url"`
	Torrents  []struct {
		Seeds int    `json:"seeds"`
		Peers int    `json:"peers"`
		Size  string `json:"size"`
	} `json:"torrents"`
}

// parseJSON reads a YTS-shaped list_movies response.
func parseJSON(site string, body []byte) ([]result, error) {
	var resp ytsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", site, err)
	}
	var out []result
	for _, m := range resp.Data.Movies {
		if len(out) >= perSiteLimit {
			break
		}
		r := result{Site: site, Title: m.TitleLong, Link: m.URL}
		if r.Title == "" {
			r.Title = m.Title
		}
		if r.Link == "" {
			r.Link = "https://yts.mx/movies/" + m.Slug
		}
		if len(m.Torrents) > 0 {
			r.Seeders = m.Torrents[0].Seeds
			r.Leechers = m.Torrents[0].Peers
			r.Size = m.Torrents[0].Size
		}
		out = append(out, r)
	}
	return out, nil
}

// parseHTML extracts listing links from a search results page. Seeder and
// leecher counts are read from elements whose class mentions them and are
// assigned to the links in document order.
func parseHTML(site string, pageURL *url.URL, body []byte, query string) ([]result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s page: %w", site, err)
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, strings.TrimSpace(href))
		}
	})

	seen := make(map[string]bool)
	var out []result
	for _, re := range linkPatterns {
		for _, href := range hrefs {
			if seen[href] || !re.MatchString(href) {
				continue
			}
			seen[href] = true
			out = append(out, result{
				Site:  site,
				Title: titleFromLink(href, query),
				Link:  resolve(pageURL, href),
			})
		}
	}

	seeds := counts(doc, `span[class*="seed"], td[class*="seed"]`)
	for i := 0; i < len(seeds) && i < len(out); i++ {
		out[i].Seeders = seeds[i]
	}
	leeches := counts(doc, `span[class*="leech"], td[class*="leech"]`)
	for i := 0; i < len(leeches) && i < len(out); i++ {
		out[i].Leechers = leeches[i]
	}

	if len(out) > perSiteLimit {
		out = out[:perSiteLimit]
	}
	return out, nil
}

func counts(doc *goquery.Document, selector string) []int {
	var out []int
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		m := digitsRe.FindString(s.Text())
		if m == "" {
			return
		}
		if n, err := strconv.Atoi(strings.ReplaceAll(m, ",", "")); err == nil {
			out = append(out, n)
		}
	})
	return out
}

// titleFromLink derives a readable title from a magnet dn parameter or the
// last path segment of a listing URL.
func titleFromLink(href, fallback string) string {
	if strings.HasPrefix(href, "magnet:") {
		if u, err := url.Parse(href); err == nil {
			if dn := u.Query().Get("dn"); dn != "" {
				return dn
			}
		}
		return fallback
	}

	path := href
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	slug := path[strings.LastIndex(path, "/")+1:]
	if slug == "" {
		return fallback
	}
	slug = extensionRe.ReplaceAllString(slug, "")
	slug = strings.ReplaceAll(slug, "-", " ")
	if decoded, err := url.PathUnescape(slug); err == nil {
		slug = decoded
	}
	if strings.TrimSpace(slug) == "" {
		return fallback
	}
	return slug
}

func resolve(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil || ref.IsAbs() {
		return href
	}
	return base.ResolveReference(ref).String()
}
