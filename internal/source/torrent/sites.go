package torrent

import "gopkg.in/yaml.v3"

// Format is the response shape of a site's search endpoint.
type Format string

// Response formats.
const (
	FormatHTML Format = "html"
	FormatJSON Format = "json"
)

// Site describes one torrent index. URLTemplate contains a {query}
// placeholder that is replaced with the escaped search terms.
type Site struct {
	Name        string `yaml:"name"`
	URLTemplate string `yaml:"url"`
	Format      Format `yaml:"format"`
	Enabled     bool   `yaml:"enabled"`
}

// UnmarshalYAML decodes a site entry. An entry without an enabled key is
// enabled.
func (s *Site) UnmarshalYAML(node *yaml.Node) error {
	type plain Site
	p := plain{Enabled: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Site(p)
	return nil
}

// DefaultSites returns the built-in index list.
func DefaultSites() []Site {
	return []Site{
		{Name: "1337x", URLTemplate: "https://1337x.to/search/{query}/1/", Format: FormatHTML, Enabled: true},
		{Name: "TorrentGalaxy", URLTemplate: "https://torrentgalaxy.to/torrents.php?search={query}", Format: FormatHTML, Enabled: true},
		{Name: "YTS", URLTemplate: "https://yts.mx/api/v2/list_movies.json?query_term={query}", Format: FormatJSON, Enabled: true},
		{Name: "RARBG-proxy", URLTemplate: "https://rargb.to/search/?search={query}", Format: FormatHTML, Enabled: true},
		{Name: "LimeTorrents", URLTemplate: "https://www.limetorrents.lol/search/all/{query}/", Format: FormatHTML, Enabled: true},
		{Name: "Nyaa", URLTemplate: "https://nyaa.si/?q={query}", Format: FormatHTML, Enabled: true},
	}
}
