package websearch

import (
	"fmt"
	"strings"

	"github.com/sydlexius/contentguard/internal/content"
)

var generalPhrases = []string{
	`"free download"`,
	"torrent",
	`"telegram channel"`,
	"mega.nz",
	`"google drive free"`,
}

var videoPhrases = []string{
	`"course download mp4"`,
	`"full course free"`,
	`"video torrent"`,
	`"1080p download"`,
	`"course videos mega"`,
	`"udemy rip"`,
}

var pdfPhrases = []string{
	`"pdf free download"`,
	`"ebook download"`,
	`"pdf torrent"`,
	"libgen",
	`"workbook free pdf"`,
	`"course materials pdf"`,
}

// Queries builds the three compound queries issued for c: general piracy
// phrases, content-type phrases, and a keyword query over the first three
// keywords.
func Queries(c *content.ProtectedContent) []string {
	title := quote(c.Title)

	var typed, keywordSuffix []string
	switch c.Type {
	case content.TypePDF:
		typed = pdfPhrases
		keywordSuffix = []string{`"pdf free download"`, "ebook"}
	default:
		typed = videoPhrases
		keywordSuffix = []string{`"free download"`, `"course video"`}
	}

	kws := c.Keywords
	if len(kws) > 3 {
		kws = kws[:3]
	}
	quoted := make([]string, 0, len(kws))
	for _, k := range kws {
		quoted = append(quoted, quote(k))
	}
	if len(quoted) == 0 {
		quoted = append(quoted, title)
	}

	return []string{
		fmt.Sprintf("%s (%s)", title, orJoin(generalPhrases)),
		fmt.Sprintf("%s (%s)", title, orJoin(typed)),
		fmt.Sprintf("(%s) (%s)", orJoin(quoted), orJoin(keywordSuffix)),
	}
}

func orJoin(terms []string) string {
	return strings.Join(terms, " OR ")
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(strings.TrimSpace(s), `"`, "") + `"`
}
