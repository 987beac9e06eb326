// Package scoring computes deterministic 0-100 confidence scores for
// candidate results. Every function here is pure.
package scoring

import (
	"strings"
	"unicode/utf8"

	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/source"
)

const (
	// Threshold is the minimum score a web search or torrent candidate
	// needs to be kept.
	Threshold = 40

	// MessagingConfidence is assigned to every public channel post found by
	// the messaging adapter. Messaging results are not scored.
	MessagingConfidence = 90
)

// Retained reports whether a scored candidate clears Threshold.
func Retained(score int) bool {
	return score >= Threshold
}

// Score rates a web search candidate against the reference title, keywords
// and content type.
func Score(c source.CandidateResult, referenceTitle string, keywords []string, ct content.Type) int {
	title := strings.ToLower(c.Title)
	snippet := strings.ToLower(c.Snippet)
	domain := strings.ToLower(c.Domain)
	link := strings.ToLower(c.SourceURL)
	ref := strings.ToLower(referenceTitle)

	inText := func(s string) bool {
		return strings.Contains(title, s) || strings.Contains(snippet, s)
	}

	score := 0
	if strings.Contains(title, ref) {
		score += 40
	} else {
		score += fuzzy(ref, 30, inText)
	}

	for _, kw := range keywords {
		if inText(strings.ToLower(kw)) {
			score += 5
		}
	}

	if anyMatch(freeKeywords, inText) {
		score += 10
	}
	if containsAny(domain, piracyDomains) {
		score += 25
	}

	switch ct {
	case content.TypeVideo:
		if containsAny(domain, videoPiracyDomains) {
			score += 20
		}
		if anyMatch(videoKeywords, inText) {
			score += 8
		}
		if containsAny(link, videoExtensions) {
			score += 15
		}
	case content.TypePDF:
		if containsAny(domain, pdfPiracyDomains) {
			score += 20
		}
		if anyMatch(pdfKeywords, inText) {
			score += 8
		}
		if containsAny(link, documentExtensions) {
			score += 15
		}
	}

	return clamp(score)
}

// ScoreTorrent rates a torrent listing. Only the listing title and seeder
// count are considered.
func ScoreTorrent(torrentTitle string, seeders int, referenceTitle string, keywords []string) int {
	title := strings.ToLower(torrentTitle)
	ref := strings.ToLower(referenceTitle)
	inTitle := func(s string) bool { return strings.Contains(title, s) }

	score := 0
	if strings.Contains(title, ref) {
		score += 50
	} else {
		score += fuzzy(ref, 40, inTitle)
	}

	for _, kw := range keywords {
		if inTitle(strings.ToLower(kw)) {
			score += 10
		}
	}

	if anyMatch(qualityIndicators, inTitle) {
		score += 5
	}

	switch {
	case seeders > 100:
		score += 15
	case seeders > 10:
		score += 10
	}

	return clamp(score)
}

// fuzzy awards up to limit points for the fraction of significant reference
// words (longer than three characters) that match. The result is floored.
func fuzzy(ref string, limit int, match func(string) bool) int {
	total, matched := 0, 0
	for _, w := range strings.Fields(ref) {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		total++
		if match(w) {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return min(limit, matched*limit/total)
}

func anyMatch(phrases []string, match func(string) bool) bool {
	for _, p := range phrases {
		if match(p) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp(score int) int {
	return max(0, min(score, 100))
}
