// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metadata holds the clients for scholarly metadata APIs:
// Crossref, OpenAlex, arXiv, and Semantic Scholar. Every client goes
// through the gateway, so rate limits, retries, and response caching come
// from the per-service policy rather than from this package.
package metadata

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Work is the provider-neutral shape of one scholarly record. Resolution
// and discovery both consume it.
type Work struct {
	Title      string
	Authors    []string
	Year       int
	Venue      string
	Abstract   string
	DOI        string
	ArxivID    string
	OpenAlexID string
	PDFURL     string
	Published  time.Time
}

var doiRe = regexp.MustCompile(`10\.\d{4,9}/[^\s"<>]+`)

// NormalizeDOI lowercases a DOI and strips resolver prefixes so that the
// same work always compares equal. Returns "" when no DOI is present.
func NormalizeDOI(raw string) string {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if rest, ok := cutPrefixFold(s, prefix); ok {
			s = rest
			break
		}
	}
	m := doiRe.FindString(s)
	if m == "" {
		return ""
	}
	// Trailing punctuation from sentence context is not part of the DOI.
	m = strings.TrimRight(m, ".,;)")
	return strings.ToLower(m)
}

// arxivTextRe matches arXiv IDs in running text. The prefix or an
// arxiv.org URL is required; a bare number pattern would false-positive
// on page ranges and report numbers.
var arxivTextRe = regexp.MustCompile(`(?i)(?:arxiv:\s*|arxiv\.org/(?:abs|pdf)/)(\d{4}\.\d{4,5})(?:v\d+)?`)

// FindArxivID scans text for an arXiv identifier and returns it without
// the version suffix, or "" when none is present.
func FindArxivID(text string) string {
	m := arxivTextRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// cutPrefixFold is strings.CutPrefix with ASCII case folding on the prefix.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) {
		return s, false
	}
	if strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// extractArxivID pulls the arXiv ID from an abs URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" -> "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
