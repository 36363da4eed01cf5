// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package citations

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/thoth/internal/metadata"
	"github.com/pdiddy/thoth/pkg/types"
)

var (
	// bracketKeyRe matches "[12]" entry markers at line start.
	bracketKeyRe = regexp.MustCompile(`^\s*\[(\d{1,3})\]\s*`)

	// numberKeyRe matches "12." or "12)" entry markers at line start.
	numberKeyRe = regexp.MustCompile(`^\s*(\d{1,3})[.)]\s+`)

	yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

	quotedTitleRe = regexp.MustCompile(`[“"]([^”"]{8,})[”"]`)

	initialsRe = regexp.MustCompile(`^[A-Z]\.?([ .-][A-Z]\.?)*$`)
)

// parseEntries is the no-model fallback: split a references section into
// entries and pull fields out of each with patterns. It recovers keys,
// years, DOIs, and arXiv IDs reliably; titles and authors are best
// effort.
func parseEntries(section string) []RawCitation {
	var raws []RawCitation
	for _, entry := range splitEntries(section) {
		key, f := parseEntry(entry)
		raws = append(raws, RawCitation{Text: entry, Key: key, Fields: f})
	}
	return raws
}

// splitEntries cuts a references section into one string per entry.
// Marker-led entries ("[1] ..." or "1. ...") may span multiple lines;
// without markers, blank lines separate entries.
func splitEntries(section string) []string {
	lines := strings.Split(section, "\n")

	marked := 0
	for _, line := range lines {
		if bracketKeyRe.MatchString(line) || numberKeyRe.MatchString(line) {
			marked++
		}
	}

	var entries []string
	if marked >= 2 {
		var cur strings.Builder
		flush := func() {
			if s := strings.TrimSpace(cur.String()); s != "" {
				entries = append(entries, s)
			}
			cur.Reset()
		}
		for _, line := range lines {
			if bracketKeyRe.MatchString(line) || numberKeyRe.MatchString(line) {
				flush()
			}
			cur.WriteString(strings.TrimSpace(line))
			cur.WriteByte('\n')
		}
		flush()
		return entries
	}

	for _, para := range strings.Split(section, "\n\n") {
		para = strings.TrimSpace(strings.Join(strings.Fields(para), " "))
		if para != "" {
			entries = append(entries, para)
		}
	}
	return entries
}

func parseEntry(entry string) (key string, f types.CitationFields) {
	text := strings.TrimSpace(strings.Join(strings.Fields(entry), " "))

	if m := bracketKeyRe.FindStringSubmatch(text); m != nil {
		key = m[1]
		text = text[len(m[0]):]
	} else if m := numberKeyRe.FindStringSubmatch(text); m != nil {
		key = m[1]
		text = text[len(m[0]):]
	}

	if m := yearRe.FindString(text); m != "" {
		f.Year, _ = strconv.Atoi(m)
	}
	f.DOI = metadata.NormalizeDOI(text)
	f.ArxivID = metadata.FindArxivID(text)

	if m := quotedTitleRe.FindStringSubmatch(text); m != nil {
		f.Title = strings.TrimRight(strings.TrimSpace(m[1]), ".,")
	}

	// The common layout is "Authors. Title. Venue, year."
	segments := splitSegments(text)
	if len(segments) > 0 {
		f.Authors = parseAuthors(segments[0])
	}
	if f.Title == "" && len(segments) > 1 {
		f.Title = segments[1]
	}
	if len(segments) > 2 {
		f.Venue = trimVenue(segments[2])
	}
	return key, f
}

// splitSegments divides an entry on ". " boundaries, gluing back
// segments that are bare initials from "Smith, J. and Doe, A." author
// runs.
func splitSegments(text string) []string {
	parts := strings.Split(text, ". ")
	var segments []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len(segments) > 0 && looksLikeInitialRun(p) {
			segments[len(segments)-1] += ". " + p
			continue
		}
		segments = append(segments, p)
	}
	return segments
}

// looksLikeInitialRun reports whether a whole segment is bare author
// initials, meaning the preceding ". " fell inside an author list.
// Only the full-segment form is safe to glue: titles opening with the
// article "A" would otherwise be swallowed into the author run.
func looksLikeInitialRun(s string) bool {
	return initialsRe.MatchString(strings.TrimRight(s, ".,"))
}

func parseAuthors(segment string) []string {
	segment = strings.TrimSuffix(segment, ".")
	for _, sep := range []string{" and ", " & "} {
		segment = strings.ReplaceAll(segment, sep, ";")
	}

	var authors []string
	if strings.Contains(segment, ";") {
		for _, a := range strings.Split(segment, ";") {
			if a = strings.TrimSpace(strings.Trim(a, ",")); a != "" {
				authors = append(authors, a)
			}
		}
		return authors
	}

	// "Smith, J., Doe, A.": rejoin surname/initial pairs split by commas.
	parts := strings.Split(segment, ",")
	for i := 0; i < len(parts); i++ {
		p := strings.TrimSpace(parts[i])
		if p == "" {
			continue
		}
		if i+1 < len(parts) {
			next := strings.TrimSpace(parts[i+1])
			if initialsRe.MatchString(strings.TrimSuffix(next, ".")) {
				authors = append(authors, p+", "+next)
				i++
				continue
			}
		}
		authors = append(authors, p)
	}
	return authors
}

func trimVenue(s string) string {
	s = yearRe.ReplaceAllString(s, "")
	s = strings.Trim(s, " .,;:")
	return s
}
