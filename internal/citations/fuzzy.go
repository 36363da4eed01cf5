// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package citations

import (
	"sort"
	"strings"
	"unicode"

	"github.com/pdiddy/thoth/pkg/types"
)

// Weighted similarity between an extracted citation and a known paper.
// Accept threshold and the ambiguity margin for near-ties.
const (
	fuzzyThreshold = 0.82
	fuzzyTieMargin = 0.005

	weightTitle   = 0.50
	weightAuthors = 0.25
	weightYear    = 0.15
	weightVenue   = 0.10
)

// fuzzyScore rates how likely fields and paper describe the same work.
func fuzzyScore(f types.CitationFields, p types.Paper) float64 {
	title := tokenSetRatio(normalizeTitle(f.Title), normalizeTitle(p.Title))
	authors := surnameJaccard(f.Authors, p.Authors)
	venue := 0.0
	if nv := normalizeTitle(f.Venue); nv != "" && nv == normalizeTitle(p.Venue) {
		venue = 1.0
	}
	return weightTitle*title + weightAuthors*authors +
		weightYear*yearScore(f.Year, p.Year) + weightVenue*venue
}

func yearScore(a, b int) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	switch d := a - b; {
	case d == 0:
		return 1.0
	case d == 1 || d == -1:
		return 0.5
	}
	return 0
}

// normalizeTitle lowercases, strips punctuation, and collapses spaces.
func normalizeTitle(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// tokenSetRatio compares normalized strings by their word sets: the
// shared words, plus each side's remainder, are compared pairwise and
// the best ratio wins. Word order and repeated words do not count, so
// "attention is all you need" matches "all you need is attention".
func tokenSetRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	setA := tokenSet(a)
	setB := tokenSet(b)

	var shared, onlyA, onlyB []string
	for tok := range setA {
		if setB[tok] {
			shared = append(shared, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if !setA[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(shared)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	t0 := strings.Join(shared, " ")
	t1 := strings.TrimSpace(t0 + " " + strings.Join(onlyA, " "))
	t2 := strings.TrimSpace(t0 + " " + strings.Join(onlyB, " "))

	best := levenshteinRatio(t0, t1)
	if r := levenshteinRatio(t0, t2); r > best {
		best = r
	}
	if r := levenshteinRatio(t1, t2); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// levenshteinRatio maps edit distance onto [0, 1].
func levenshteinRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	total := la + lb
	if total == 0 {
		return 1
	}
	return float64(total-levenshtein(a, b)) / float64(total)
}

// levenshtein is the single-column edit distance over runes.
func levenshtein(a, b string) int {
	s1 := []rune(a)
	s2 := []rune(b)
	if len(s2) == 0 {
		return len(s1)
	}

	column := make([]int, len(s1)+1)
	for i := 1; i <= len(s1); i++ {
		column[i] = i
	}

	for col, r2 := range s2 {
		column[0] = col + 1
		lastdiag := col
		for row, r1 := range s1 {
			olddiag := column[row+1]
			cost := 0
			if r1 != r2 {
				cost = 1
			}
			column[row+1] = min(column[row+1]+1, column[row]+1, lastdiag+cost)
			lastdiag = olddiag
		}
	}
	return column[len(s1)]
}

// surnameJaccard compares author lists by their normalized last names.
func surnameJaccard(a, b []string) float64 {
	setA := surnameSet(a)
	setB := surnameSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for n := range setA {
		if setB[n] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// surnameSet extracts last names from author strings in either
// "Smith, J." or "Jane Smith" form, dropping "et al." markers.
func surnameSet(authors []string) map[string]bool {
	set := make(map[string]bool)
	for _, a := range authors {
		name := surname(a)
		if name != "" {
			set[name] = true
		}
	}
	return set
}

func surname(author string) string {
	author = strings.TrimSpace(author)
	if author == "" {
		return ""
	}
	// "Smith, J." puts the surname before the comma.
	if before, _, found := strings.Cut(author, ","); found {
		return normalizeTitle(before)
	}
	fields := strings.Fields(normalizeTitle(author))
	// Walk back over "et al" and trailing initials.
	for i := len(fields) - 1; i >= 0; i-- {
		tok := fields[i]
		if tok == "et" || tok == "al" || len(tok) == 1 {
			continue
		}
		return tok
	}
	return ""
}
