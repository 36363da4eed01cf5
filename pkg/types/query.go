// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"strings"
	"time"
	"unicode"
)

// ResearchQuery describes a standing research interest. Discovery sources
// poll for new candidates; the relevance filter scores each candidate
// against the query before anything is downloaded.
type ResearchQuery struct {
	// ID is a short stable identifier derived from the query name.
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable label (e.g. "sparse attention").
	Name string `json:"name" yaml:"name"`

	// Description is a natural-language statement of the interest.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Keywords are matched case-insensitively against candidate titles and
	// abstracts in the cheap pre-filter.
	Keywords []string `json:"keywords" yaml:"keywords"`

	// Rubric is free-text criteria given to the model when keyword
	// matching alone cannot decide.
	Rubric string `json:"rubric,omitempty" yaml:"rubric,omitempty"`

	// Threshold is the minimum relevance score for acceptance. Zero means
	// the default (0.6).
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`

	// Active queries are polled by discovery; inactive ones are kept for
	// their history.
	Active bool `json:"active" yaml:"active"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// QueryID derives the stable query identifier from its name: lowercase,
// with runs of non-alphanumerics collapsed to single dashes.
func QueryID(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// Candidate is a paper surfaced by a discovery source, not yet accepted.
type Candidate struct {
	// SourceID is the canonical ID from the source (arXiv ID, DOI, or
	// OpenAlex work ID).
	SourceID string `json:"source_id" yaml:"source_id"`

	// Source identifies which backend found this candidate (e.g. "arxiv",
	// "openalex", "semantic_scholar").
	Source string `json:"source" yaml:"source"`

	// Title is the paper title as returned by the source.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Abstract is the paper abstract or summary.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Published is the publication or preprint date.
	Published time.Time `json:"published" yaml:"published"`

	// PDFURL is a direct PDF link when the source provides one.
	PDFURL string `json:"pdf_url,omitempty" yaml:"pdf_url,omitempty"`
}

// FilterMethod records which mechanism decided a candidate.
type FilterMethod string

const (
	FilterKeyword FilterMethod = "keyword"
	FilterLLM     FilterMethod = "llm"
)

// FilterDecision is the relevance filter's verdict on one candidate.
type FilterDecision struct {
	// Accepted is true when the candidate should be acquired.
	Accepted bool `json:"accepted" yaml:"accepted"`

	// Score is the relevance score in [0,1].
	Score float64 `json:"score" yaml:"score"`

	// Method records whether keywords alone decided or the model was
	// consulted.
	Method FilterMethod `json:"method" yaml:"method"`

	// Reason is a one-line explanation, model-written for LLM decisions.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}
