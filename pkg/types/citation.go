// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ResolutionStage identifies which step of the resolution chain produced a
// citation's link, or that every step failed.
type ResolutionStage string

const (
	StageDOI        ResolutionStage = "doi"
	StageOpenAlex   ResolutionStage = "openalex"
	StageArxiv      ResolutionStage = "arxiv"
	StageFuzzy      ResolutionStage = "fuzzy"
	StageUnresolved ResolutionStage = "unresolved"
)

// CitationFields holds the structured fields extracted from a raw
// bibliography entry before resolution.
type CitationFields struct {
	// Authors lists the cited work's authors as written.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Title is the cited work's title.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Year is the publication year, zero when absent.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Venue is the journal, conference, or publisher.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`

	// DOI is a DOI found in the entry text, normalized.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// ArxivID is an arXiv identifier found in the entry text.
	ArxivID string `json:"arxiv_id,omitempty" yaml:"arxiv_id,omitempty"`
}

// Citation is one edge of the citation graph: a reference made by a citing
// paper, possibly resolved to a known paper.
type Citation struct {
	// ID is a stable identifier derived from the citing version and the
	// raw entry text, consistent across re-runs of unchanged content.
	ID string `json:"id" yaml:"id"`

	// PaperID identifies the citing paper.
	PaperID string `json:"paper_id" yaml:"paper_id"`

	// Version is the processing version that produced this edge.
	Version int `json:"version" yaml:"version"`

	// Raw is the bibliography entry text exactly as extracted.
	Raw string `json:"raw" yaml:"raw"`

	// Key is the in-text reference label (e.g. "12", "Smith2020").
	Key string `json:"key,omitempty" yaml:"key,omitempty"`

	// Fields holds the structured fields parsed from Raw.
	Fields CitationFields `json:"fields" yaml:"fields"`

	// CitedPaperID is the resolved target, empty when unresolved.
	CitedPaperID string `json:"cited_paper_id,omitempty" yaml:"cited_paper_id,omitempty"`

	// Stage records which resolution step decided this edge.
	Stage ResolutionStage `json:"stage" yaml:"stage"`

	// Confidence is 1.0 for identifier-based resolution, the similarity
	// score for fuzzy matches, and 0.0 when unresolved.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Contexts holds sentences from the citing paper where the reference
	// is used in-text.
	Contexts []string `json:"contexts,omitempty" yaml:"contexts,omitempty"`

	// Influential mirrors the upstream provider's judgment, when present.
	Influential bool `json:"influential,omitempty" yaml:"influential,omitempty"`

	// InfluenceProvider names the service whose judgment Influential
	// carries (e.g. "semanticscholar"). Empty when no provider reported.
	InfluenceProvider string `json:"influence_provider,omitempty" yaml:"influence_provider,omitempty"`
}
