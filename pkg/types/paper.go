// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the thoth pipeline:
// papers and processing versions, citation edges, analysis results,
// retrieval chunks, research queries, configuration, and the error
// taxonomy used across package boundaries.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PaperStatus tracks a paper through the ingestion pipeline.
type PaperStatus string

const (
	StatusPending    PaperStatus = "pending"
	StatusProcessing PaperStatus = "processing"
	StatusComplete   PaperStatus = "complete"

	// StatusPartial marks papers whose analysis failed schema validation
	// after the repair attempt; the pipeline keeps the paper with an
	// empty analysis rather than discarding the version.
	StatusPartial PaperStatus = "partial"

	StatusFailed PaperStatus = "failed"
)

// Paper is the canonical record for a document known to the system. A paper
// exists once regardless of how many times its PDF is re-processed; per-run
// state lives on ProcessingVersion.
type Paper struct {
	// ID is a short stable identifier derived from the strongest available
	// external identifier (DOI, then arXiv ID, then OpenAlex ID, then the
	// PDF content hash).
	ID string `json:"id" yaml:"id"`

	// DOI is the normalized DOI (lowercase, no resolver prefix), if known.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// ArxivID is the arXiv identifier without version suffix, if known.
	ArxivID string `json:"arxiv_id,omitempty" yaml:"arxiv_id,omitempty"`

	// OpenAlexID is the OpenAlex work ID (e.g. "W2741809807"), if known.
	OpenAlexID string `json:"openalex_id,omitempty" yaml:"openalex_id,omitempty"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Year is the publication year, zero when unknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Venue is the journal, conference, or repository name.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`

	// Abstract is the paper abstract.
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// Tags are topic labels, populated from the active analysis.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// PDFPath is the absolute path to the PDF inside the workspace. Empty
	// for papers known only as citation targets.
	PDFPath string `json:"pdf_path,omitempty" yaml:"pdf_path,omitempty"`

	// PDFSHA256 is the hex digest of the PDF bytes. Identity for
	// idempotent re-ingestion: same digest, same paper.
	PDFSHA256 string `json:"pdf_sha256,omitempty" yaml:"pdf_sha256,omitempty"`

	// MarkdownPath is the absolute path to the active version's markdown
	// with images preserved.
	MarkdownPath string `json:"markdown_path,omitempty" yaml:"markdown_path,omitempty"`

	// MarkdownPathNoImages is the absolute path to the active version's
	// canonical text, the variant analysis and embeddings consume.
	MarkdownPathNoImages string `json:"markdown_path_no_images,omitempty" yaml:"markdown_path_no_images,omitempty"`

	// EmbeddingsGenerated is true once the active version's chunks are in
	// the vector index.
	EmbeddingsGenerated bool `json:"embeddings_generated,omitempty" yaml:"embeddings_generated,omitempty"`

	// Status is the pipeline state of the most recent ingestion attempt.
	Status PaperStatus `json:"status" yaml:"status"`

	// Stub marks papers created as citation targets without a local PDF.
	Stub bool `json:"stub,omitempty" yaml:"stub,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// ProcessingVersion records one complete processing run of a paper. At
// most one version per paper is active; derived artifacts (chunks,
// citations, vectors, notes) hang off a version, never off the paper
// directly. Versions are immutable once written; a re-ingestion
// supersedes, it never mutates.
type ProcessingVersion struct {
	// PaperID identifies the owning paper.
	PaperID string `json:"paper_id" yaml:"paper_id"`

	// Version is a monotonically increasing number scoped to the paper.
	Version int `json:"version" yaml:"version"`

	// ContentHash is the sha256 of the no-images markdown the run
	// consumed.
	ContentHash string `json:"content_hash" yaml:"content_hash"`

	// MarkdownPath is the absolute path to this version's markdown with
	// images preserved.
	MarkdownPath string `json:"markdown_path,omitempty" yaml:"markdown_path,omitempty"`

	// MarkdownPathNoImages is the absolute path to this version's
	// canonical no-images markdown.
	MarkdownPathNoImages string `json:"markdown_path_no_images,omitempty" yaml:"markdown_path_no_images,omitempty"`

	// PromptVersion identifies the analysis prompt revision used.
	PromptVersion string `json:"prompt_version" yaml:"prompt_version"`

	// ModelID is the LLM model identifier used for analysis.
	ModelID string `json:"model_id" yaml:"model_id"`

	// ConfigDigest fingerprints the configuration subset that affects
	// derived artifacts. An unchanged PDF with an unchanged digest makes
	// re-ingestion a no-op.
	ConfigDigest string `json:"config_digest" yaml:"config_digest"`

	// Strategy records how the document was fed to the model.
	Strategy AnalysisStrategy `json:"strategy" yaml:"strategy"`

	// Analysis is the structured analysis produced by this run.
	Analysis Analysis `json:"analysis" yaml:"analysis"`

	// Active is true for the version whose artifacts are currently served.
	Active bool `json:"active" yaml:"active"`

	ProcessedAt time.Time `json:"processed_at" yaml:"processed_at"`
}

// PaperID derives the stable paper identifier from the strongest
// available external identifier: DOI, then arXiv ID, then OpenAlex ID,
// then the PDF content hash. The identifier space is prefixed so a DOI
// can never collide with an arXiv ID or a content hash.
func PaperID(doi, arxivID, openalexID, pdfSHA256 string) string {
	var canonical string
	switch {
	case doi != "":
		canonical = "doi:" + doi
	case arxivID != "":
		canonical = "arxiv:" + arxivID
	case openalexID != "":
		canonical = "openalex:" + openalexID
	default:
		canonical = "pdf:" + pdfSHA256
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:12]
}
