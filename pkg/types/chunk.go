// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ChunkSource distinguishes where a chunk's text came from.
type ChunkSource string

const (
	// SourcePaperBody marks chunks cut from the paper's markdown.
	SourcePaperBody ChunkSource = "paper_body"

	// SourceGeneratedNote marks chunks cut from the rendered note.
	SourceGeneratedNote ChunkSource = "generated_note"
)

// Chunk is one retrieval unit of a paper's markdown. Chunks are derived
// artifacts: they belong to a processing version and are replaced wholesale
// when a new version becomes active.
type Chunk struct {
	// ID is a UUID assigned at chunking time. The same ID keys the chunk
	// in the relational store and in the vector collection.
	ID string `json:"id" yaml:"id"`

	// PaperID identifies the source paper.
	PaperID string `json:"paper_id" yaml:"paper_id"`

	// Version is the processing version the chunk belongs to.
	Version int `json:"version" yaml:"version"`

	// SourceKind is the origin of the text, paper body or generated note.
	SourceKind ChunkSource `json:"source_kind" yaml:"source_kind"`

	// Seq is the chunk's position in document order, starting at 0.
	// (PaperID, Version, SourceKind, Seq) is unique.
	Seq int `json:"seq" yaml:"seq"`

	// Heading is the markdown heading path the chunk falls under, segments
	// joined with " > " (e.g. "3 Methods > 3.2 Training").
	Heading string `json:"heading,omitempty" yaml:"heading,omitempty"`

	// Text is the chunk content.
	Text string `json:"text" yaml:"text"`

	// TokenCount is the approximate token count of Text.
	TokenCount int `json:"token_count" yaml:"token_count"`
}

// SearchHit is one result of a hybrid retrieval query.
type SearchHit struct {
	Chunk Chunk `json:"chunk" yaml:"chunk"`

	// Score is the fused relevance score (reciprocal-rank fusion).
	Score float64 `json:"score" yaml:"score"`

	// PaperTitle is denormalized for display.
	PaperTitle string `json:"paper_title" yaml:"paper_title"`
}

// Answer is the result of a retrieval-augmented question.
type Answer struct {
	// Text is the model's answer, grounded in the retrieved chunks.
	Text string `json:"text" yaml:"text"`

	// Sources lists the chunks the answer was generated from, in the
	// order they were presented to the model.
	Sources []SearchHit `json:"sources" yaml:"sources"`
}
