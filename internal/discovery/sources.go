// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/pdiddy/thoth/internal/metadata"
	"github.com/pdiddy/thoth/pkg/types"
)

// A Source polls an external catalog for papers matching a research
// query. Implementations return candidates published after since, newest
// first, at most limit of them. A zero since means the query has never
// been polled.
type Source interface {
	Name() string
	Poll(ctx context.Context, query types.ResearchQuery, since time.Time, limit int) ([]types.Candidate, error)
}

// searchTerms joins the query's keywords into the free-text string sent
// to a catalog, falling back to the query name.
func searchTerms(q types.ResearchQuery) string {
	if len(q.Keywords) > 0 {
		return strings.Join(q.Keywords, " ")
	}
	return q.Name
}

// ArxivSource polls the arXiv submission feed.
type ArxivSource struct {
	api *metadata.Arxiv
}

func NewArxivSource(api *metadata.Arxiv) *ArxivSource { return &ArxivSource{api: api} }

func (s *ArxivSource) Name() string { return "arxiv" }

// Poll searches newest submissions first. The arXiv API has no date
// filter parameter, so the cursor cut happens client-side.
func (s *ArxivSource) Poll(ctx context.Context, query types.ResearchQuery, since time.Time, limit int) ([]types.Candidate, error) {
	works, err := s.api.Search(ctx, searchTerms(query), limit)
	if err != nil {
		return nil, err
	}
	return candidatesSince(works, s.Name(), since), nil
}

// OpenAlexSource polls the OpenAlex works catalog.
type OpenAlexSource struct {
	api *metadata.OpenAlex
}

func NewOpenAlexSource(api *metadata.OpenAlex) *OpenAlexSource { return &OpenAlexSource{api: api} }

func (s *OpenAlexSource) Name() string { return "openalex" }

func (s *OpenAlexSource) Poll(ctx context.Context, query types.ResearchQuery, since time.Time, limit int) ([]types.Candidate, error) {
	works, err := s.api.SearchRecent(ctx, searchTerms(query), since, limit)
	if err != nil {
		return nil, err
	}
	return candidatesSince(works, s.Name(), since), nil
}

// SemanticScholarSource polls the Semantic Scholar paper search.
type SemanticScholarSource struct {
	api *metadata.SemanticScholar
}

func NewSemanticScholarSource(api *metadata.SemanticScholar) *SemanticScholarSource {
	return &SemanticScholarSource{api: api}
}

func (s *SemanticScholarSource) Name() string { return "semantic_scholar" }

func (s *SemanticScholarSource) Poll(ctx context.Context, query types.ResearchQuery, since time.Time, limit int) ([]types.Candidate, error) {
	works, err := s.api.SearchRecent(ctx, searchTerms(query), since, limit)
	if err != nil {
		return nil, err
	}
	return candidatesSince(works, s.Name(), since), nil
}

// candidatesSince converts catalog works into candidates, dropping
// anything published at or before the cursor. Works without a publication
// date are kept; the library check catches repeats among them.
func candidatesSince(works []metadata.Work, source string, since time.Time) []types.Candidate {
	out := make([]types.Candidate, 0, len(works))
	for _, w := range works {
		if !since.IsZero() && !w.Published.IsZero() && !w.Published.After(since) {
			continue
		}
		out = append(out, workToCandidate(w, source))
	}
	return out
}

// workToCandidate maps catalog metadata onto a candidate. The source ID
// carries the strongest identifier so later classification can route it
// to the matching library lookup.
func workToCandidate(w metadata.Work, source string) types.Candidate {
	c := types.Candidate{
		Source:    source,
		Title:     w.Title,
		Authors:   w.Authors,
		Abstract:  w.Abstract,
		Published: w.Published,
		PDFURL:    w.PDFURL,
	}
	switch {
	case w.DOI != "":
		c.SourceID = w.DOI
	case w.ArxivID != "":
		c.SourceID = "arXiv:" + w.ArxivID
	case w.OpenAlexID != "":
		c.SourceID = w.OpenAlexID
	}
	return c
}
