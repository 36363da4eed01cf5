// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pdiddy/thoth/internal/gateway"
)

const defaultSemanticScholarBase = "https://api.semanticscholar.org/graph/v1"

const s2PaperFields = "title,abstract,authors,externalIds,year,publicationDate,venue,openAccessPdf"

// SemanticScholar looks up papers and their citation edges. It is the
// provider of the influential-citation judgment, which is recorded
// verbatim rather than recomputed.
type SemanticScholar struct {
	client  *gateway.Client
	baseURL string
}

// NewSemanticScholar builds the client over the "semanticscholar" service
// policy. The policy's APIKey raises rate limits when set.
func NewSemanticScholar(client *gateway.Client) *SemanticScholar {
	baseURL := client.Config().BaseURL
	if baseURL == "" {
		baseURL = defaultSemanticScholarBase
	}
	return &SemanticScholar{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// WorkByDOI fetches one paper by DOI.
func (s *SemanticScholar) WorkByDOI(ctx context.Context, doi string) (*Work, error) {
	doi = NormalizeDOI(doi)
	if doi == "" {
		return nil, fmt.Errorf("empty DOI")
	}
	return s.work(ctx, "DOI:"+doi)
}

// WorkByArxivID fetches one paper by arXiv identifier.
func (s *SemanticScholar) WorkByArxivID(ctx context.Context, id string) (*Work, error) {
	id = strings.TrimSpace(strings.TrimPrefix(id, "arXiv:"))
	if id == "" {
		return nil, fmt.Errorf("empty arXiv ID")
	}
	return s.work(ctx, "arXiv:"+id)
}

func (s *SemanticScholar) work(ctx context.Context, paperID string) (*Work, error) {
	reqURL := fmt.Sprintf("%s/paper/%s?fields=%s", s.baseURL, url.PathEscape(paperID), url.QueryEscape(s2PaperFields))

	var paper s2Paper
	if err := s.client.GetJSON(ctx, reqURL, s.header(), &paper); err != nil {
		return nil, err
	}
	return s2PaperToWork(paper), nil
}

// SearchRecent returns up to limit papers matching the query published on
// or after since. Discovery uses this to poll for candidates; a zero
// since means no date floor.
func (s *SemanticScholar) SearchRecent(ctx context.Context, query string, since time.Time, limit int) ([]Work, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		limit = 25
	}

	params := url.Values{
		"query":  {query},
		"fields": {s2PaperFields},
		"limit":  {fmt.Sprintf("%d", limit)},
	}
	if !since.IsZero() {
		params.Set("publicationDateOrYear", since.UTC().Format("2006-01-02")+":")
	}

	var resp s2SearchResponse
	if err := s.client.GetJSON(ctx, s.baseURL+"/paper/search?"+params.Encode(), s.header(), &resp); err != nil {
		return nil, err
	}

	works := make([]Work, 0, len(resp.Data))
	for _, p := range resp.Data {
		works = append(works, *s2PaperToWork(p))
	}
	return works, nil
}

// InboundCitation is one citing paper plus the provider's influence
// judgment and usage contexts.
type InboundCitation struct {
	Work          Work
	IsInfluential bool
	Contexts      []string
}

// Citations lists papers citing the given paper, carrying isInfluential
// through unchanged.
func (s *SemanticScholar) Citations(ctx context.Context, paperID string, limit int) ([]InboundCitation, error) {
	if limit <= 0 {
		limit = 100
	}
	fields := "isInfluential,contexts," + strings.ReplaceAll(s2PaperFields, "publicationDate,", "")
	reqURL := fmt.Sprintf("%s/paper/%s/citations?fields=%s&limit=%d",
		s.baseURL, url.PathEscape(paperID), url.QueryEscape(fields), limit)

	var resp s2CitationsResponse
	if err := s.client.GetJSON(ctx, reqURL, s.header(), &resp); err != nil {
		return nil, err
	}

	out := make([]InboundCitation, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, InboundCitation{
			Work:          *s2PaperToWork(d.CitingPaper),
			IsInfluential: d.IsInfluential,
			Contexts:      d.Contexts,
		})
	}
	return out, nil
}

// OutboundReference is one cited paper plus the provider's influence
// judgment for the edge.
type OutboundReference struct {
	Work          Work
	IsInfluential bool
	Contexts      []string
}

// References lists the papers the given paper cites, carrying
// isInfluential through unchanged.
func (s *SemanticScholar) References(ctx context.Context, paperID string, limit int) ([]OutboundReference, error) {
	if limit <= 0 {
		limit = 200
	}
	fields := "isInfluential,contexts," + strings.ReplaceAll(s2PaperFields, "publicationDate,", "")
	reqURL := fmt.Sprintf("%s/paper/%s/references?fields=%s&limit=%d",
		s.baseURL, url.PathEscape(paperID), url.QueryEscape(fields), limit)

	var resp s2ReferencesResponse
	if err := s.client.GetJSON(ctx, reqURL, s.header(), &resp); err != nil {
		return nil, err
	}

	out := make([]OutboundReference, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, OutboundReference{
			Work:          *s2PaperToWork(d.CitedPaper),
			IsInfluential: d.IsInfluential,
			Contexts:      d.Contexts,
		})
	}
	return out, nil
}

func (s *SemanticScholar) header() http.Header {
	h := http.Header{}
	if key := s.client.Config().APIKey; key != "" {
		h.Set("x-api-key", key)
	}
	return h
}

func s2PaperToWork(p s2Paper) *Work {
	w := &Work{
		Title:    p.Title,
		Abstract: p.Abstract,
		Venue:    p.Venue,
		Year:     p.Year,
		DOI:      NormalizeDOI(p.ExternalIDs.DOI),
		ArxivID:  p.ExternalIDs.ArXiv,
	}
	for _, a := range p.Authors {
		w.Authors = append(w.Authors, a.Name)
	}
	if p.PublicationDate != "" {
		if t, err := time.Parse("2006-01-02", p.PublicationDate); err == nil {
			w.Published = t
		}
	}
	w.PDFURL = p.OpenAccessPDF.URL
	return w
}

// Semantic Scholar API JSON structures.
type s2Paper struct {
	PaperID         string          `json:"paperId"`
	Title           string          `json:"title"`
	Abstract        string          `json:"abstract"`
	Venue           string          `json:"venue"`
	Year            int             `json:"year"`
	PublicationDate string          `json:"publicationDate"`
	Authors         []s2Author      `json:"authors"`
	ExternalIDs     s2ExternalIDs   `json:"externalIds"`
	OpenAccessPDF   s2OpenAccessPDF `json:"openAccessPdf"`
}

type s2OpenAccessPDF struct {
	URL string `json:"url"`
}

type s2SearchResponse struct {
	Total int       `json:"total"`
	Data  []s2Paper `json:"data"`
}

type s2Author struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type s2ExternalIDs struct {
	DOI      string `json:"DOI"`
	ArXiv    string `json:"ArXiv"`
	CorpusID int    `json:"CorpusId"`
}

type s2CitationsResponse struct {
	Data []s2CitationEdge `json:"data"`
}

type s2CitationEdge struct {
	IsInfluential bool     `json:"isInfluential"`
	Contexts      []string `json:"contexts"`
	CitingPaper   s2Paper  `json:"citingPaper"`
}

type s2ReferencesResponse struct {
	Data []s2ReferenceEdge `json:"data"`
}

type s2ReferenceEdge struct {
	IsInfluential bool     `json:"isInfluential"`
	Contexts      []string `json:"contexts"`
	CitedPaper    s2Paper  `json:"citedPaper"`
}
