// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/thoth/internal/gateway"
)

const defaultOpenAlexBase = "https://api.openalex.org"

// OpenAlex looks up works by DOI and by title.
type OpenAlex struct {
	client  *gateway.Client
	baseURL string
	mailto  string
}

// NewOpenAlex builds the client over the "openalex" service policy. The
// mailto address is sent for polite pool access; empty is allowed.
func NewOpenAlex(client *gateway.Client, mailto string) *OpenAlex {
	baseURL := client.Config().BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAlexBase
	}
	return &OpenAlex{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		mailto:  mailto,
	}
}

// WorkByDOI fetches a single work by DOI.
func (o *OpenAlex) WorkByDOI(ctx context.Context, doi string) (*Work, error) {
	doi = NormalizeDOI(doi)
	if doi == "" {
		return nil, fmt.Errorf("empty DOI")
	}

	reqURL := o.baseURL + "/works/doi:" + url.PathEscape(doi)
	if o.mailto != "" {
		reqURL += "?mailto=" + url.QueryEscape(o.mailto)
	}

	var work openAlexWork
	if err := o.client.GetJSON(ctx, reqURL, nil, &work); err != nil {
		return nil, err
	}
	return openAlexToWork(work), nil
}

// SearchTitle returns up to limit works whose titles match the query, in
// OpenAlex relevance order.
func (o *OpenAlex) SearchTitle(ctx context.Context, title string, limit int) ([]Work, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("empty title query")
	}
	if limit <= 0 {
		limit = 5
	}

	params := url.Values{
		"filter":   {"title.search:" + sanitizeFilterValue(title)},
		"per_page": {fmt.Sprintf("%d", limit)},
	}
	if o.mailto != "" {
		params.Set("mailto", o.mailto)
	}

	var resp openAlexListResponse
	if err := o.client.GetJSON(ctx, o.baseURL+"/works?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	works := make([]Work, 0, len(resp.Results))
	for _, w := range resp.Results {
		works = append(works, *openAlexToWork(w))
	}
	return works, nil
}

// SearchRecent returns up to limit works matching the query published on
// or after since, newest first. Discovery uses this to poll for
// candidates; a zero since means no date floor.
func (o *OpenAlex) SearchRecent(ctx context.Context, query string, since time.Time, limit int) ([]Work, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		limit = 25
	}

	params := url.Values{
		"search":   {query},
		"sort":     {"publication_date:desc"},
		"per_page": {fmt.Sprintf("%d", limit)},
	}
	if !since.IsZero() {
		params.Set("filter", "from_publication_date:"+since.UTC().Format("2006-01-02"))
	}
	if o.mailto != "" {
		params.Set("mailto", o.mailto)
	}

	var resp openAlexListResponse
	if err := o.client.GetJSON(ctx, o.baseURL+"/works?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	works := make([]Work, 0, len(resp.Results))
	for _, w := range resp.Results {
		works = append(works, *openAlexToWork(w))
	}
	return works, nil
}

// sanitizeFilterValue strips characters that break the OpenAlex filter
// syntax (commas separate filters, colons separate keys).
func sanitizeFilterValue(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ',', ':':
			return ' '
		}
		return r
	}, s)
}

func openAlexToWork(w openAlexWork) *Work {
	out := &Work{
		Title:      w.Title,
		DOI:        NormalizeDOI(w.DOI),
		OpenAlexID: strings.TrimPrefix(w.ID, "https://openalex.org/"),
		Abstract:   reconstructAbstract(w.AbstractInvertedIndex),
		Venue:      w.PrimaryLocation.Source.DisplayName,
	}

	for _, authorship := range w.Authorships {
		if authorship.Author.DisplayName != "" {
			out.Authors = append(out.Authors, authorship.Author.DisplayName)
		}
	}

	if w.PublicationDate != "" {
		if t, err := time.Parse("2006-01-02", w.PublicationDate); err == nil {
			out.Published = t
		}
	}
	if w.PublicationYear > 0 {
		out.Year = w.PublicationYear
	} else if !out.Published.IsZero() {
		out.Year = out.Published.Year()
	}

	if w.BestOALocation.PDFURL != "" {
		out.PDFURL = w.BestOALocation.PDFURL
	} else if w.OpenAccess.OAURL != "" {
		out.PDFURL = w.OpenAccess.OAURL
	}

	// OpenAlex records arXiv works with an arxiv.org landing page.
	if strings.Contains(w.PrimaryLocation.LandingPageURL, "arxiv.org/abs/") {
		out.ArxivID = extractArxivID(w.PrimaryLocation.LandingPageURL)
	}

	return out
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to the positions where it
// appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexListResponse struct {
	Meta    openAlexMeta   `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
	Page    int `json:"page"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationDate       string               `json:"publication_date"`
	PublicationYear       int                  `json:"publication_year"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	OpenAccess            openAlexOpenAccess   `json:"open_access"`
	PrimaryLocation       openAlexLocation     `json:"primary_location"`
	BestOALocation        openAlexLocation     `json:"best_oa_location"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type openAlexOpenAccess struct {
	IsOA     bool   `json:"is_oa"`
	OAStatus string `json:"oa_status"`
	OAURL    string `json:"oa_url"`
}

type openAlexLocation struct {
	LandingPageURL string         `json:"landing_page_url"`
	PDFURL         string         `json:"pdf_url"`
	Source         openAlexSource `json:"source"`
}

type openAlexSource struct {
	DisplayName string `json:"display_name"`
}
