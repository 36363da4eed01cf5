// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/pkg/types"
)

func clientFor(t *testing.T, service string, srv *httptest.Server) *gateway.Client {
	t.Helper()
	g := gateway.New(map[string]types.ServiceConfig{
		service: {BaseURL: srv.URL},
	}, nil, zap.NewNop())
	return g.Client(service)
}

// --- shared helpers ---

func TestNormalizeDOI(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"10.1234/ABC.5", "10.1234/abc.5"},
		{"https://doi.org/10.1234/abc.5", "10.1234/abc.5"},
		{"doi:10.1234/abc.5", "10.1234/abc.5"},
		{"DOI:10.1234/Abc.5", "10.1234/abc.5"},
		{"See 10.1234/abc.5.", "10.1234/abc.5"},
		{"http://dx.doi.org/10.5555/xyz", "10.5555/xyz"},
		{"no doi here", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeDOI(tt.input); got != tt.want {
				t.Errorf("NormalizeDOI(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --- Crossref ---

const sampleCrossrefJSON = `{
  "message": {
    "DOI": "10.48550/arxiv.1706.03762",
    "title": ["Attention Is All You Need"],
    "container-title": ["Advances in Neural Information Processing Systems"],
    "author": [
      {"given": "Ashish", "family": "Vaswani"},
      {"given": "Noam", "family": "Shazeer"}
    ],
    "issued": {"date-parts": [[2017, 6, 12]]},
    "link": [
      {"URL": "https://example.org/paper.pdf", "content-type": "application/pdf"}
    ]
  }
}`

func TestCrossrefWorkByDOI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works/10.48550%2Farxiv.1706.03762" && r.URL.Path != "/works/10.48550/arxiv.1706.03762" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("mailto") != "ops@example.org" {
			t.Errorf("mailto = %q", r.URL.Query().Get("mailto"))
		}
		fmt.Fprint(w, sampleCrossrefJSON)
	}))
	defer srv.Close()

	c := NewCrossref(clientFor(t, "crossref", srv), "ops@example.org")
	work, err := c.WorkByDOI(context.Background(), "10.48550/arXiv.1706.03762")
	if err != nil {
		t.Fatalf("WorkByDOI: %v", err)
	}

	if work.Title != "Attention Is All You Need" {
		t.Errorf("Title = %q", work.Title)
	}
	if work.DOI != "10.48550/arxiv.1706.03762" {
		t.Errorf("DOI = %q", work.DOI)
	}
	if len(work.Authors) != 2 || work.Authors[0] != "Ashish Vaswani" {
		t.Errorf("Authors = %v", work.Authors)
	}
	if work.Year != 2017 {
		t.Errorf("Year = %d", work.Year)
	}
	if work.Venue != "Advances in Neural Information Processing Systems" {
		t.Errorf("Venue = %q", work.Venue)
	}
	if work.PDFURL != "https://example.org/paper.pdf" {
		t.Errorf("PDFURL = %q", work.PDFURL)
	}
}

func TestCrossrefNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewCrossref(clientFor(t, "crossref", srv), "")
	_, err := c.WorkByDOI(context.Background(), "10.9999/missing")
	if kind := types.KindOf(err); kind != types.KindNotFound {
		t.Errorf("kind = %s, want %s", kind, types.KindNotFound)
	}
}

// --- OpenAlex ---

const sampleOpenAlexWorkJSON = `{
  "id": "https://openalex.org/W2741809807",
  "title": "Attention Is All You Need",
  "doi": "https://doi.org/10.48550/arxiv.1706.03762",
  "publication_date": "2017-06-12",
  "publication_year": 2017,
  "authorships": [
    {"author": {"id": "A1", "display_name": "Ashish Vaswani"}},
    {"author": {"id": "A2", "display_name": "Noam Shazeer"}}
  ],
  "abstract_inverted_index": {"attention": [3], "We": [0], "propose": [1], "scaled": [2]},
  "open_access": {"is_oa": true, "oa_status": "green", "oa_url": "https://arxiv.org/abs/1706.03762"},
  "primary_location": {
    "landing_page_url": "https://arxiv.org/abs/1706.03762v5",
    "source": {"display_name": "arXiv"}
  },
  "best_oa_location": {"pdf_url": "https://arxiv.org/pdf/1706.03762"}
}`

func TestOpenAlexWorkByDOI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleOpenAlexWorkJSON)
	}))
	defer srv.Close()

	o := NewOpenAlex(clientFor(t, "openalex", srv), "ops@example.org")
	work, err := o.WorkByDOI(context.Background(), "10.48550/arxiv.1706.03762")
	if err != nil {
		t.Fatalf("WorkByDOI: %v", err)
	}

	if work.OpenAlexID != "W2741809807" {
		t.Errorf("OpenAlexID = %q", work.OpenAlexID)
	}
	if work.Abstract != "We propose scaled attention" {
		t.Errorf("Abstract = %q (inverted index not reconstructed)", work.Abstract)
	}
	if work.ArxivID != "1706.03762" {
		t.Errorf("ArxivID = %q", work.ArxivID)
	}
	if work.PDFURL != "https://arxiv.org/pdf/1706.03762" {
		t.Errorf("PDFURL = %q", work.PDFURL)
	}
	if work.Venue != "arXiv" {
		t.Errorf("Venue = %q", work.Venue)
	}
}

func TestOpenAlexSearchTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		if filter != "title.search:attention is all you need" {
			t.Errorf("filter = %q", filter)
		}
		if r.URL.Query().Get("per_page") != "3" {
			t.Errorf("per_page = %q", r.URL.Query().Get("per_page"))
		}
		fmt.Fprintf(w, `{"meta": {"count": 1}, "results": [%s]}`, sampleOpenAlexWorkJSON)
	}))
	defer srv.Close()

	o := NewOpenAlex(clientFor(t, "openalex", srv), "")
	works, err := o.SearchTitle(context.Background(), "attention is all you need", 3)
	if err != nil {
		t.Fatalf("SearchTitle: %v", err)
	}
	if len(works) != 1 {
		t.Fatalf("len(works) = %d, want 1", len(works))
	}
	if works[0].Title != "Attention Is All You Need" {
		t.Errorf("Title = %q", works[0].Title)
	}
}

func TestOpenAlexSearchRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("search") != "sparse attention" {
			t.Errorf("search = %q", q.Get("search"))
		}
		if q.Get("sort") != "publication_date:desc" {
			t.Errorf("sort = %q", q.Get("sort"))
		}
		if q.Get("filter") != "from_publication_date:2026-01-15" {
			t.Errorf("filter = %q", q.Get("filter"))
		}
		if q.Get("per_page") != "10" {
			t.Errorf("per_page = %q", q.Get("per_page"))
		}
		fmt.Fprintf(w, `{"meta": {"count": 1}, "results": [%s]}`, sampleOpenAlexWorkJSON)
	}))
	defer srv.Close()

	o := NewOpenAlex(clientFor(t, "openalex", srv), "")
	since := time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)
	works, err := o.SearchRecent(context.Background(), "sparse attention", since, 10)
	if err != nil {
		t.Fatalf("SearchRecent: %v", err)
	}
	if len(works) != 1 || works[0].OpenAlexID != "W2741809807" {
		t.Errorf("works = %+v", works)
	}
}

func TestOpenAlexSearchRecentNoFloor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("filter") {
			t.Errorf("filter sent for zero since: %q", r.URL.Query().Get("filter"))
		}
		fmt.Fprint(w, `{"meta": {"count": 0}, "results": []}`)
	}))
	defer srv.Close()

	o := NewOpenAlex(clientFor(t, "openalex", srv), "")
	if _, err := o.SearchRecent(context.Background(), "anything", time.Time{}, 5); err != nil {
		t.Fatalf("SearchRecent: %v", err)
	}
}

func TestSanitizeFilterValue(t *testing.T) {
	got := sanitizeFilterValue("attention: a survey, part 2")
	if got != "attention  a survey  part 2" {
		t.Errorf("got %q", got)
	}
}

// --- arXiv ---

const sampleArxivFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v5</id>
    <title>Attention Is All
 You Need</title>
    <summary>We propose a new architecture based solely on attention mechanisms.</summary>
    <published>2017-06-12T17:57:34Z</published>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/1810.04805v2</id>
    <title>BERT: Pre-training of Deep Bidirectional Transformers</title>
    <summary>We introduce BERT.</summary>
    <published>2018-10-11T00:00:00Z</published>
    <author><name>Jacob Devlin</name></author>
  </entry>
</feed>`

func TestArxivWorkByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id_list"); got != "1706.03762" {
			t.Errorf("id_list = %q", got)
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, sampleArxivFeedXML)
	}))
	defer srv.Close()

	a := NewArxiv(clientFor(t, "arxiv", srv))
	work, err := a.WorkByID(context.Background(), "arXiv:1706.03762")
	if err != nil {
		t.Fatalf("WorkByID: %v", err)
	}

	if work.ArxivID != "1706.03762" {
		t.Errorf("ArxivID = %q", work.ArxivID)
	}
	// Multi-line titles collapse to single spaces.
	if work.Title != "Attention Is All You Need" {
		t.Errorf("Title = %q", work.Title)
	}
	if work.PDFURL != "https://arxiv.org/pdf/1706.03762" {
		t.Errorf("PDFURL = %q", work.PDFURL)
	}
	if work.Year != 2017 {
		t.Errorf("Year = %d", work.Year)
	}
	if work.Venue != "arXiv" {
		t.Errorf("Venue = %q", work.Venue)
	}
}

func TestArxivSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("search_query") != "all:attention+mechanisms" {
			t.Errorf("search_query = %q", q.Get("search_query"))
		}
		if q.Get("sortBy") != "submittedDate" {
			t.Errorf("sortBy = %q", q.Get("sortBy"))
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, sampleArxivFeedXML)
	}))
	defer srv.Close()

	a := NewArxiv(clientFor(t, "arxiv", srv))
	works, err := a.Search(context.Background(), "attention mechanisms", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(works) != 2 {
		t.Fatalf("len(works) = %d, want 2", len(works))
	}
	if works[1].ArxivID != "1810.04805" {
		t.Errorf("second ArxivID = %q", works[1].ArxivID)
	}
}

func TestExtractArxivID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"http://arxiv.org/abs/2301.07041v1", "2301.07041"},
		{"http://arxiv.org/abs/1706.03762v5", "1706.03762"},
		{"http://arxiv.org/abs/2301.12345", "2301.12345"},
		{"https://arxiv.org/abs/2301.07041v2", "2301.07041"},
		{"not a url", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := extractArxivID(tt.input); got != tt.want {
				t.Errorf("extractArxivID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --- Semantic Scholar ---

const sampleS2PaperJSON = `{
  "paperId": "0b0fa",
  "title": "Attention Is All You Need",
  "abstract": "We propose the Transformer.",
  "venue": "NeurIPS",
  "year": 2017,
  "publicationDate": "2017-06-12",
  "authors": [{"authorId": "a1", "name": "Ashish Vaswani"}],
  "externalIds": {"DOI": "10.48550/arXiv.1706.03762", "ArXiv": "1706.03762"}
}`

const sampleS2CitationsJSON = `{
  "data": [
    {
      "isInfluential": true,
      "contexts": ["We build on the Transformer [1]."],
      "citingPaper": {
        "paperId": "bert1",
        "title": "BERT: Pre-training of Deep Bidirectional Transformers",
        "year": 2018,
        "authors": [{"authorId": "a9", "name": "Jacob Devlin"}],
        "externalIds": {"ArXiv": "1810.04805"}
      }
    },
    {
      "isInfluential": false,
      "contexts": [],
      "citingPaper": {"paperId": "x", "title": "A Survey", "year": 2020, "externalIds": {}}
    }
  ]
}`

func TestSemanticScholarWorkByArxivID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "s2-key" {
			t.Errorf("x-api-key = %q", got)
		}
		fmt.Fprint(w, sampleS2PaperJSON)
	}))
	defer srv.Close()

	g := gateway.New(map[string]types.ServiceConfig{
		"semanticscholar": {BaseURL: srv.URL, APIKey: "s2-key"},
	}, nil, zap.NewNop())
	s := NewSemanticScholar(g.Client("semanticscholar"))

	work, err := s.WorkByArxivID(context.Background(), "1706.03762")
	if err != nil {
		t.Fatalf("WorkByArxivID: %v", err)
	}
	if work.DOI != "10.48550/arxiv.1706.03762" {
		t.Errorf("DOI = %q", work.DOI)
	}
	if work.Venue != "NeurIPS" {
		t.Errorf("Venue = %q", work.Venue)
	}
}

func TestSemanticScholarCitations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleS2CitationsJSON)
	}))
	defer srv.Close()

	s := NewSemanticScholar(clientFor(t, "semanticscholar", srv))
	cites, err := s.Citations(context.Background(), "arXiv:1706.03762", 10)
	if err != nil {
		t.Fatalf("Citations: %v", err)
	}
	if len(cites) != 2 {
		t.Fatalf("len(cites) = %d, want 2", len(cites))
	}

	if !cites[0].IsInfluential {
		t.Error("first citation should carry isInfluential=true")
	}
	if len(cites[0].Contexts) != 1 {
		t.Errorf("Contexts = %v", cites[0].Contexts)
	}
	if cites[0].Work.ArxivID != "1810.04805" {
		t.Errorf("citing ArxivID = %q", cites[0].Work.ArxivID)
	}
	if cites[1].IsInfluential {
		t.Error("second citation should carry isInfluential=false")
	}
}

func TestSemanticScholarSearchRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("query") != "linear attention" {
			t.Errorf("query = %q", q.Get("query"))
		}
		if q.Get("publicationDateOrYear") != "2026-02-01:" {
			t.Errorf("publicationDateOrYear = %q", q.Get("publicationDateOrYear"))
		}
		if q.Get("limit") != "7" {
			t.Errorf("limit = %q", q.Get("limit"))
		}
		if !strings.Contains(q.Get("fields"), "openAccessPdf") {
			t.Errorf("fields = %q, missing openAccessPdf", q.Get("fields"))
		}
		fmt.Fprint(w, `{"total": 1, "data": [{
			"paperId": "p1",
			"title": "Linear Attention at Scale",
			"abstract": "We scale linear attention.",
			"year": 2026,
			"publicationDate": "2026-02-20",
			"authors": [{"authorId": "a1", "name": "R. Chen"}],
			"externalIds": {"ArXiv": "2602.01234"},
			"openAccessPdf": {"url": "https://arxiv.org/pdf/2602.01234"}
		}]}`)
	}))
	defer srv.Close()

	s := NewSemanticScholar(clientFor(t, "semanticscholar", srv))
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	works, err := s.SearchRecent(context.Background(), "linear attention", since, 7)
	if err != nil {
		t.Fatalf("SearchRecent: %v", err)
	}
	if len(works) != 1 {
		t.Fatalf("len(works) = %d, want 1", len(works))
	}
	if works[0].PDFURL != "https://arxiv.org/pdf/2602.01234" {
		t.Errorf("PDFURL = %q", works[0].PDFURL)
	}
	if !works[0].Published.Equal(time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Published = %v", works[0].Published)
	}
}
