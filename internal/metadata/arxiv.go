// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pdiddy/thoth/internal/gateway"
)

const defaultArxivBase = "https://export.arxiv.org/api/query"

// Arxiv looks up preprints by ID and searches recent submissions.
type Arxiv struct {
	client  *gateway.Client
	baseURL string
}

// NewArxiv builds the client over the "arxiv" service policy.
func NewArxiv(client *gateway.Client) *Arxiv {
	baseURL := client.Config().BaseURL
	if baseURL == "" {
		baseURL = defaultArxivBase
	}
	return &Arxiv{client: client, baseURL: baseURL}
}

// WorkByID fetches one preprint by its arXiv identifier.
func (a *Arxiv) WorkByID(ctx context.Context, id string) (*Work, error) {
	id = strings.TrimSpace(strings.TrimPrefix(id, "arXiv:"))
	if id == "" {
		return nil, fmt.Errorf("empty arXiv ID")
	}

	params := url.Values{
		"id_list":     {id},
		"max_results": {"1"},
	}

	feed, err := a.query(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(feed.Entries) == 0 || extractArxivID(feed.Entries[0].ID) == "" {
		return nil, fmt.Errorf("arXiv ID %s not found", id)
	}
	return arxivEntryToWork(feed.Entries[0]), nil
}

// Search returns up to max submissions matching the query, newest first.
// Discovery uses this to poll for candidates.
func (a *Arxiv) Search(ctx context.Context, query string, max int) ([]Work, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty arXiv query")
	}
	if max <= 0 {
		max = 25
	}

	terms := strings.Fields(query)
	params := url.Values{
		"search_query": {"all:" + strings.Join(terms, "+")},
		"start":        {"0"},
		"max_results":  {fmt.Sprintf("%d", max)},
		"sortBy":       {"submittedDate"},
		"sortOrder":    {"descending"},
	}

	feed, err := a.query(ctx, params)
	if err != nil {
		return nil, err
	}

	works := make([]Work, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if extractArxivID(entry.ID) == "" {
			continue
		}
		works = append(works, *arxivEntryToWork(entry))
	}
	return works, nil
}

func (a *Arxiv) query(ctx context.Context, params url.Values) (*arxivFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arXiv feed: %w", err)
	}
	return &feed, nil
}

func arxivEntryToWork(entry arxivEntry) *Work {
	id := extractArxivID(entry.ID)
	w := &Work{
		Title:    strings.Join(strings.Fields(entry.Title), " "),
		Abstract: strings.TrimSpace(entry.Summary),
		ArxivID:  id,
		Venue:    "arXiv",
		PDFURL:   "https://arxiv.org/pdf/" + id,
	}

	for _, author := range entry.Authors {
		w.Authors = append(w.Authors, strings.TrimSpace(author.Name))
	}

	if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
		w.Published = t
		w.Year = t.Year()
	}

	if doi := NormalizeDOI(entry.DOI); doi != "" {
		w.DOI = doi
	}

	return w
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	DOI       string        `xml:"doi"`
	Authors   []arxivAuthor `xml:"author"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}
