// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/thoth/internal/gateway"
)

const defaultCrossrefBase = "https://api.crossref.org"

// Crossref resolves DOIs to work metadata.
type Crossref struct {
	client  *gateway.Client
	baseURL string
	mailto  string
}

// NewCrossref builds the client over the "crossref" service policy. The
// mailto address joins the polite pool; empty is allowed.
func NewCrossref(client *gateway.Client, mailto string) *Crossref {
	baseURL := client.Config().BaseURL
	if baseURL == "" {
		baseURL = defaultCrossrefBase
	}
	return &Crossref{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		mailto:  mailto,
	}
}

// WorkByDOI fetches metadata for one DOI. A 404 surfaces as a NotFound
// error from the gateway.
func (c *Crossref) WorkByDOI(ctx context.Context, doi string) (*Work, error) {
	doi = NormalizeDOI(doi)
	if doi == "" {
		return nil, fmt.Errorf("empty DOI")
	}

	reqURL := c.baseURL + "/works/" + url.PathEscape(doi)
	if c.mailto != "" {
		reqURL += "?mailto=" + url.QueryEscape(c.mailto)
	}

	header := http.Header{}
	if c.mailto != "" {
		header.Set("User-Agent", fmt.Sprintf("thoth/0.1 (mailto:%s)", c.mailto))
	}

	var resp crossrefResponse
	if err := c.client.GetJSON(ctx, reqURL, header, &resp); err != nil {
		return nil, err
	}
	return crossrefWorkToWork(resp.Message), nil
}

func crossrefWorkToWork(m crossrefWork) *Work {
	w := &Work{
		DOI:   NormalizeDOI(m.DOI),
		Venue: first(m.ContainerTitle),
		Title: first(m.Title),
	}

	for _, a := range m.Author {
		name := strings.TrimSpace(strings.TrimSpace(a.Given) + " " + strings.TrimSpace(a.Family))
		if name != "" {
			w.Authors = append(w.Authors, name)
		}
	}

	if parts := m.Issued.DateParts; len(parts) > 0 && len(parts[0]) > 0 {
		w.Year = parts[0][0]
	}

	for _, link := range m.Link {
		if link.ContentType == "application/pdf" {
			w.PDFURL = link.URL
			break
		}
	}

	return w
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// Crossref API JSON structures.
type crossrefResponse struct {
	Message crossrefWork `json:"message"`
}

type crossrefWork struct {
	DOI            string           `json:"DOI"`
	Title          []string         `json:"title"`
	ContainerTitle []string         `json:"container-title"`
	Author         []crossrefAuthor `json:"author"`
	Issued         crossrefDate     `json:"issued"`
	Link           []crossrefLink   `json:"link"`
}

type crossrefAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}

type crossrefLink struct {
	URL         string `json:"URL"`
	ContentType string `json:"content-type"`
}
