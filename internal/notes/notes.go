// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package notes renders markdown notes for processed papers. A note
// combines the paper's bibliographic header, the structured analysis
// sections, and the resolved citation list into one file under the
// workspace notes directory. Rendering is deterministic: the same paper,
// analysis, citations, and template produce byte-identical output.
package notes

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/pkg/types"
)

const (
	notesSubdir = "notes"
	maxSlugLen  = 80
)

// Data is the root object a note template executes against. Custom
// templates configured via note_template see exactly these fields.
type Data struct {
	// Name is the H1 heading: the paper title, or its ID when untitled.
	Name string

	// Header fields, already formatted; missing values are "N/A".
	Title   string
	Authors string
	Year    string
	DOI     string
	Journal string
	Tags    string
	PDFLink string

	Summary     string
	KeyPoints   []string
	Abstract    string
	Methodology []string
	Results     []string
	Limitations []string
	FutureWork  []string

	// RelatedWork lists the citations marked influential by the
	// influence provider.
	RelatedWork []Entry

	// Extensions are schema-defined analysis fields beyond the base
	// set, one section per field in key order.
	Extensions []Section

	Citations     []Entry
	CitationCount int
}

// Entry is one citation prepared for the template. Formatted already
// embeds Link around the title when a link exists.
type Entry struct {
	Number    int
	Formatted string
	Link      string
}

// Section is one rendered extension field.
type Section struct {
	Heading string
	Body    string
}

// Note is a rendered note on disk.
type Note struct {
	Path     string
	Markdown string
}

// Renderer writes markdown notes into <workspace>/notes.
type Renderer struct {
	store     *graphstore.Store
	workspace string
	dir       string
	tmpl      *template.Template
	logger    *zap.Logger
}

// New builds a Renderer rooted at workspace. templatePath names a custom
// note template; empty selects the built-in one. Template parse errors
// fail construction so a broken template is caught at startup, not once
// per paper.
func New(store *graphstore.Store, workspace, templatePath string, logger *zap.Logger) (*Renderer, error) {
	text := defaultTemplate
	if templatePath != "" {
		b, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, fmt.Errorf("reading note template: %w", err)
		}
		text = string(b)
	}
	tmpl, err := template.New("note").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing note template: %w", err)
	}
	return &Renderer{
		store:     store,
		workspace: workspace,
		dir:       filepath.Join(workspace, notesSubdir),
		tmpl:      tmpl,
		logger:    logger,
	}, nil
}

// Render writes the note for paper and returns its path and content.
// Citation links prefer a local note for the cited paper (vault-relative
// path) and fall back to an external URL when one of its identifiers
// yields one. Errors here are fatal for the note only; callers keep the
// analysis and citations regardless.
func (r *Renderer) Render(ctx context.Context, paper types.Paper, analysis types.Analysis, citations []types.Citation) (Note, error) {
	data := r.buildData(ctx, paper, analysis, citations)

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return Note{}, fmt.Errorf("executing note template: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Note{}, fmt.Errorf("creating notes directory: %w", err)
	}
	notePath := r.NotePath(paper)
	if err := os.WriteFile(notePath, buf.Bytes(), 0o644); err != nil {
		return Note{}, fmt.Errorf("writing note: %w", err)
	}

	r.logger.Debug("rendered note",
		zap.String("paper_id", paper.ID),
		zap.String("path", notePath),
		zap.Int("citations", len(citations)))
	return Note{Path: notePath, Markdown: buf.String()}, nil
}

// NotePath returns the absolute path where paper's note is written.
func (r *Renderer) NotePath(p types.Paper) string {
	return filepath.Join(r.dir, noteFileName(p))
}

func (r *Renderer) buildData(ctx context.Context, paper types.Paper, analysis types.Analysis, citations []types.Citation) Data {
	all, related := r.entries(ctx, citations)

	d := Data{
		Name:          paper.Title,
		Title:         orNA(paper.Title),
		Authors:       orNA(strings.Join(paper.Authors, ", ")),
		Year:          "N/A",
		DOI:           orNA(paper.DOI),
		Journal:       orNA(paper.Venue),
		Tags:          "N/A",
		PDFLink:       "N/A",
		Summary:       analysis.Summary,
		KeyPoints:     analysis.Contributions,
		Abstract:      paper.Abstract,
		Methodology:   analysis.Methods,
		Results:       analysis.Findings,
		Limitations:   analysis.Limitations,
		FutureWork:    analysis.FutureWork,
		RelatedWork:   related,
		Extensions:    extensionSections(analysis.Extensions),
		Citations:     all,
		CitationCount: len(all),
	}
	if d.Name == "" {
		d.Name = paper.ID
	}
	if paper.Year > 0 {
		d.Year = strconv.Itoa(paper.Year)
	}
	if len(paper.Tags) > 0 {
		tags := make([]string, len(paper.Tags))
		for i, t := range paper.Tags {
			tags[i] = "#" + t
		}
		d.Tags = strings.Join(tags, ", ")
	}
	if paper.PDFPath != "" {
		d.PDFLink = fmt.Sprintf("[%s](%s)", filepath.Base(paper.PDFPath), r.vaultRel(paper.PDFPath))
	}
	return d
}

// entries prepares the citation list in display order and splits out the
// influential subset for the Related Work section.
func (r *Renderer) entries(ctx context.Context, citations []types.Citation) (all, related []Entry) {
	for _, nc := range orderCitations(citations) {
		var cited types.Paper
		if nc.CitedPaperID != "" {
			p, err := r.store.GetPaper(ctx, nc.CitedPaperID)
			switch {
			case err == nil:
				cited = p
			case types.KindOf(err) != types.KindNotFound:
				r.logger.Warn("looking up cited paper for note link",
					zap.String("cited_id", nc.CitedPaperID), zap.Error(err))
			}
		}
		link := r.link(cited, nc.Citation)
		e := Entry{Number: nc.number, Formatted: formatCitation(nc.Citation, cited, link), Link: link}
		all = append(all, e)
		if nc.Influential {
			related = append(related, e)
		}
	}
	return all, related
}

type numbered struct {
	types.Citation
	number int
}

// orderCitations assigns display numbers. When every citation carries a
// distinct numeric key the bibliography's own numbering is kept, so
// in-text markers like [12] still line up; otherwise entries are numbered
// sequentially in input order.
func orderCitations(citations []types.Citation) []numbered {
	if len(citations) == 0 {
		return nil
	}
	out := make([]numbered, len(citations))

	keyed := true
	seen := make(map[int]bool, len(citations))
	for i, c := range citations {
		n, err := strconv.Atoi(c.Key)
		if err != nil || n <= 0 || seen[n] {
			keyed = false
			break
		}
		seen[n] = true
		out[i] = numbered{c, n}
	}
	if keyed {
		sort.Slice(out, func(i, j int) bool { return out[i].number < out[j].number })
		return out
	}
	for i, c := range citations {
		out[i] = numbered{c, i + 1}
	}
	return out
}

// link picks the citation's link target: the cited paper's local note
// when one exists on disk, else an external URL from the strongest
// identifier either side knows.
func (r *Renderer) link(cited types.Paper, c types.Citation) string {
	if cited.ID != "" {
		if name := noteFileName(cited); name != "" {
			if _, err := os.Stat(filepath.Join(r.dir, name)); err == nil {
				return path.Join(notesSubdir, name)
			}
		}
		if u := externalURL(cited.DOI, cited.ArxivID, cited.OpenAlexID); u != "" {
			return u
		}
	}
	return externalURL(c.Fields.DOI, c.Fields.ArxivID, "")
}

func externalURL(doi, arxivID, openAlexID string) string {
	switch {
	case doi != "":
		return "https://doi.org/" + doi
	case arxivID != "":
		return "https://arxiv.org/abs/" + arxivID
	case openAlexID != "":
		return "https://openalex.org/" + openAlexID
	}
	return ""
}

// formatCitation renders one reference line: authors, linked title,
// venue, year. Canonical metadata from the resolved paper wins over the
// extracted fields; a citation with neither falls back to its raw entry
// text.
func formatCitation(c types.Citation, cited types.Paper, link string) string {
	title := cited.Title
	if title == "" {
		title = c.Fields.Title
	}
	authors := cited.Authors
	if len(authors) == 0 {
		authors = c.Fields.Authors
	}
	year := cited.Year
	if year == 0 {
		year = c.Fields.Year
	}
	venue := cited.Venue
	if venue == "" {
		venue = c.Fields.Venue
	}

	var b strings.Builder
	if len(authors) > 0 {
		// Trailing initials already end with a period.
		b.WriteString(strings.TrimSuffix(strings.Join(authors, ", "), "."))
		b.WriteString(". ")
	}
	switch {
	case title != "" && link != "":
		fmt.Fprintf(&b, "[%s](%s). ", title, link)
	case title != "":
		b.WriteString(title)
		b.WriteString(". ")
	}
	switch {
	case venue != "" && year > 0:
		fmt.Fprintf(&b, "%s, %d.", venue, year)
	case venue != "":
		b.WriteString(venue)
		b.WriteString(".")
	case year > 0:
		fmt.Fprintf(&b, "%d.", year)
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		out = strings.Join(strings.Fields(c.Raw), " ")
		if link != "" {
			out = fmt.Sprintf("[%s](%s)", out, link)
		}
	}
	return out
}

func extensionSections(ext map[string]any) []Section {
	if len(ext) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ext))
	for k := range ext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sections := make([]Section, 0, len(keys))
	for _, k := range keys {
		body := extensionBody(ext[k])
		if body == "" {
			body = "N/A"
		}
		sections = append(sections, Section{Heading: headingFor(k), Body: body})
	}
	return sections
}

func extensionBody(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []string:
		return bulleted(t)
	case []any:
		items := make([]string, len(t))
		for i, it := range t {
			items[i] = fmt.Sprint(it)
		}
		return bulleted(items)
	default:
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return strings.TrimRight(string(b), "\n")
	}
}

func bulleted(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(it))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// headingFor turns an extension key like "future_directions" into a
// section heading like "Future Directions".
func headingFor(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

// vaultRel rewrites an absolute path inside the workspace as a
// vault-relative link; paths outside the workspace stay absolute.
func (r *Renderer) vaultRel(p string) string {
	rel, err := filepath.Rel(r.workspace, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return filepath.ToSlash(rel)
}

func noteFileName(p types.Paper) string {
	s := slug(p.Title)
	if s == "" {
		s = slug(p.ID)
	}
	if s == "" {
		return ""
	}
	return s + ".md"
}

// slug converts a title into a filesystem-safe note name.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
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
	out := strings.TrimRight(b.String(), "-")
	if len(out) > maxSlugLen {
		cut := maxSlugLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.TrimRight(out[:cut], "-")
	}
	return out
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
