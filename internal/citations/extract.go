// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package citations

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/internal/metadata"
	"github.com/pdiddy/thoth/pkg/types"
)

// RawCitation is one bibliography entry before resolution: the text as
// written, the in-text key, best-effort fields, and the sentences where
// the paper cites it.
type RawCitation struct {
	Text     string
	Key      string
	Fields   types.CitationFields
	Contexts []string
}

const extractSystem = `You are a bibliography parser. You extract structured citation records from the references section of an academic paper. Respond only with JSON.`

var extractPromptTmpl = template.Must(template.New("extract").Parse(`Parse every entry in this references section into a JSON array. For each entry emit:
- "citation_text": the entry exactly as written
- "key": the reference label used in-text (e.g. "12" for [12]), or "" if none
- "title": the cited work's title
- "authors": array of author names as written
- "year": publication year as a number, or 0 if absent
- "venue": journal, conference, or publisher, or ""
- "doi": DOI if present in the entry, or ""
- "arxiv_id": arXiv identifier if present, or ""

Do not invent fields that are not in the text. Respond with only the JSON array, no commentary.

Example response:
[
  {
    "citation_text": "[1] Vaswani, A. et al. Attention is all you need. NeurIPS, 2017.",
    "key": "1",
    "title": "Attention is all you need",
    "authors": ["Vaswani, A."],
    "year": 2017,
    "venue": "NeurIPS",
    "doi": "",
    "arxiv_id": ""
  }
]

References section:

{{.Section}}`))

// Extractor pulls raw citations out of a paper's markdown, using the
// model first and pattern parsing when the model output is unusable.
type Extractor struct {
	llm    gateway.LLM
	model  string
	logger *zap.Logger
}

func NewExtractor(llm gateway.LLM, cfg types.LLMConfig, logger *zap.Logger) *Extractor {
	return &Extractor{llm: llm, model: cfg.ExtractionModel, logger: logger}
}

// Extract returns the paper's raw citations with in-text contexts
// attached. A paper without a recognizable references section yields
// nil, which is not an error.
func (e *Extractor) Extract(ctx context.Context, markdown string) ([]RawCitation, error) {
	body, section := referencesSection(markdown)
	if section == "" {
		return nil, nil
	}

	raws, err := e.extractLLM(ctx, section)
	if err != nil {
		e.logger.Warn("model citation extraction failed, falling back to pattern parsing",
			zap.Error(err))
		raws = parseEntries(section)
	}

	contexts := collectContexts(body)
	for i := range raws {
		if raws[i].Key != "" {
			raws[i].Contexts = contexts[raws[i].Key]
		}
	}
	return raws, nil
}

func (e *Extractor) extractLLM(ctx context.Context, section string) ([]RawCitation, error) {
	var prompt strings.Builder
	if err := extractPromptTmpl.Execute(&prompt, struct{ Section string }{section}); err != nil {
		return nil, fmt.Errorf("rendering extraction prompt: %w", err)
	}

	resp, err := e.llm.Complete(ctx, gateway.Completion{
		Model:  e.model,
		System: extractSystem,
		Prompt: prompt.String(),
	})
	if err != nil {
		return nil, err
	}

	var entries []extractedEntry
	if err := json.Unmarshal([]byte(gateway.ExtractJSON(resp)), &entries); err != nil {
		return nil, fmt.Errorf("parsing extraction response: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("extraction returned no entries")
	}

	raws := make([]RawCitation, 0, len(entries))
	for _, en := range entries {
		if strings.TrimSpace(en.CitationText) == "" {
			continue
		}
		raws = append(raws, RawCitation{
			Text: strings.TrimSpace(en.CitationText),
			Key:  strings.TrimSpace(en.Key),
			Fields: types.CitationFields{
				Title:   strings.TrimSpace(en.Title),
				Authors: en.Authors,
				Year:    en.Year,
				Venue:   strings.TrimSpace(en.Venue),
				DOI:     metadata.NormalizeDOI(en.DOI),
				ArxivID: strings.TrimSpace(en.ArxivID),
			},
		})
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("extraction returned only empty entries")
	}
	return raws, nil
}

type extractedEntry struct {
	CitationText string   `json:"citation_text"`
	Key          string   `json:"key"`
	Title        string   `json:"title"`
	Authors      []string `json:"authors"`
	Year         int      `json:"year"`
	Venue        string   `json:"venue"`
	DOI          string   `json:"doi"`
	ArxivID      string   `json:"arxiv_id"`
}

var refHeadingRe = regexp.MustCompile(`(?i)^(#{1,6})\s+(?:\d+\.?\s+)?(references|bibliography|works cited)\s*$`)

// referencesSection splits markdown into the body and the references
// section. The section runs from the references heading to the next
// heading of the same or a higher level, so appendices that follow are
// not swallowed.
func referencesSection(markdown string) (body, section string) {
	lines := strings.Split(markdown, "\n")

	start, level := -1, 0
	for i, line := range lines {
		if m := refHeadingRe.FindStringSubmatch(line); m != nil {
			start, level = i, len(m[1])
		}
	}
	if start < 0 {
		return markdown, ""
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		l := 0
		for l < len(trimmed) && trimmed[l] == '#' {
			l++
		}
		if l <= level && l < len(trimmed) && trimmed[l] == ' ' {
			end = i
			break
		}
	}

	body = strings.Join(lines[:start], "\n") + "\n" + strings.Join(lines[end:], "\n")
	section = strings.TrimSpace(strings.Join(lines[start+1:end], "\n"))
	return body, section
}

var inTextRe = regexp.MustCompile(`\[(\d{1,3}(?:\s*[,;–-]\s*\d{1,3})*)\]`)

const maxContextsPerKey = 3

// collectContexts maps numeric reference keys to the sentences that
// cite them. Ranges like [4-6] expand; author-year styles have no
// bracketed key and collect nothing.
func collectContexts(body string) map[string][]string {
	contexts := make(map[string][]string)
	for _, loc := range inTextRe.FindAllStringSubmatchIndex(body, -1) {
		sentence := sentenceAround(body, loc[0], loc[1])
		if sentence == "" {
			continue
		}
		for _, key := range expandKeys(body[loc[2]:loc[3]]) {
			if len(contexts[key]) >= maxContextsPerKey || contains(contexts[key], sentence) {
				continue
			}
			contexts[key] = append(contexts[key], sentence)
		}
	}
	return contexts
}

func expandKeys(group string) []string {
	var keys []string
	for _, part := range strings.FieldsFunc(group, func(r rune) bool { return r == ',' || r == ';' }) {
		part = strings.TrimSpace(part)
		if lo, hi, found := cutRange(part); found {
			for n := lo; n <= hi && n-lo < 50; n++ {
				keys = append(keys, strconv.Itoa(n))
			}
			continue
		}
		if part != "" {
			keys = append(keys, part)
		}
	}
	return keys
}

func cutRange(s string) (lo, hi int, found bool) {
	for _, dash := range []string{"–", "-"} {
		if before, after, ok := strings.Cut(s, dash); ok {
			a, errA := strconv.Atoi(strings.TrimSpace(before))
			b, errB := strconv.Atoi(strings.TrimSpace(after))
			if errA == nil && errB == nil && a <= b {
				return a, b, true
			}
		}
	}
	return 0, 0, false
}

const maxSentenceLen = 400

// sentenceAround returns the sentence containing [from, to), clipped to
// a sane length for storage.
func sentenceAround(text string, from, to int) string {
	start := from
	for start > 0 && from-start < maxSentenceLen {
		r := text[start-1]
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			break
		}
		start--
	}
	end := to
	for end < len(text) && end-to < maxSentenceLen {
		r := text[end]
		end++
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			break
		}
	}
	return strings.TrimSpace(text[start:end])
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
