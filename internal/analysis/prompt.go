// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/thoth/pkg/types"
)

// PromptVersion identifies the analysis prompt revision. It is recorded
// on every processing version and participates in the cache fingerprint,
// so a prompt change is visible in provenance and invalidates stored
// analyses.
const PromptVersion = "v3"

// analysisSystem frames every analysis call.
const analysisSystem = "You are a research paper analysis system. You read academic papers and produce structured JSON analyses. You respond only with JSON."

// analysisPromptTmpl produces the full structured analysis for a document
// or document chunk.
var analysisPromptTmpl = template.Must(template.New("analysis").Parse(`Analyze the following academic paper text and produce a JSON object with exactly these fields:
- summary: a prose summary in two to four paragraphs
- contributions: array of the paper's claimed contributions, one string each
- methods: array of the techniques, algorithms, and experimental setups used
- findings: array of the main results, preserving reported numbers and metrics
- limitations: array of weaknesses the paper acknowledges or that follow from its setup
- future_work: array of follow-on directions the paper proposes
- topics: array of lowercase, hyphenated topic labels drawn from the paper's vocabulary (e.g. "transformer", "attention-mechanism", "machine-translation")

Preserve the paper's own terminology in list entries. Do not include any text outside the JSON object.

Example response:
{"summary": "The paper introduces a sequence transduction architecture based entirely on attention.", "contributions": ["An architecture dispensing with recurrence and convolutions"], "methods": ["multi-head self-attention"], "findings": ["28.4 BLEU on WMT 2014 English-German"], "limitations": ["evaluated only on translation tasks"], "future_work": ["extend to modalities beyond text"], "topics": ["transformer", "attention-mechanism"]}
{{if .Title}}
Paper: {{.Title}}{{end}}{{if .Authors}}
Authors: {{.Authors}}{{end}}

Text:
{{.Document}}
`))

// refinePromptTmpl folds one more chunk into a running analysis.
var refinePromptTmpl = template.Must(template.New("refine").Parse(`Below is a running analysis of an academic paper, built from the sections read so far, followed by the next section of the document. Update the analysis to incorporate the new section: extend or correct the summary, add new contributions, methods, findings, limitations, future work, and topics, and keep everything that remains true. Respond with the complete updated JSON object in the same shape. Do not include any text outside the JSON object.

Running analysis:
{{.Running}}

Next section:
{{.Chunk}}
`))

// reducePromptTmpl merges independent partial analyses into one.
var reducePromptTmpl = template.Must(template.New("reduce").Parse(`Below are partial analyses of consecutive sections of one academic paper, each a JSON object in the same shape. Merge them into a single analysis of the whole paper: write one coherent summary, drop list entries that restate an earlier entry in different words, and keep list entries in document order. Respond with one JSON object in the same shape. Do not include any text outside the JSON object.

{{.Partials}}
`))

// repairPromptTmpl asks the model to fix a schema-invalid response.
var repairPromptTmpl = template.Must(template.New("repair").Parse(`The JSON object below failed schema validation. Validation errors:
{{.Errors}}

Return a corrected JSON object that fixes each error while preserving the content. Keep exactly the fields summary, contributions, methods, findings, limitations, future_work, and topics. Do not include any text outside the JSON object.

JSON:
{{.Response}}
`))

func renderAnalysisPrompt(paper types.Paper, document string) (string, error) {
	var buf bytes.Buffer
	err := analysisPromptTmpl.Execute(&buf, struct {
		Title    string
		Authors  string
		Document string
	}{
		Title:    paper.Title,
		Authors:  strings.Join(paper.Authors, ", "),
		Document: document,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderRefinePrompt(running, chunk string) (string, error) {
	var buf bytes.Buffer
	err := refinePromptTmpl.Execute(&buf, struct {
		Running string
		Chunk   string
	}{Running: running, Chunk: chunk})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderReducePrompt(partials []string) (string, error) {
	var sb strings.Builder
	for i, p := range partials {
		fmt.Fprintf(&sb, "Partial %d:\n%s\n\n", i+1, p)
	}

	var buf bytes.Buffer
	err := reducePromptTmpl.Execute(&buf, struct{ Partials string }{
		Partials: strings.TrimSpace(sb.String()),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderRepairPrompt(response, errors string) (string, error) {
	var buf bytes.Buffer
	err := repairPromptTmpl.Execute(&buf, struct {
		Response string
		Errors   string
	}{Response: response, Errors: errors})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
