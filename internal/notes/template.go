// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package notes

// defaultTemplate is the built-in note layout. Empty sections render as
// "N/A" rather than disappearing, so every note has the same shape.
const defaultTemplate = `# {{.Name}}

**Title**: {{.Title}}
**Authors**: {{.Authors}}
**Year**: {{.Year}}
**DOI**: {{.DOI}}
**Journal**: {{.Journal}}
**Tags**: {{.Tags}}
**PDF Link**: {{.PDFLink}}

## Summary

{{if .Summary}}{{.Summary}}{{else}}N/A{{end}}

## Key Points

{{if .KeyPoints}}{{range .KeyPoints}}- {{.}}
{{end}}{{else}}N/A
{{end}}
## Abstract

{{if .Abstract}}{{.Abstract}}{{else}}N/A{{end}}

## Methodology

{{if .Methodology}}{{range .Methodology}}- {{.}}
{{end}}{{else}}N/A
{{end}}
## Results

{{if .Results}}{{range .Results}}- {{.}}
{{end}}{{else}}N/A
{{end}}
## Limitations

{{if .Limitations}}{{range .Limitations}}- {{.}}
{{end}}{{else}}N/A
{{end}}
## Future Work

{{if .FutureWork}}{{range .FutureWork}}- {{.}}
{{end}}{{else}}N/A
{{end}}
## Related Work

{{if .RelatedWork}}{{range .RelatedWork}}- {{.Formatted}}
{{end}}{{else}}N/A
{{end}}
{{- range .Extensions}}
## {{.Heading}}

{{.Body}}
{{end}}
## Citations ({{.CitationCount}})

{{range .Citations}}- **[{{.Number}}]** {{.Formatted}}
{{end}}`
