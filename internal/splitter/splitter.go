// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package splitter breaks markdown documents into token-budgeted pieces.
// Splitting follows document structure: heading boundaries first, then
// paragraph, line, sentence, and word separators, recursively, with a
// fixed token overlap between adjacent pieces of the same section.
package splitter

import "strings"

// Piece is one span of markdown produced by Split. Headings is the path
// of section headings enclosing the span, outermost first.
type Piece struct {
	Headings []string
	Text     string
	Tokens   int
}

// separators are tried in order when a section exceeds the token budget.
var separators = []string{"\n\n", "\n", ". ", " "}

const defaultMaxTokens = 1000

// EstimateTokens approximates the token count of s. The heuristic of four
// characters per token tracks English prose closely enough for strategy
// selection and chunk sizing.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// JoinHeadings renders a heading path as a single breadcrumb string.
func JoinHeadings(path []string) string {
	return strings.Join(path, " > ")
}

// Split breaks markdown into pieces of at most maxTokens tokens each,
// carrying overlapTokens of trailing context into the next piece of the
// same section. Heading lines are not part of piece text; they appear in
// the Headings path.
func Split(markdown string, maxTokens, overlapTokens int) []Piece {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 2
	}

	var pieces []Piece
	for _, sec := range splitSections(markdown) {
		for _, text := range splitText(sec.body, separators, maxTokens, overlapTokens) {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			pieces = append(pieces, Piece{
				Headings: sec.headings,
				Text:     text,
				Tokens:   EstimateTokens(text),
			})
		}
	}
	return pieces
}

// section is a run of markdown under one heading path.
type section struct {
	headings []string
	body     string
}

// headingFrame is one entry on the heading stack.
type headingFrame struct {
	level int
	text  string
}

// splitSections walks the document line by line, maintaining the heading
// stack. A heading pops every frame at its level or deeper before it is
// pushed. Headings inside fenced code blocks are ignored.
func splitSections(markdown string) []section {
	var sections []section
	var stack []headingFrame
	var bodyLines []string
	inFence := false

	flush := func() {
		body := strings.Join(bodyLines, "\n")
		if strings.TrimSpace(body) != "" {
			var headings []string
			for _, f := range stack {
				headings = append(headings, f.text)
			}
			sections = append(sections, section{headings: headings, body: body})
		}
		bodyLines = nil
	}

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			bodyLines = append(bodyLines, line)
			continue
		}
		if !inFence {
			if level, text, ok := headingLevel(trimmed); ok {
				flush()
				for len(stack) > 0 && stack[len(stack)-1].level >= level {
					stack = stack[:len(stack)-1]
				}
				stack = append(stack, headingFrame{level: level, text: text})
				continue
			}
		}
		bodyLines = append(bodyLines, line)
	}
	flush()
	return sections
}

// headingLevel parses an ATX heading line, returning its level and text.
func headingLevel(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	return level, strings.TrimSpace(line[level:]), true
}

// splitText recursively splits text along the first separator it contains,
// merging the resulting parts back into windows under the token budget.
// Parts that alone exceed the budget descend to finer separators; text
// with no separators at all is cut by length.
func splitText(text string, seps []string, maxTokens, overlap int) []string {
	if EstimateTokens(text) <= maxTokens {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	sep := ""
	var rest []string
	for i, s := range seps {
		if strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return hardCut(text, maxTokens, overlap)
	}

	var out []string
	var fitting []string
	flush := func() {
		if len(fitting) > 0 {
			out = append(out, mergeParts(fitting, sep, maxTokens, overlap)...)
			fitting = nil
		}
	}
	for _, part := range strings.Split(text, sep) {
		if EstimateTokens(part) <= maxTokens {
			fitting = append(fitting, part)
			continue
		}
		flush()
		out = append(out, splitText(part, rest, maxTokens, overlap)...)
	}
	flush()
	return out
}

// mergeParts packs parts into windows of at most maxTokens, seeding each
// window after the first with the trailing parts of its predecessor up to
// the overlap budget. Every part is known to fit the budget on its own.
func mergeParts(parts []string, sep string, maxTokens, overlap int) []string {
	sepTok := EstimateTokens(sep)
	var out []string
	var window []string
	windowTok := 0

	emit := func() {
		joined := strings.Join(window, sep)
		if strings.TrimSpace(joined) != "" {
			out = append(out, joined)
		}
	}

	for _, part := range parts {
		pTok := EstimateTokens(part) + sepTok
		if windowTok+pTok > maxTokens && len(window) > 0 {
			emit()
			for len(window) > 0 && (windowTok > overlap || windowTok+pTok > maxTokens) {
				windowTok -= EstimateTokens(window[0]) + sepTok
				window = window[1:]
			}
		}
		window = append(window, part)
		windowTok += pTok
	}
	if len(window) > 0 {
		emit()
	}
	return out
}

// hardCut slices text with no separators into fixed-size windows. The
// window step backs off by the overlap so adjacent cuts share context.
func hardCut(text string, maxTokens, overlap int) []string {
	runes := []rune(text)
	maxRunes := maxTokens * 4
	step := (maxTokens - overlap) * 4
	if step <= 0 {
		step = maxRunes / 2
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + maxRunes
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
