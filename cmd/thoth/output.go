// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"io"
	"strings"
)

// printJSON writes v as indented JSON, the shape --json flags emit.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// snippet collapses whitespace and truncates s for one-line display.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndexByte(s[:max], ' ')
	if cut <= 0 {
		cut = max
	}
	return s[:cut] + "..."
}

// formatAuthors renders an author list the way reference entries do:
// full list up to three names, then first author et al.
func formatAuthors(authors []string) string {
	switch {
	case len(authors) == 0:
		return "unknown"
	case len(authors) <= 3:
		return strings.Join(authors, ", ")
	default:
		return authors[0] + " et al."
	}
}

// yesNo prints booleans in table output.
func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// dash substitutes a placeholder for empty display values.
func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
