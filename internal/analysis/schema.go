// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pdiddy/thoth/pkg/types"
)

// SchemaVersion identifies the analysis schema revision. It participates
// in the cache fingerprint, so bumping it invalidates stored analyses.
const SchemaVersion = "1"

// analysisSchema constrains model output. Topics must be lowercase
// hyphenated labels; every base field is required so downstream renderers
// can index without nil checks. Additional properties are allowed and
// surface as extension fields.
const analysisSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["summary", "contributions", "methods", "findings", "limitations", "future_work", "topics"],
  "additionalProperties": true,
  "properties": {
    "summary": {"type": "string"},
    "contributions": {"type": "array", "items": {"type": "string"}},
    "methods": {"type": "array", "items": {"type": "string"}},
    "findings": {"type": "array", "items": {"type": "string"}},
    "limitations": {"type": "array", "items": {"type": "string"}},
    "future_work": {"type": "array", "items": {"type": "string"}},
    "topics": {"type": "array", "items": {"type": "string", "pattern": "^[a-z0-9]+(-[a-z0-9]+)*$"}}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(analysisSchema)

// validateAnalysis checks raw against the analysis schema. Violations are
// reported as KindSchemaViolation with every failing field listed.
func validateAnalysis(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return types.Errorf(types.KindSchemaViolation, "analysis is not valid JSON: %v", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", verr.Field(), verr.Description()))
	}
	return types.Errorf(types.KindSchemaViolation, "analysis violates schema: %s", strings.Join(msgs, "; "))
}
