// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Structured is a schema-constrained model call. Validate checks the
// extracted JSON payload and returns a schema-violation error when it
// does not conform; Repair builds the corrective prompt from the
// failing payload and the violation message. A nil Repair disables the
// retry.
type Structured struct {
	Completion

	Validate func(raw []byte) error
	Repair   func(response, violation string) (string, error)
}

// CompleteStructured runs one completion and validates the JSON
// payload, with a single corrective retry. The payload that passes
// validation is returned with any code fence already stripped; a retry
// that still fails validation surfaces the validation error.
func CompleteStructured(ctx context.Context, llm LLM, req Structured, logger *zap.Logger) ([]byte, error) {
	text, err := llm.Complete(ctx, req.Completion)
	if err != nil {
		return nil, err
	}
	raw := []byte(ExtractJSON(text))
	verr := req.Validate(raw)
	if verr == nil {
		return raw, nil
	}
	if req.Repair == nil {
		return nil, verr
	}

	logger.Warn("structured response failed validation, repairing", zap.Error(verr))
	prompt, err := req.Repair(string(raw), verr.Error())
	if err != nil {
		return nil, fmt.Errorf("rendering repair prompt: %w", err)
	}
	retry := req.Completion
	retry.Prompt = prompt
	text, err = llm.Complete(ctx, retry)
	if err != nil {
		return nil, err
	}
	raw = []byte(ExtractJSON(text))
	if verr := req.Validate(raw); verr != nil {
		return nil, verr
	}
	return raw, nil
}
