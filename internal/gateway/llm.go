// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/pdiddy/thoth/pkg/types"
)

// defaultLLMBaseURL is the Claude API endpoint. Per-service base_url
// config overrides it for test servers and proxies.
const defaultLLMBaseURL = "https://api.anthropic.com"

// LLM is the language-model surface consumed by analysis, citation
// extraction, filtering, and question answering.
type LLM interface {
	Complete(ctx context.Context, req Completion) (string, error)
}

// Completion is one model call.
type Completion struct {
	// Model is the model identifier; empty uses the client default.
	Model string

	// System is the optional system prompt.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens bounds the response; zero uses the client default.
	MaxTokens int
}

// ClaudeLLM calls the Claude Messages API through the gateway policy.
type ClaudeLLM struct {
	client       *Client
	baseURL      string
	defaultModel string
	maxTokens    int
}

// NewClaudeLLM builds the LLM client over the "llm" service policy.
func NewClaudeLLM(client *Client, defaultModel string, maxTokens int) *ClaudeLLM {
	baseURL := client.Config().BaseURL
	if baseURL == "" {
		baseURL = defaultLLMBaseURL
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ClaudeLLM{
		client:       client,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
	}
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Complete sends one message and returns the concatenated text blocks.
func (c *ClaudeLLM) Complete(ctx context.Context, req Completion) (string, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	body := claudeRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages: []claudeMessage{
			{Role: "user", Content: req.Prompt},
		},
	}

	header := http.Header{}
	header.Set("x-api-key", c.client.Config().APIKey)
	header.Set("anthropic-version", "2023-06-01")

	var resp claudeResponse
	if err := c.client.PostJSON(ctx, c.baseURL+"/v1/messages", header, body, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", types.Errorf(types.KindUpstream4xx, "model returned no text content")
	}
	return sb.String(), nil
}

// ExtractJSON strips a markdown code fence around a JSON payload, which
// models sometimes add despite instructions.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

var _ LLM = (*ClaudeLLM)(nil)

// LLMFunc adapts a function to the LLM interface.
type LLMFunc func(ctx context.Context, req Completion) (string, error)

func (f LLMFunc) Complete(ctx context.Context, req Completion) (string, error) {
	return f(ctx, req)
}

var _ LLM = LLMFunc(nil)
