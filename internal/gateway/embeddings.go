// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gateway

import (
	"context"
	"fmt"
	"strings"
)

// defaultEmbeddingsBaseURL points at a local Ollama server.
const defaultEmbeddingsBaseURL = "http://localhost:11434"

// Embedder produces dense vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// OllamaEmbedder calls an Ollama-compatible embeddings endpoint through
// the gateway policy.
type OllamaEmbedder struct {
	client  *Client
	baseURL string
	model   string
	dims    int
}

// NewOllamaEmbedder builds the embedder over the "embeddings" service
// policy.
func NewOllamaEmbedder(client *Client, model string, dims int) *OllamaEmbedder {
	baseURL := client.Config().BaseURL
	if baseURL == "" {
		baseURL = defaultEmbeddingsBaseURL
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dims <= 0 {
		dims = 768
	}
	return &OllamaEmbedder{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		dims:    dims,
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the vector for one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := ollamaEmbedRequest{Model: e.model, Prompt: text}

	var resp ollamaEmbedResponse
	if err := e.client.PostJSON(ctx, e.baseURL+"/api/embeddings", nil, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("embeddings service returned empty vector")
	}
	return resp.Embedding, nil
}

// EmbedBatch embeds texts sequentially; the endpoint has no batch form.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d of %d: %w", i+1, len(texts), err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Dimensions returns the configured vector width.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// Name identifies the engine and model for cache keys.
func (e *OllamaEmbedder) Name() string { return "ollama:" + e.model }

var _ Embedder = (*OllamaEmbedder)(nil)
