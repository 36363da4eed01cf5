// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
)

// Converter turns a PDF into markdown. Implementations: the remote OCR
// service here, and the local markitdown container in internal/convert.
type Converter interface {
	Convert(ctx context.Context, pdfPath string) (ConvertResult, error)
}

// ConvertResult carries both markdown variants produced from a PDF.
type ConvertResult struct {
	// Markdown is the full conversion, image references included.
	Markdown string

	// MarkdownNoImages is the same content with image references removed;
	// this variant feeds analysis and indexing.
	MarkdownNoImages string
}

// RemoteOCR calls the OCR HTTP service through the gateway policy.
type RemoteOCR struct {
	client  *Client
	baseURL string
}

// NewRemoteOCR builds the client over the "ocr" service policy. The
// service has no default endpoint; base_url must be configured.
func NewRemoteOCR(client *Client) (*RemoteOCR, error) {
	baseURL := client.Config().BaseURL
	if baseURL == "" {
		return nil, fmt.Errorf("ocr service requires services.ocr.base_url")
	}
	return &RemoteOCR{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

type ocrResponse struct {
	Markdown         string `json:"markdown"`
	MarkdownNoImages string `json:"markdown_no_images"`
}

// Convert uploads the PDF and returns both markdown variants. When the
// service omits the no-images variant it is derived locally.
func (r *RemoteOCR) Convert(ctx context.Context, pdfPath string) (ConvertResult, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return ConvertResult{}, fmt.Errorf("reading PDF %s: %w", pdfPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/convert", bytes.NewReader(data))
	if err != nil {
		return ConvertResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	if key := r.client.Config().APIKey; key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := r.client.Do(ctx, req)
	if err != nil {
		return ConvertResult{}, err
	}
	defer resp.Body.Close()

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ConvertResult{}, fmt.Errorf("decoding ocr response: %w", err)
	}
	if out.Markdown == "" {
		return ConvertResult{}, fmt.Errorf("ocr service returned empty markdown")
	}

	result := ConvertResult{
		Markdown:         out.Markdown,
		MarkdownNoImages: out.MarkdownNoImages,
	}
	if result.MarkdownNoImages == "" {
		result.MarkdownNoImages = StripImages(out.Markdown)
	}
	return result, nil
}

var _ Converter = (*RemoteOCR)(nil)

var (
	imageRefRe  = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
)

// StripImages removes markdown image references and collapses the blank
// runs they leave behind.
func StripImages(md string) string {
	stripped := imageRefRe.ReplaceAllString(md, "")
	return blankRunsRe.ReplaceAllString(stripped, "\n\n")
}
