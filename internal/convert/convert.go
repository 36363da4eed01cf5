// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert runs PDF-to-markdown conversion through a local
// markitdown container. It is the offline alternative to the remote OCR
// service: no network and no API key, at the cost of losing extracted
// images. The pipeline owns file placement and caching; this package
// only produces markdown text.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/container"
	"github.com/pdiddy/thoth/internal/gateway"
)

// DefaultImage is used when ocr.image is not configured.
const DefaultImage = "markitdown:latest"

// Markitdown converts PDFs by piping them through a markitdown
// container image on a docker or podman runtime.
type Markitdown struct {
	runtime container.Runtime
	image   string
	logger  *zap.Logger
}

// NewMarkitdown builds the converter and verifies the image exists
// locally, so a missing image fails at startup instead of on the first
// document.
func NewMarkitdown(rt container.Runtime, image string, logger *zap.Logger) (*Markitdown, error) {
	if image == "" {
		image = DefaultImage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := rt.ImageExists(image); err != nil {
		return nil, fmt.Errorf("markitdown image not available in %s: %w", rt.Name(), err)
	}
	return &Markitdown{runtime: rt, image: image, logger: logger}, nil
}

// Convert pipes the PDF through the container and returns the markdown.
// markitdown extracts text only, so the no-images variant is the same
// content with any stray image references removed.
func (m *Markitdown) Convert(ctx context.Context, pdfPath string) (gateway.ConvertResult, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return gateway.ConvertResult{}, fmt.Errorf("opening PDF %s: %w", pdfPath, err)
	}
	defer f.Close()

	start := time.Now()
	var out bytes.Buffer
	if err := m.runtime.Run(ctx, m.image, f, &out); err != nil {
		return gateway.ConvertResult{}, fmt.Errorf("converting %s with markitdown: %w", pdfPath, err)
	}
	if out.Len() == 0 {
		return gateway.ConvertResult{}, fmt.Errorf("markitdown produced empty output for %s", pdfPath)
	}

	md := out.String()
	m.logger.Debug("converted PDF",
		zap.String("path", pdfPath),
		zap.String("runtime", m.runtime.Name()),
		zap.Duration("elapsed", time.Since(start)))

	return gateway.ConvertResult{
		Markdown:         md,
		MarkdownNoImages: gateway.StripImages(md),
	}, nil
}

var _ gateway.Converter = (*Markitdown)(nil)
