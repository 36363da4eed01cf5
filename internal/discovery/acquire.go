// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/internal/metadata"
	"github.com/pdiddy/thoth/pkg/types"
)

const (
	defaultUserAgent = "thoth/0.1"
	maxFilenameLen   = 120
)

// Fetcher downloads accepted candidates into the watched directory,
// where the monitor picks them up for ingestion. Downloads land under a
// temp name and are renamed once complete so a half-written file is
// never watched.
type Fetcher struct {
	client *gateway.Client
	dir    string
	agent  string
	logger *zap.Logger
}

// NewFetcher builds a Fetcher writing into dir. client carries the
// download service policy (rate limit, retries).
func NewFetcher(client *gateway.Client, dir, userAgent string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Fetcher{client: client, dir: dir, agent: userAgent, logger: logger}
}

// Fetch downloads the candidate's PDF. It returns the on-disk path and
// whether a download actually happened; a candidate whose file already
// exists is left alone.
func (f *Fetcher) Fetch(ctx context.Context, cand types.Candidate) (string, bool, error) {
	if cand.PDFURL == "" {
		return "", false, types.Errorf(types.KindNotFound, "candidate %q has no PDF link", cand.Title)
	}

	target := filepath.Join(f.dir, candidateFilename(cand))
	if _, err := os.Stat(target); err == nil {
		f.logger.Debug("PDF already present; skipping download", zap.String("path", target))
		return target, false, nil
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", false, fmt.Errorf("creating download directory: %w", err)
	}

	if err := f.download(ctx, cand.PDFURL, target); err != nil {
		return "", false, err
	}
	f.logger.Info("candidate PDF downloaded",
		zap.String("title", cand.Title),
		zap.String("path", target))
	return target, true, nil
}

func (f *Fetcher) download(ctx context.Context, pdfURL, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("User-Agent", f.agent)
	req.Header.Set("Accept", "application/pdf")

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Publishers answer some PDF links with an HTML interstitial; check
	// the magic bytes before keeping anything.
	var head [5]byte
	if _, err := io.ReadFull(resp.Body, head[:]); err != nil {
		return types.Errorf(types.KindUpstream4xx, "reading %s: %v", pdfURL, err)
	}
	if string(head[:]) != "%PDF-" {
		return types.Errorf(types.KindUpstream4xx, "%s did not return a PDF", pdfURL)
	}

	tmp, err := os.CreateTemp(f.dir, ".fetch-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(head[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("fixing permissions on %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("moving download into place: %w", err)
	}
	return nil
}

// candidateFilename derives a stable on-disk name from the strongest
// identifier: the bare arXiv ID, a sanitized DOI, the native source ID,
// or a slug of the title.
func candidateFilename(c types.Candidate) string {
	if id := metadata.FindArxivID(c.SourceID); id != "" {
		return sanitizeName(id) + ".pdf"
	}
	if doi := metadata.NormalizeDOI(c.SourceID); doi != "" {
		return sanitizeName(doi) + ".pdf"
	}
	if c.SourceID != "" {
		return sanitizeName(c.SourceID) + ".pdf"
	}
	return sanitizeName(c.Title) + ".pdf"
}

// sanitizeName keeps letters, digits, dots, and dashes; everything else
// becomes an underscore. Leading dots are trimmed so the monitor never
// mistakes a download for a hidden file.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "paper"
	}
	if len(out) > maxFilenameLen {
		cut := maxFilenameLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.Trim(out[:cut], "._")
	}
	return out
}
