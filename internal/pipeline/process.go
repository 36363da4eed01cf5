// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/thoth/internal/analysis"
	"github.com/pdiddy/thoth/internal/cache"
	"github.com/pdiddy/thoth/internal/citations"
	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/internal/metadata"
	"github.com/pdiddy/thoth/pkg/types"
)

const (
	// headBytes bounds how much of the converted markdown is scanned for
	// identifiers. DOIs and arXiv IDs sit on the first page.
	headBytes = 4096

	maxTitleRunes = 300
)

// doc accumulates one document's state as it moves through the stages.
type doc struct {
	path  string
	stage string
	sha   string

	reused  bool
	paper   types.Paper
	version int

	conv      gateway.ConvertResult
	mdPath    string
	noImgPath string

	analysis types.Analysis
	strategy types.AnalysisStrategy
	partial  bool

	raws  []citations.RawCitation
	cites []types.Citation

	chunks   int
	noteMD   string
	notePath string
}

func (d *doc) result() Result {
	return Result{
		Paper:     d.paper,
		Version:   d.version,
		Reused:    d.reused,
		Partial:   d.partial,
		Citations: len(d.cites),
		Chunks:    d.chunks,
		NotePath:  d.notePath,
	}
}

// processOnce runs every stage for one PDF. It returns the accumulated
// doc even on failure so the caller can ledger the stage and identity.
func (p *Pipeline) processOnce(ctx context.Context, path string, force bool) (*doc, error) {
	d := &doc{path: path, stage: stageFingerprint}

	abs, err := filepath.Abs(path)
	if err != nil {
		return d, fmt.Errorf("resolving %s: %w", path, err)
	}
	d.path = abs

	sha, err := fileSHA256(abs)
	if err != nil {
		return d, fmt.Errorf("fingerprinting %s: %w", abs, err)
	}
	d.sha = sha

	// An unchanged PDF under an unchanged config is a no-op.
	existing, err := p.store.FindBySHA256(ctx, sha)
	switch {
	case err == nil:
		d.paper = existing
		if !force {
			if av, aerr := p.store.ActiveVersion(ctx, existing.ID); aerr == nil && av.ConfigDigest == p.digest {
				d.reused = true
				d.version = av.Version
				d.analysis = av.Analysis
				return d, nil
			}
		}
	case types.KindOf(err) != types.KindNotFound:
		return d, err
	}

	d.stage = stageOCR
	conv, err := p.convert(ctx, sha, abs)
	if err != nil {
		return d, fmt.Errorf("converting %s: %w", filepath.Base(abs), err)
	}
	d.conv = conv

	d.stage = stageMetadata
	p.identify(ctx, d)

	d.stage = stageMarkdown
	if err := p.writeMarkdown(d); err != nil {
		return d, err
	}

	d.stage = stageVersion
	version, err := p.store.NextVersion(ctx, d.paper.ID)
	if err != nil {
		return d, fmt.Errorf("allocating processing version: %w", err)
	}
	d.version = version

	d.stage = stageAnalyze
	if err := p.analyzeAndExtract(ctx, d); err != nil {
		return d, err
	}

	d.stage = stageResolve
	if err := p.resolveCitations(ctx, d); err != nil {
		return d, err
	}

	d.stage = stageGraph
	if err := p.persistVersion(ctx, d); err != nil {
		return d, err
	}

	d.stage = stageNote
	p.renderNote(ctx, d)

	d.stage = stageIndex
	if err := p.indexVersion(ctx, d); err != nil {
		return d, err
	}

	d.stage = stageActivate
	if err := p.activate(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}

// convert turns the PDF into markdown, keyed in the cache by content
// hash so a re-ingest of the same bytes never re-runs OCR.
func (p *Pipeline) convert(ctx context.Context, sha, pdfPath string) (gateway.ConvertResult, error) {
	key := cache.Key(cache.KindOCR, sha)
	ttl := cache.TTLFor(p.cacheCfg, cache.KindOCR)
	raw, err := p.cache.GetOrBuild(ctx, key, cache.KindOCR, ttl, func(ctx context.Context) ([]byte, error) {
		res, err := p.converter.Convert(ctx, pdfPath)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	if err != nil {
		return gateway.ConvertResult{}, err
	}
	var res gateway.ConvertResult
	if err := json.Unmarshal(raw, &res); err != nil {
		// Drop the corrupt entry so the integrity retry rebuilds it
		// instead of hitting the same bytes again.
		if ierr := p.cache.Invalidate(ctx, key); ierr != nil {
			p.logger.Warn("invalidating corrupt conversion artifact", zap.Error(ierr))
		}
		return gateway.ConvertResult{}, types.Errorf(types.KindIntegrity, "decoding cached conversion: %v", err)
	}
	return res, nil
}

// identify scans the document head for identifiers, enriches them
// against the metadata services, and settles the paper identity. Lookup
// failures downgrade to markdown-derived metadata; identity never blocks
// ingestion.
func (p *Pipeline) identify(ctx context.Context, d *doc) {
	head := docHead(d.conv.MarkdownNoImages)
	doi := metadata.NormalizeDOI(head)
	arxivID := metadata.FindArxivID(head)

	var work *metadata.Work
	if doi != "" && p.crossref != nil {
		w, err := p.crossref.WorkByDOI(ctx, doi)
		if err != nil {
			p.logger.Warn("doi lookup failed during ingest",
				zap.String("doi", doi), zap.Error(err))
		} else {
			work = w
		}
	}
	if work == nil && arxivID != "" && p.arxiv != nil {
		w, err := p.arxiv.WorkByID(ctx, arxivID)
		if err != nil {
			p.logger.Warn("arxiv lookup failed during ingest",
				zap.String("arxiv_id", arxivID), zap.Error(err))
		} else {
			work = w
		}
	}

	paper := types.Paper{
		DOI:       doi,
		ArxivID:   arxivID,
		Title:     firstHeading(d.conv.Markdown),
		PDFPath:   d.path,
		PDFSHA256: d.sha,
		Status:    types.StatusProcessing,
	}
	if work != nil {
		if canonical := metadata.NormalizeDOI(work.DOI); canonical != "" {
			paper.DOI = canonical
		}
		if work.ArxivID != "" {
			paper.ArxivID = work.ArxivID
		}
		paper.OpenAlexID = work.OpenAlexID
		if work.Title != "" {
			paper.Title = work.Title
		}
		paper.Authors = work.Authors
		paper.Year = work.Year
		paper.Venue = work.Venue
		paper.Abstract = work.Abstract
	}
	if d.paper.ID != "" {
		// A re-ingested PDF keeps its identity even if the head scan
		// found different identifiers this time.
		paper.ID = d.paper.ID
	} else {
		paper.ID = types.PaperID(paper.DOI, paper.ArxivID, paper.OpenAlexID, d.sha)
	}
	d.paper = paper
}

// writeMarkdown persists both conversion variants under stable,
// identity-derived names. The paths go on the paper row and the version.
func (p *Pipeline) writeMarkdown(d *doc) error {
	if err := os.MkdirAll(p.markdownDir, 0o755); err != nil {
		return fmt.Errorf("creating markdown directory: %w", err)
	}
	d.mdPath = filepath.Join(p.markdownDir, d.paper.ID+".md")
	d.noImgPath = filepath.Join(p.markdownDir, d.paper.ID+"_no_images.md")
	if err := os.WriteFile(d.mdPath, []byte(d.conv.Markdown), 0o644); err != nil {
		return fmt.Errorf("writing markdown: %w", err)
	}
	if err := os.WriteFile(d.noImgPath, []byte(d.conv.MarkdownNoImages), 0o644); err != nil {
		return fmt.Errorf("writing no-images markdown: %w", err)
	}
	d.paper.MarkdownPath = d.mdPath
	d.paper.MarkdownPathNoImages = d.noImgPath
	return nil
}

// analyzeAndExtract runs structured analysis and citation extraction
// concurrently; they read the same markdown and never touch the same doc
// fields. Either one failing downgrades (empty analysis marks the paper
// partial, extraction failure drops citations) unless the failure is a
// cancellation.
func (p *Pipeline) analyzeAndExtract(ctx context.Context, d *doc) error {
	md := d.conv.MarkdownNoImages
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, strategy, err := p.analyzer.Analyze(gctx, d.paper, md)
		d.strategy = strategy
		if err != nil {
			if cancelled(err) {
				return err
			}
			p.logger.Warn("analysis failed; storing paper as partial",
				zap.String("paper_id", d.paper.ID),
				zap.String("kind", string(types.KindOf(err))),
				zap.Error(err))
			d.analysis = analysis.Empty()
			d.partial = true
			return nil
		}
		d.analysis = a
		return nil
	})
	g.Go(func() error {
		if p.extractor == nil {
			return nil
		}
		raws, err := p.extractor.Extract(gctx, md)
		if err != nil {
			if cancelled(err) {
				return err
			}
			p.logger.Warn("citation extraction failed; continuing without citations",
				zap.String("paper_id", d.paper.ID),
				zap.Error(err))
			return nil
		}
		d.raws = raws
		return nil
	})
	return g.Wait()
}

// resolveCitations resolves extracted citations against the local graph
// and the external lookup services. Infrastructure failures drop the
// citations rather than the document.
func (p *Pipeline) resolveCitations(ctx context.Context, d *doc) error {
	if len(d.raws) == 0 || p.resolver == nil {
		return nil
	}
	cites, err := p.resolver.Resolve(ctx, d.paper, d.version, d.raws)
	if err != nil {
		if cancelled(err) {
			return err
		}
		p.logger.Warn("citation resolution failed; continuing without citations",
			zap.String("paper_id", d.paper.ID),
			zap.Error(err))
		return nil
	}
	d.cites = cites
	return nil
}

// persistVersion writes the paper row, the processing version, and the
// citation set in one pass. Failures here are fatal for the run; a
// conflict feeds the document-level retry.
func (p *Pipeline) persistVersion(ctx context.Context, d *doc) error {
	if err := p.store.UpsertPaper(ctx, d.paper); err != nil {
		return fmt.Errorf("upserting paper: %w", err)
	}
	sum := sha256.Sum256([]byte(d.conv.MarkdownNoImages))
	v := types.ProcessingVersion{
		PaperID:              d.paper.ID,
		Version:              d.version,
		ContentHash:          hex.EncodeToString(sum[:]),
		MarkdownPath:         d.mdPath,
		MarkdownPathNoImages: d.noImgPath,
		PromptVersion:        analysis.PromptVersion,
		ModelID:              p.llmCfg.AnalysisModel,
		ConfigDigest:         p.digest,
		Strategy:             d.strategy,
		Analysis:             d.analysis,
	}
	if err := p.store.CreateVersion(ctx, v); err != nil {
		return fmt.Errorf("creating version %d: %w", d.version, err)
	}
	if err := p.store.ReplaceCitations(ctx, d.paper.ID, d.version, d.cites); err != nil {
		return fmt.Errorf("storing citations: %w", err)
	}
	return nil
}

// renderNote writes the human-readable note. A rendering failure is
// never worth losing the already-persisted analysis over, so it only
// warns.
func (p *Pipeline) renderNote(ctx context.Context, d *doc) {
	if p.notes == nil {
		return
	}
	note, err := p.notes.Render(ctx, d.paper, d.analysis, d.cites)
	if err != nil {
		p.logger.Warn("note rendering failed; analysis and citations are kept",
			zap.String("paper_id", d.paper.ID),
			zap.Error(err))
		return
	}
	d.notePath = note.Path
	d.noteMD = note.Markdown
}

// indexVersion chunks and embeds the document body and, when one was
// rendered, the note. Both land under the new version number so
// activation can garbage-collect the superseded one.
func (p *Pipeline) indexVersion(ctx context.Context, d *doc) error {
	chunks, err := p.index.IndexMarkdown(ctx, d.paper.ID, d.version, types.SourcePaperBody, d.conv.MarkdownNoImages)
	if err != nil {
		return fmt.Errorf("indexing document body: %w", err)
	}
	d.chunks = len(chunks)
	if d.noteMD != "" {
		noteChunks, err := p.index.IndexMarkdown(ctx, d.paper.ID, d.version, types.SourceGeneratedNote, d.noteMD)
		if err != nil {
			return fmt.Errorf("indexing note: %w", err)
		}
		d.chunks += len(noteChunks)
	}
	if err := p.store.UpsertPaper(ctx, types.Paper{ID: d.paper.ID, EmbeddingsGenerated: true}); err != nil {
		p.logger.Warn("marking embeddings generated",
			zap.String("paper_id", d.paper.ID), zap.Error(err))
	}
	return nil
}

// activate flips the new version live, garbage-collects the superseded
// version's chunks, and settles the final paper status.
func (p *Pipeline) activate(ctx context.Context, d *doc) error {
	prev, err := p.store.ActivateVersion(ctx, d.paper.ID, d.version)
	if err != nil {
		return fmt.Errorf("activating version %d: %w", d.version, err)
	}
	if prev > 0 {
		if err := p.index.RemoveVersion(ctx, d.paper.ID, prev); err != nil {
			p.logger.Warn("removing superseded version chunks",
				zap.String("paper_id", d.paper.ID),
				zap.Int("version", prev),
				zap.Error(err))
		}
	}
	if d.partial {
		if err := p.store.SetStatus(ctx, d.paper.ID, types.StatusPartial); err != nil {
			p.logger.Warn("marking paper partial",
				zap.String("paper_id", d.paper.ID), zap.Error(err))
		}
		d.paper.Status = types.StatusPartial
	} else {
		d.paper.Status = types.StatusComplete
	}
	d.paper.Stub = false
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func docHead(markdown string) string {
	if len(markdown) > headBytes {
		return markdown[:headBytes]
	}
	return markdown
}

// firstHeading returns the first non-empty line of the markdown with
// heading markers stripped, as a title of last resort.
func firstHeading(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		s := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if s == "" {
			continue
		}
		if runes := []rune(s); len(runes) > maxTitleRunes {
			s = strings.TrimSpace(string(runes[:maxTitleRunes]))
		}
		return s
	}
	return ""
}
