// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline orchestrates document ingestion: a PDF goes in, and a
// processed paper comes out with markdown artifacts, a structured
// analysis, resolved citations, a rendered note, and searchable chunks.
//
// Processing is versioned and atomic at the document level. Every run
// writes a fresh processing version and activates it only after all
// derived artifacts exist; a crash mid-run leaves the previous active
// version untouched. Optional stages downgrade on failure (analysis,
// citations, notes) while the load-bearing ones fail the document
// (conversion, storage, indexing).
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/analysis"
	"github.com/pdiddy/thoth/internal/cache"
	"github.com/pdiddy/thoth/internal/citations"
	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/internal/metadata"
	"github.com/pdiddy/thoth/internal/notes"
	"github.com/pdiddy/thoth/internal/ragindex"
	"github.com/pdiddy/thoth/pkg/types"
)

const (
	defaultQueueSize  = 64
	maxDefaultWorkers = 4
)

// Stage labels recorded in the failure ledger. They name where in the
// run a document died, not why.
const (
	stageFingerprint = "fingerprint"
	stageOCR         = "ocr"
	stageMetadata    = "metadata"
	stageMarkdown    = "markdown"
	stageVersion     = "version"
	stageAnalyze     = "analyze"
	stageResolve     = "resolve"
	stageGraph       = "graph"
	stageNote        = "note"
	stageIndex       = "index"
	stageActivate    = "activate"
)

// DOIService looks up canonical work metadata by DOI.
type DOIService interface {
	WorkByDOI(ctx context.Context, doi string) (*metadata.Work, error)
}

// ArxivService looks up canonical work metadata by arXiv identifier.
type ArxivService interface {
	WorkByID(ctx context.Context, id string) (*metadata.Work, error)
}

// Deps collects the services the pipeline orchestrates. Store, Cache,
// Converter, Analyzer, and Index are required; the rest degrade
// gracefully when nil (no metadata enrichment, no citations, no notes).
type Deps struct {
	Store     *graphstore.Store
	Cache     *cache.Cache
	Converter gateway.Converter
	Analyzer  *analysis.Engine
	Extractor *citations.Extractor
	Resolver  *citations.Resolver
	Index     *ragindex.Index
	Notes     *notes.Renderer
	Crossref  DOIService
	Arxiv     ArxivService
	Logger    *zap.Logger
}

// Job is one queued ingestion request.
type Job struct {
	// Path is the PDF to process.
	Path string

	// Force reprocesses even when an up-to-date active version exists.
	Force bool
}

// Result summarizes one completed run.
type Result struct {
	Paper     types.Paper
	Version   int
	Reused    bool
	Partial   bool
	Citations int
	Chunks    int
	NotePath  string
}

// Pipeline runs documents through the ingestion stages, either directly
// via Process or through a bounded queue drained by worker goroutines.
type Pipeline struct {
	store     *graphstore.Store
	cache     *cache.Cache
	converter gateway.Converter
	analyzer  *analysis.Engine
	extractor *citations.Extractor
	resolver  *citations.Resolver
	index     *ragindex.Index
	notes     *notes.Renderer
	crossref  DOIService
	arxiv     ArxivService
	logger    *zap.Logger

	cfg         types.PipelineConfig
	cacheCfg    types.CacheConfig
	llmCfg      types.LLMConfig
	digest      string
	pdfDir      string
	markdownDir string

	queue chan Job
	wg    sync.WaitGroup
}

// New wires a pipeline from its dependencies and configuration.
func New(deps Deps, cfg *types.Config) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := cfg.Pipeline.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Pipeline{
		store:       deps.Store,
		cache:       deps.Cache,
		converter:   deps.Converter,
		analyzer:    deps.Analyzer,
		extractor:   deps.Extractor,
		resolver:    deps.Resolver,
		index:       deps.Index,
		notes:       deps.Notes,
		crossref:    deps.Crossref,
		arxiv:       deps.Arxiv,
		logger:      logger,
		cfg:         cfg.Pipeline,
		cacheCfg:    cfg.Cache,
		llmCfg:      cfg.LLM,
		digest:      ConfigDigest(cfg),
		pdfDir:      cfg.PDFDir(),
		markdownDir: cfg.MarkdownDir(),
		queue:       make(chan Job, queueSize),
	}
}

// Workers reports the effective worker count.
func (p *Pipeline) Workers() int {
	if p.cfg.Workers > 0 {
		return p.cfg.Workers
	}
	n := runtime.NumCPU()
	if n > maxDefaultWorkers {
		n = maxDefaultWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled; call Wait to join them.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.Workers(); i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(ctx)
		}()
	}
	p.logger.Info("pipeline started",
		zap.Int("workers", p.Workers()),
		zap.Int("queue_size", cap(p.queue)))
}

// Wait blocks until all workers have exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Enqueue submits a job, blocking while the queue is full. It returns a
// cancelled error if ctx expires first.
func (p *Pipeline) Enqueue(ctx context.Context, job Job) error {
	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		return types.NewError(types.KindCancelled, ctx.Err())
	}
}

// QueueDepth reports how many jobs are waiting.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

func (p *Pipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.handle(ctx, job)
		}
	}
}

// handle runs one queued job under the per-document timeout and logs the
// outcome. Errors are already ledgered by Process; the worker loop never
// dies on them.
func (p *Pipeline) handle(ctx context.Context, job Job) {
	runCtx := ctx
	if p.cfg.DocTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.DocTimeout)
		defer cancel()
	}
	res, err := p.Process(runCtx, job.Path, job.Force)
	if err != nil {
		return
	}
	if res.Reused {
		p.logger.Info("document unchanged; reusing active version",
			zap.String("paper_id", res.Paper.ID),
			zap.Int("version", res.Version))
		return
	}
	p.logger.Info("document processed",
		zap.String("paper_id", res.Paper.ID),
		zap.Int("version", res.Version),
		zap.Bool("partial", res.Partial),
		zap.Int("citations", res.Citations),
		zap.Int("chunks", res.Chunks))
}

// Process runs the full ingestion for one PDF. A version conflict or
// integrity failure retries the whole document once from the top; any
// remaining failure is recorded in the ledger and marks the paper
// failed.
func (p *Pipeline) Process(ctx context.Context, path string, force bool) (Result, error) {
	d, err := p.processOnce(ctx, path, force)
	if err != nil && retryable(err) && ctx.Err() == nil {
		p.logger.Warn("document hit a store conflict; retrying once",
			zap.String("path", path),
			zap.String("kind", string(types.KindOf(err))),
			zap.Error(err))
		d, err = p.processOnce(ctx, path, force)
	}
	if err != nil {
		p.recordFailure(ctx, d, err)
		return d.result(), err
	}
	if d.sha != "" {
		if cerr := p.store.ClearFailure(context.WithoutCancel(ctx), d.sha); cerr != nil {
			p.logger.Warn("clearing failure ledger entry",
				zap.String("path", d.path), zap.Error(cerr))
		}
	}
	return d.result(), nil
}

// recordFailure writes the ledger row and, when a paper row exists,
// marks it failed. Both writes use a detached context so a cancelled run
// still leaves a ledger trail.
func (p *Pipeline) recordFailure(ctx context.Context, d *doc, err error) {
	kind := types.KindOf(err)
	p.logger.Error("document ingestion failed",
		zap.String("path", d.path),
		zap.String("stage", d.stage),
		zap.String("kind", string(kind)),
		zap.Error(err))
	if d.sha == "" {
		// Not even fingerprinted; there is no stable key to ledger under.
		return
	}
	bg := context.WithoutCancel(ctx)
	f := graphstore.IngestionFailure{
		PDFSHA256: d.sha,
		PDFPath:   d.path,
		PaperID:   d.paper.ID,
		Stage:     d.stage,
		ErrorKind: kind,
		Message:   err.Error(),
	}
	if rerr := p.store.RecordFailure(bg, f); rerr != nil {
		p.logger.Warn("recording ingestion failure", zap.Error(rerr))
	}
	if d.paper.ID == "" {
		return
	}
	if serr := p.store.SetStatus(bg, d.paper.ID, types.StatusFailed); serr != nil {
		if types.KindOf(serr) != types.KindNotFound {
			p.logger.Warn("marking paper failed",
				zap.String("paper_id", d.paper.ID), zap.Error(serr))
		}
	}
}

// Reingest re-runs the pipeline for a known paper from its stored PDF.
func (p *Pipeline) Reingest(ctx context.Context, paperID string) (Result, error) {
	paper, err := p.store.GetPaper(ctx, paperID)
	if err != nil {
		return Result{}, err
	}
	if paper.PDFPath == "" {
		return Result{}, types.Errorf(types.KindNotFound, "paper %s has no local PDF to reprocess", paperID)
	}
	return p.Process(ctx, paper.PDFPath, true)
}

// Recover runs the startup sweeps: chunks left by runs that died before
// activation are removed, and legacy relative paths are rewritten to
// absolute ones. Call before Start; once workers are live, an in-flight
// version cannot be told apart from an orphan.
func (p *Pipeline) Recover(ctx context.Context) error {
	for _, dir := range []string{p.pdfDir, p.markdownDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating workspace directory: %w", err)
		}
	}
	if _, err := p.index.RemoveOrphans(ctx); err != nil {
		return fmt.Errorf("sweeping orphaned chunks: %w", err)
	}
	sum, err := p.store.MigratePaths(ctx, p.pdfDir, p.markdownDir)
	if err != nil {
		return fmt.Errorf("migrating stored paths: %w", err)
	}
	if sum.PDFPaths > 0 || sum.MarkdownPaths > 0 {
		p.logger.Info("rewrote legacy relative paths",
			zap.Int("pdf_paths", sum.PDFPaths),
			zap.Int("markdown_paths", sum.MarkdownPaths),
			zap.Int("unmatched", sum.Unmatched))
	}
	return nil
}

// ConfigDigest fingerprints the configuration that shapes derived
// artifacts: model selection, OCR backend, embedding geometry, chunking,
// and the analysis prompt and schema revisions. Settings outside this
// set (rate limits, logging, queue sizing) can change without forcing
// anything to reprocess.
func ConfigDigest(cfg *types.Config) string {
	h := sha256.New()
	fmt.Fprintf(h, "llm=%s|%s|%s\n", cfg.LLM.AnalysisModel, cfg.LLM.ExtractionModel, cfg.LLM.AnswerModel)
	fmt.Fprintf(h, "ocr=%s\n", cfg.OCR.Backend)
	fmt.Fprintf(h, "embed=%s|%d\n", cfg.Embeddings.Model, cfg.Embeddings.Dimensions)
	fmt.Fprintf(h, "chunk=%d|%d\n", cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	fmt.Fprintf(h, "prompt=%s|%s\n", analysis.PromptVersion, analysis.SchemaVersion)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func retryable(err error) bool {
	kind := types.KindOf(err)
	return kind == types.KindConflict || kind == types.KindIntegrity
}

// cancelled reports whether err is a cancellation rather than a real
// stage failure. Downgrading stages must not swallow these; a half-run
// analysis on a dying context is not a partial paper.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		types.KindOf(err) == types.KindCancelled
}
