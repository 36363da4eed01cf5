// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/analysis"
	"github.com/pdiddy/thoth/internal/cache"
	"github.com/pdiddy/thoth/internal/citations"
	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/internal/notes"
	"github.com/pdiddy/thoth/internal/ragindex"
	"github.com/pdiddy/thoth/pkg/types"
)

// --- test fixtures ---

const paperMarkdown = `# Attention Is All You Need

doi:10.1000/attn2017

![architecture](media/fig1.png)

## Abstract

The dominant sequence transduction models connect encoders and decoders
through recurrence. We propose the transformer, built entirely on
attention.

## Architecture

Multi-head attention replaces recurrence; the transformer stacks these
layers in both the encoder and the decoder.

## References

[1] He, K. Deep residual learning for image recognition. CVPR, 2016.
`

var paperMarkdownNoImages = strings.Replace(paperMarkdown, "![architecture](media/fig1.png)\n\n", "", 1)

const analysisJSON = `{"summary": "An attention-only sequence transduction model.", "contributions": ["removes recurrence entirely"], "methods": ["multi-head self-attention"], "findings": ["state of the art translation quality"], "limitations": ["text only"], "future_work": ["other modalities"], "topics": ["transformer", "attention"]}`

const extractJSON = "```json\n" + `[{"citation_text": "[1] He, K. Deep residual learning for image recognition. CVPR, 2016.", "key": "1", "title": "Deep residual learning for image recognition", "authors": ["He, K."], "year": 2016, "venue": "CVPR", "doi": "", "arxiv_id": ""}]` + "\n```"

// scriptedLLM routes requests by prompt content: citation extraction
// prompts name the citation_text field, analysis prompts do not.
type scriptedLLM struct {
	mu            sync.Mutex
	analysisCalls int
	extractCalls  int
	analysisErr   error
	extractErr    error
}

func (s *scriptedLLM) Complete(ctx context.Context, req gateway.Completion) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.Contains(req.Prompt, "citation_text") {
		s.extractCalls++
		if s.extractErr != nil {
			return "", s.extractErr
		}
		return extractJSON, nil
	}
	s.analysisCalls++
	if s.analysisErr != nil {
		return "", s.analysisErr
	}
	return analysisJSON, nil
}

func (s *scriptedLLM) counts() (analysisCalls, extractCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analysisCalls, s.extractCalls
}

func (s *scriptedLLM) setAnalysisErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysisErr = err
}

type fakeConverter struct {
	mu      sync.Mutex
	res     gateway.ConvertResult
	err     error
	errOnce bool
	calls   int
}

func (f *fakeConverter) Convert(ctx context.Context, pdfPath string) (gateway.ConvertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		err := f.err
		if f.errOnce {
			f.err = nil
		}
		return gateway.ConvertResult{}, err
	}
	return f.res, nil
}

func (f *fakeConverter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeConverter) setErr(err error, once bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.errOnce = once
}

// fakeEmbedder maps texts onto fixed keyword axes so cosine similarity
// is predictable.
type fakeEmbedder struct{ vocab []string }

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vocab: []string{"attention", "transformer", "residual", "encoder"}}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(f.vocab)+1)
	lower := strings.ToLower(text)
	for i, w := range f.vocab {
		if strings.Contains(lower, w) {
			vec[i] = 1
		}
	}
	vec[len(f.vocab)] = 0.25

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vocab) + 1 }
func (f *fakeEmbedder) Name() string    { return "fake" }

type testEnv struct {
	cfg   *types.Config
	store *graphstore.Store
	cache *cache.Cache
	index *ragindex.Index
	notes *notes.Renderer
	conv  *fakeConverter
	llm   *scriptedLLM
	pipe  *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	workspace := t.TempDir()
	cfg := &types.Config{
		Workspace: workspace,
		LLM: types.LLMConfig{
			AnalysisModel:   "claude-sonnet-4-5-20250929",
			ExtractionModel: "claude-haiku-4-5",
			AnswerModel:     "claude-sonnet-4-5-20250929",
			ContextTokens:   200000,
			MaxOutputTokens: 2048,
		},
		Pipeline: types.PipelineConfig{Workers: 2, QueueSize: 8, DocTimeout: time.Minute},
	}
	logger := zap.NewNop()

	store, err := graphstore.Open(workspace, logger)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c, err := cache.Open(filepath.Join(workspace, "cache"), logger)
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	llm := &scriptedLLM{}
	index, err := ragindex.Open(filepath.Join(workspace, "index"), store, c, newFakeEmbedder(), llm, cfg.LLM.AnswerModel, cfg.RAG, time.Hour, logger)
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}

	renderer, err := notes.New(store, workspace, "", logger)
	if err != nil {
		t.Fatalf("building renderer: %v", err)
	}

	env := &testEnv{
		cfg:   cfg,
		store: store,
		cache: c,
		index: index,
		notes: renderer,
		llm:   llm,
		conv: &fakeConverter{res: gateway.ConvertResult{
			Markdown:         paperMarkdown,
			MarkdownNoImages: paperMarkdownNoImages,
		}},
	}
	env.pipe = env.buildPipeline(cfg)
	return env
}

// buildPipeline assembles a pipeline over the env's shared services so
// tests can run a second pipeline with a different configuration against
// the same store.
func (e *testEnv) buildPipeline(cfg *types.Config) *Pipeline {
	logger := zap.NewNop()
	return New(Deps{
		Store:     e.store,
		Cache:     e.cache,
		Converter: e.conv,
		Analyzer:  analysis.New(e.llm, e.cache, cfg.LLM, 0, logger),
		Extractor: citations.NewExtractor(e.llm, cfg.LLM, logger),
		Resolver:  citations.NewResolver(e.store, nil, nil, nil, nil, logger),
		Index:     e.index,
		Notes:     e.notes,
		Logger:    logger,
	}, cfg)
}

func (e *testEnv) writePDF(t *testing.T, name string) string {
	t.Helper()
	dir := e.cfg.PDFDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("%PDF-1.7\n"+name+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- full ingestion ---

func TestProcessIngestsDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pdf := env.writePDF(t, "attention.pdf")

	res, err := env.pipe.Process(ctx, pdf, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Reused || res.Partial {
		t.Errorf("reused=%v partial=%v, want false/false", res.Reused, res.Partial)
	}
	if res.Version != 1 {
		t.Errorf("version = %d, want 1", res.Version)
	}
	if res.Citations != 1 {
		t.Errorf("citations = %d, want 1", res.Citations)
	}
	if res.Chunks == 0 {
		t.Error("no chunks indexed")
	}

	paper, err := env.store.GetPaper(ctx, res.Paper.ID)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if paper.Status != types.StatusComplete {
		t.Errorf("status = %q, want complete", paper.Status)
	}
	if paper.Title != "Attention Is All You Need" {
		t.Errorf("title = %q", paper.Title)
	}
	if paper.DOI != "10.1000/attn2017" {
		t.Errorf("doi = %q", paper.DOI)
	}
	if paper.Stub {
		t.Error("paper still marked stub")
	}
	if !paper.EmbeddingsGenerated {
		t.Error("embeddings flag not set")
	}
	if len(paper.Tags) != 2 {
		t.Errorf("tags = %v, want the two analysis topics", paper.Tags)
	}
	sha, err := fileSHA256(pdf)
	if err != nil {
		t.Fatal(err)
	}
	if paper.PDFSHA256 != sha {
		t.Errorf("sha = %q, want %q", paper.PDFSHA256, sha)
	}
	for _, p := range []string{paper.MarkdownPath, paper.MarkdownPathNoImages} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("markdown artifact missing: %v", err)
		}
	}

	av, err := env.store.ActiveVersion(ctx, paper.ID)
	if err != nil {
		t.Fatalf("ActiveVersion: %v", err)
	}
	if av.Version != 1 || av.ConfigDigest != ConfigDigest(env.cfg) {
		t.Errorf("active version = %d digest = %q", av.Version, av.ConfigDigest)
	}
	if av.Strategy != types.StrategyDirect {
		t.Errorf("strategy = %q, want direct", av.Strategy)
	}
	if av.Analysis.Summary == "" {
		t.Error("analysis not stored on the version")
	}

	cites, err := env.store.Citations(ctx, paper.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(cites) != 1 || cites[0].CitedPaperID != "" {
		t.Errorf("citations = %+v, want one unresolved entry", cites)
	}

	if res.NotePath == "" || filepath.Base(res.NotePath) != "attention-is-all-you-need.md" {
		t.Errorf("note path = %q", res.NotePath)
	}
	note, err := os.ReadFile(res.NotePath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"**DOI**: 10.1000/attn2017",
		"## Citations (1)",
		"- **[1]** He, K. Deep residual learning for image recognition. CVPR, 2016.",
	} {
		if !strings.Contains(string(note), want) {
			t.Errorf("note missing %q", want)
		}
	}

	hits, err := env.index.Search(ctx, "multi-head attention transformer", 5, graphstore.SearchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].Chunk.PaperID != paper.ID {
		t.Errorf("search hits = %+v", hits)
	}

	failures, err := env.store.Failures(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 0 {
		t.Errorf("failures = %+v, want none", failures)
	}
	if env.conv.callCount() != 1 {
		t.Errorf("converter calls = %d, want 1", env.conv.callCount())
	}
}

func TestProcessReusesUnchangedDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pdf := env.writePDF(t, "attention.pdf")

	first, err := env.pipe.Process(ctx, pdf, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.pipe.Process(ctx, pdf, false)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Reused || second.Version != first.Version {
		t.Errorf("second run = %+v, want reuse of version %d", second, first.Version)
	}
	if env.conv.callCount() != 1 {
		t.Errorf("converter calls = %d, want 1 (reuse skips conversion)", env.conv.callCount())
	}
	if a, _ := env.llm.counts(); a != 1 {
		t.Errorf("analysis calls = %d, want 1", a)
	}
}

func TestProcessForceReprocessesThroughCaches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pdf := env.writePDF(t, "attention.pdf")

	first, err := env.pipe.Process(ctx, pdf, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.pipe.Process(ctx, pdf, true)
	if err != nil {
		t.Fatal(err)
	}
	if second.Reused || second.Version != 2 {
		t.Fatalf("forced run = %+v, want a fresh version 2", second)
	}

	// Content is unchanged, so conversion and analysis come from cache.
	if env.conv.callCount() != 1 {
		t.Errorf("converter calls = %d, want 1", env.conv.callCount())
	}
	if a, _ := env.llm.counts(); a != 1 {
		t.Errorf("analysis calls = %d, want 1 (cache hit)", a)
	}

	versions, err := env.store.ListVersions(ctx, first.Paper.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 {
		t.Errorf("versions = %d, want 2", len(versions))
	}
	av, err := env.store.ActiveVersion(ctx, first.Paper.ID)
	if err != nil {
		t.Fatal(err)
	}
	if av.Version != 2 {
		t.Errorf("active version = %d, want 2", av.Version)
	}

	// The superseded version's chunks are gone from the index.
	hits, err := env.index.Search(ctx, "attention transformer", 10, graphstore.SearchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits after reprocessing")
	}
	for _, h := range hits {
		if h.Chunk.Version != 2 {
			t.Errorf("hit from version %d, want only version 2", h.Chunk.Version)
		}
	}
}

func TestProcessConfigChangeReprocesses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pdf := env.writePDF(t, "attention.pdf")

	if _, err := env.pipe.Process(ctx, pdf, false); err != nil {
		t.Fatal(err)
	}

	cfg2 := *env.cfg
	cfg2.LLM.AnalysisModel = "claude-opus-4-1-20250805"
	pipe2 := env.buildPipeline(&cfg2)

	res, err := pipe2.Process(ctx, pdf, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reused || res.Version != 2 {
		t.Errorf("run under new config = %+v, want version 2", res)
	}
	av, err := env.store.ActiveVersion(ctx, res.Paper.ID)
	if err != nil {
		t.Fatal(err)
	}
	if av.ModelID != "claude-opus-4-1-20250805" {
		t.Errorf("model id = %q", av.ModelID)
	}
	if a, _ := env.llm.counts(); a != 2 {
		t.Errorf("analysis calls = %d, want 2 (new model misses the cache)", a)
	}
}

// --- failure handling ---

func TestProcessAnalysisFailureKeepsPartialPaper(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pdf := env.writePDF(t, "attention.pdf")
	env.llm.setAnalysisErr(types.Errorf(types.KindTransient, "model overloaded"))

	res, err := env.pipe.Process(ctx, pdf, false)
	if err != nil {
		t.Fatalf("Process: %v (analysis failure must not fail the document)", err)
	}
	if !res.Partial {
		t.Error("result not marked partial")
	}
	if res.Citations != 1 {
		t.Errorf("citations = %d, want extraction to proceed", res.Citations)
	}

	paper, err := env.store.GetPaper(ctx, res.Paper.ID)
	if err != nil {
		t.Fatal(err)
	}
	if paper.Status != types.StatusPartial {
		t.Errorf("status = %q, want partial", paper.Status)
	}
	av, err := env.store.ActiveVersion(ctx, paper.ID)
	if err != nil {
		t.Fatal(err)
	}
	if av.Analysis.Summary != "" || av.Analysis.Contributions == nil {
		t.Errorf("analysis = %+v, want the empty placeholder", av.Analysis)
	}
	note, err := os.ReadFile(res.NotePath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(note), "## Summary\n\nN/A") {
		t.Error("note does not render the empty analysis as N/A")
	}
}

func TestProcessConversionFailureLandsInLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pdf := env.writePDF(t, "broken.pdf")
	env.conv.setErr(types.Errorf(types.KindUpstream4xx, "unsupported pdf"), false)

	_, err := env.pipe.Process(ctx, pdf, false)
	if err == nil {
		t.Fatal("Process succeeded with a failing converter")
	}
	if types.KindOf(err) != types.KindUpstream4xx {
		t.Errorf("kind = %q, want upstream_4xx", types.KindOf(err))
	}

	sha, err := fileSHA256(pdf)
	if err != nil {
		t.Fatal(err)
	}
	f, err := env.store.Failure(ctx, sha)
	if err != nil {
		t.Fatalf("Failure: %v", err)
	}
	if f.Stage != stageOCR || f.Attempts != 1 {
		t.Errorf("ledger entry = %+v, want stage ocr attempt 1", f)
	}
	if f.ErrorKind != types.KindUpstream4xx {
		t.Errorf("error kind = %q", f.ErrorKind)
	}

	// No paper row and no versions exist for a pre-identity failure.
	if _, err := env.store.FindBySHA256(ctx, sha); types.KindOf(err) != types.KindNotFound {
		t.Errorf("FindBySHA256 err = %v, want not found", err)
	}

	// A second failing attempt bumps the counter.
	if _, err := env.pipe.Process(ctx, pdf, false); err == nil {
		t.Fatal("second attempt succeeded unexpectedly")
	}
	f, err = env.store.Failure(ctx, sha)
	if err != nil {
		t.Fatal(err)
	}
	if f.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", f.Attempts)
	}

	// Success clears the ledger.
	env.conv.setErr(nil, false)
	if _, err := env.pipe.Process(ctx, pdf, false); err != nil {
		t.Fatalf("Process after fix: %v", err)
	}
	if _, err := env.store.Failure(ctx, sha); types.KindOf(err) != types.KindNotFound {
		t.Errorf("ledger entry survived success: %v", err)
	}
}

func TestProcessRetriesConflictOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pdf := env.writePDF(t, "attention.pdf")
	env.conv.setErr(types.Errorf(types.KindConflict, "concurrent writer"), true)

	res, err := env.pipe.Process(ctx, pdf, false)
	if err != nil {
		t.Fatalf("Process: %v, want the conflict retried", err)
	}
	if res.Version != 1 {
		t.Errorf("version = %d", res.Version)
	}
	if env.conv.callCount() != 2 {
		t.Errorf("converter calls = %d, want 2 (one failure, one retry)", env.conv.callCount())
	}
	if failures, _ := env.store.Failures(ctx); len(failures) != 0 {
		t.Errorf("failures = %+v, want none after a successful retry", failures)
	}
}

// --- queue and workers ---

func TestWorkerPoolProcessesQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pdf := env.writePDF(t, "attention.pdf")
	sha, err := fileSHA256(pdf)
	if err != nil {
		t.Fatal(err)
	}

	env.pipe.Start(ctx)
	if err := env.pipe.Enqueue(ctx, Job{Path: pdf}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	var paper types.Paper
	for {
		p, err := env.store.FindBySHA256(context.Background(), sha)
		if err == nil && p.Status == types.StatusComplete {
			paper = p
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("document never finished processing")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	env.pipe.Wait()

	if paper.Title != "Attention Is All You Need" {
		t.Errorf("title = %q", paper.Title)
	}
}

func TestEnqueueCancelled(t *testing.T) {
	cfg := &types.Config{Workspace: t.TempDir(), Pipeline: types.PipelineConfig{QueueSize: 1}}
	p := New(Deps{}, cfg)

	if err := p.Enqueue(context.Background(), Job{Path: "a.pdf"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Enqueue(ctx, Job{Path: "b.pdf"})
	if types.KindOf(err) != types.KindCancelled {
		t.Errorf("err = %v, want cancelled", err)
	}
}

// --- reingest and recovery ---

func TestReingestReprocessesFromStoredPDF(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pdf := env.writePDF(t, "attention.pdf")

	first, err := env.pipe.Process(ctx, pdf, false)
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.pipe.Reingest(ctx, first.Paper.ID)
	if err != nil {
		t.Fatalf("Reingest: %v", err)
	}
	if res.Reused || res.Version != 2 {
		t.Errorf("reingest = %+v, want forced version 2", res)
	}

	if _, err := env.pipe.Reingest(ctx, "no-such-paper"); types.KindOf(err) != types.KindNotFound {
		t.Errorf("unknown paper err = %v, want not found", err)
	}
}

func TestReingestWithoutLocalPDF(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stub := types.Paper{ID: "doi:stub001", Title: "Only Cited", Stub: true, Status: types.StatusPending}
	if err := env.store.UpsertPaper(ctx, stub); err != nil {
		t.Fatal(err)
	}
	_, err := env.pipe.Reingest(ctx, stub.ID)
	if types.KindOf(err) != types.KindNotFound || !strings.Contains(err.Error(), "no local PDF") {
		t.Errorf("err = %v", err)
	}
}

func TestRecoverSweepsOrphanChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A run that died before activation leaves chunks with no active
	// version behind.
	orphan := types.Paper{ID: "doi:orphan01", Title: "Residual Networks", Status: types.StatusProcessing}
	if err := env.store.UpsertPaper(ctx, orphan); err != nil {
		t.Fatal(err)
	}
	chunks, err := env.index.IndexMarkdown(ctx, orphan.ID, 1, types.SourcePaperBody, "# Residual Networks\n\nResidual connections everywhere.")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("fixture indexed no chunks")
	}

	if err := env.pipe.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	hits, err := env.index.Search(ctx, "residual connections", 5, graphstore.SearchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v, want orphaned chunks swept", hits)
	}

	// Recover creates the workspace layout it migrates against.
	for _, dir := range []string{env.cfg.PDFDir(), env.cfg.MarkdownDir()} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("workspace dir missing after Recover: %v", err)
		}
	}
}

// --- configuration digest ---

func TestConfigDigest(t *testing.T) {
	base := func() *types.Config {
		return &types.Config{
			LLM:        types.LLMConfig{AnalysisModel: "a", ExtractionModel: "b", AnswerModel: "c"},
			OCR:        types.OCRConfig{Backend: types.OCRRemote},
			Embeddings: types.EmbeddingsConfig{Model: "nomic", Dimensions: 768},
			RAG:        types.RAGConfig{ChunkSize: 1000, ChunkOverlap: 200},
		}
	}

	if ConfigDigest(base()) != ConfigDigest(base()) {
		t.Error("digest not deterministic")
	}

	changed := base()
	changed.RAG.ChunkSize = 500
	if ConfigDigest(changed) == ConfigDigest(base()) {
		t.Error("chunk size change did not move the digest")
	}

	irrelevant := base()
	irrelevant.Pipeline.Workers = 16
	irrelevant.Logging.Level = "debug"
	if ConfigDigest(irrelevant) != ConfigDigest(base()) {
		t.Error("non-artifact settings moved the digest")
	}
}

// --- helpers ---

func TestFirstHeading(t *testing.T) {
	cases := []struct {
		md   string
		want string
	}{
		{"# Attention Is All You Need\n\nbody", "Attention Is All You Need"},
		{"\n\n## 1 Introduction\n", "1 Introduction"},
		{"Plain first line\nsecond", "Plain first line"},
		{"", ""},
		{"###\n\nreal text", "real text"},
	}
	for _, c := range cases {
		if got := firstHeading(c.md); got != c.want {
			t.Errorf("firstHeading(%q) = %q, want %q", c.md, got, c.want)
		}
	}
}
