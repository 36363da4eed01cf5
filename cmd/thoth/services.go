// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/analysis"
	"github.com/pdiddy/thoth/internal/cache"
	"github.com/pdiddy/thoth/internal/citations"
	"github.com/pdiddy/thoth/internal/config"
	"github.com/pdiddy/thoth/internal/container"
	"github.com/pdiddy/thoth/internal/convert"
	"github.com/pdiddy/thoth/internal/discovery"
	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/internal/logging"
	"github.com/pdiddy/thoth/internal/metadata"
	"github.com/pdiddy/thoth/internal/monitor"
	"github.com/pdiddy/thoth/internal/notes"
	"github.com/pdiddy/thoth/internal/pipeline"
	"github.com/pdiddy/thoth/internal/ragindex"
	"github.com/pdiddy/thoth/pkg/types"
)

// services is the explicit dependency record passed through the CLI.
// openCore builds the parts every command needs (config, logger, local
// stores, gateway clients); the with* methods add the heavier layers on
// demand so listing papers never opens the vector collection or probes
// for a container runtime.
type services struct {
	cfg    *types.Config
	logger *zap.Logger
	cache  *cache.Cache
	store  *graphstore.Store
	gw     *gateway.Gateway

	llm      gateway.LLM
	embedder gateway.Embedder
	crossref *metadata.Crossref
	openalex *metadata.OpenAlex
	arxiv    *metadata.Arxiv
	s2       *metadata.SemanticScholar

	index *ragindex.Index
	pipe  *pipeline.Pipeline
	mon   *monitor.Monitor
	disco *discovery.Service
}

// openCore loads configuration and opens the stores and service
// clients. Building the clients is allocation only; nothing is dialed
// until a command makes a call.
func openCore(cmd *cobra.Command) (*services, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	c, err := cache.Open(cfg.CacheDir(), logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	store, err := graphstore.Open(cfg.IndexDir(), logger)
	if err != nil {
		c.Close()
		logger.Sync()
		return nil, err
	}

	gw := gateway.New(cfg.Services, c, logger)
	s := &services{
		cfg:      cfg,
		logger:   logger,
		cache:    c,
		store:    store,
		gw:       gw,
		llm:      gateway.NewClaudeLLM(gw.Client(config.ServiceLLM), cfg.LLM.AnalysisModel, cfg.LLM.MaxOutputTokens),
		embedder: gateway.NewOllamaEmbedder(gw.Client(config.ServiceEmbeddings), cfg.Embeddings.Model, cfg.Embeddings.Dimensions),
		crossref: metadata.NewCrossref(gw.Client(config.ServiceCrossref), cfg.Mailto),
		openalex: metadata.NewOpenAlex(gw.Client(config.ServiceOpenAlex), cfg.Mailto),
		arxiv:    metadata.NewArxiv(gw.Client(config.ServiceArxiv)),
		s2:       metadata.NewSemanticScholar(gw.Client(config.ServiceSemanticScholar)),
	}
	return s, nil
}

// Close releases the stores. Safe to call once, typically deferred
// right after openCore.
func (s *services) Close() {
	s.store.Close()
	s.cache.Close()
	s.logger.Sync()
}

// withIndex opens the hybrid retrieval index. The vector collection
// loads from disk here, so only commands that search, index, or delete
// chunks pay for it.
func (s *services) withIndex() error {
	if s.index != nil {
		return nil
	}
	ix, err := ragindex.Open(s.cfg.IndexDir(), s.store, s.cache, s.embedder, s.llm,
		s.cfg.LLM.AnswerModel, s.cfg.RAG, cache.TTLFor(s.cfg.Cache, cache.KindAnswer), s.logger)
	if err != nil {
		return err
	}
	s.index = ix
	return nil
}

// withPipeline assembles the full ingestion pipeline: converter,
// analysis engine, citation extraction and resolution, note renderer,
// and the retrieval index.
func (s *services) withPipeline() error {
	if s.pipe != nil {
		return nil
	}
	if err := s.withIndex(); err != nil {
		return err
	}

	converter, err := s.newConverter()
	if err != nil {
		return err
	}
	renderer, err := notes.New(s.store, s.cfg.Workspace, s.cfg.NoteTemplate, s.logger)
	if err != nil {
		return err
	}

	analyzer := analysis.New(s.llm, s.cache, s.cfg.LLM, cache.TTLFor(s.cfg.Cache, cache.KindAnalysis), s.logger)
	extractor := citations.NewExtractor(s.llm, s.cfg.LLM, s.logger)
	resolver := citations.NewResolver(s.store, s.crossref, s.openalex, s.arxiv, s.s2, s.logger)

	s.pipe = pipeline.New(pipeline.Deps{
		Store:     s.store,
		Cache:     s.cache,
		Converter: converter,
		Analyzer:  analyzer,
		Extractor: extractor,
		Resolver:  resolver,
		Index:     s.index,
		Notes:     renderer,
		Crossref:  s.crossref,
		Arxiv:     s.arxiv,
		Logger:    s.logger,
	}, s.cfg)
	return nil
}

// newConverter selects the PDF conversion backend from config: the
// remote OCR service, or markitdown in a local container.
func (s *services) newConverter() (gateway.Converter, error) {
	switch s.cfg.OCR.Backend {
	case types.OCRMarkitdown:
		rt, err := container.DetectRuntime()
		if err != nil {
			return nil, fmt.Errorf("markitdown backend: %w", err)
		}
		return convert.NewMarkitdown(rt, s.cfg.OCR.Image, s.logger)
	default:
		return gateway.NewRemoteOCR(s.gw.Client(config.ServiceOCR))
	}
}

// withMonitor builds the filesystem watcher over the pipeline.
func (s *services) withMonitor() error {
	if s.mon != nil {
		return nil
	}
	if err := s.withPipeline(); err != nil {
		return err
	}
	s.mon = monitor.New(s.store, s.pipe, s.cfg, s.logger)
	return nil
}

// withDiscovery builds the discovery service over the three catalog
// sources, the relevance filter, and the PDF fetcher.
func (s *services) withDiscovery() error {
	if s.disco != nil {
		return nil
	}
	sources := []discovery.Source{
		discovery.NewArxivSource(s.arxiv),
		discovery.NewOpenAlexSource(s.openalex),
		discovery.NewSemanticScholarSource(s.s2),
	}
	filter := discovery.NewFilter(s.llm, s.cache, s.cfg, s.logger)
	fetcher := discovery.NewFetcher(s.gw.Client(config.ServiceDownload), s.cfg.PDFDir(), s.cfg.Discovery.UserAgent, s.logger)
	s.disco = discovery.New(s.store, sources, filter, fetcher, s.cfg, s.logger)
	return nil
}

// newResolver builds a standalone citation resolver for the resolve
// command, which runs the chain without the rest of the pipeline.
func (s *services) newResolver() *citations.Resolver {
	return citations.NewResolver(s.store, s.crossref, s.openalex, s.arxiv, s.s2, s.logger)
}
