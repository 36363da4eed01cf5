// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package discovery polls external catalogs for papers matching the
// stored research queries, scores each candidate against the queries,
// and downloads accepted ones into the watched directory where the
// monitor picks them up for ingestion.
//
// Each source keeps a per-query cursor (the newest publication date
// seen) so a poll only surfaces what appeared since the last round.
package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/internal/metadata"
	"github.com/pdiddy/thoth/pkg/types"
)

const (
	defaultPollInterval = 6 * time.Hour
	defaultMaxPerPoll   = 25
)

// Service runs the discovery loop: poll, dedup, score, download, record.
type Service struct {
	store    *graphstore.Store
	sources  []Source
	filter   *Filter
	fetcher  *Fetcher
	queryDir string
	cfg      types.DiscoveryConfig
	logger   *zap.Logger
}

// New builds the discovery service over the given sources.
func New(store *graphstore.Store, sources []Source, filter *Filter, fetcher *Fetcher, cfg *types.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	dc := cfg.Discovery
	if dc.PollInterval <= 0 {
		dc.PollInterval = defaultPollInterval
	}
	if dc.MaxPerPoll <= 0 {
		dc.MaxPerPoll = defaultMaxPerPoll
	}
	return &Service{
		store:    store,
		sources:  sources,
		filter:   filter,
		fetcher:  fetcher,
		queryDir: cfg.QueriesDir(),
		cfg:      dc,
		logger:   logger,
	}
}

// PollInterval returns the effective polling interval after defaulting.
func (s *Service) PollInterval() time.Duration {
	return s.cfg.PollInterval
}

// Report summarizes one polling round.
type Report struct {
	Queries    int
	Candidates int
	Duplicates int
	Known      int
	Accepted   int
	Rejected   int
	Downloaded int
	Failed     int
}

// Run polls immediately and then on every poll interval until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rep, err := s.PollOnce(ctx)
		switch {
		case cancelled(err):
			return nil
		case err != nil:
			s.logger.Warn("discovery poll failed", zap.Error(err))
		default:
			s.logger.Info("discovery poll complete",
				zap.Int("queries", rep.Queries),
				zap.Int("candidates", rep.Candidates),
				zap.Int("accepted", rep.Accepted),
				zap.Int("downloaded", rep.Downloaded))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce runs a single polling round across all sources and active
// queries. Source and download failures are logged and skipped; only
// cancellation aborts the round.
func (s *Service) PollOnce(ctx context.Context) (Report, error) {
	var rep Report

	queries, err := s.store.ListQueries(ctx, true)
	if err != nil {
		return rep, err
	}
	rep.Queries = len(queries)
	if len(queries) == 0 {
		s.logger.Info("no active research queries; nothing to poll")
		return rep, nil
	}

	batches, err := s.pollSources(ctx, queries)
	if err != nil {
		return rep, err
	}

	var all []types.Candidate
	for _, b := range batches {
		all = append(all, b.cands...)
	}
	cands, removed := dedupCandidates(all)
	rep.Candidates = len(cands)
	rep.Duplicates = removed

	for _, cand := range cands {
		if ctx.Err() != nil {
			return rep, types.NewError(types.KindCancelled, ctx.Err())
		}
		if s.knownToLibrary(ctx, cand) {
			rep.Known++
			continue
		}

		best, decision, err := s.filter.Score(ctx, cand, queries)
		if err != nil {
			return rep, err
		}
		if !decision.Accepted {
			rep.Rejected++
			s.logger.Debug("candidate rejected",
				zap.String("title", cand.Title),
				zap.Float64("score", decision.Score),
				zap.String("method", string(decision.Method)))
			continue
		}

		rep.Accepted++
		s.logger.Info("candidate accepted",
			zap.String("title", cand.Title),
			zap.String("query", best.Name),
			zap.Float64("score", decision.Score),
			zap.String("method", string(decision.Method)))

		path, fetched, ferr := s.fetcher.Fetch(ctx, cand)
		switch {
		case cancelled(ferr):
			return rep, ferr
		case ferr != nil:
			rep.Failed++
			s.logger.Warn("candidate acquisition failed",
				zap.String("title", cand.Title),
				zap.String("url", cand.PDFURL),
				zap.Error(ferr))
		case fetched:
			rep.Downloaded++
			// Pause between downloads so back-to-back fetches stay polite.
			s.sleep(ctx, s.cfg.DownloadDelay)
		}
		s.recordAcceptance(best, cand, decision, path)
	}

	s.advanceCursors(ctx, batches)
	return rep, nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

type sourceBatch struct {
	source  string
	queryID string
	since   time.Time
	cands   []types.Candidate
}

// pollSources fans out one goroutine per source; each polls every query
// in turn from its own cursor. Failing sources are logged and skipped so
// one flaky catalog cannot starve the rest.
func (s *Service) pollSources(ctx context.Context, queries []types.ResearchQuery) ([]sourceBatch, error) {
	var (
		mu      sync.Mutex
		batches []sourceBatch
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range s.sources {
		g.Go(func() error {
			for _, q := range queries {
				since, err := s.store.DiscoveryCursor(ctx, src.Name(), q.ID)
				if err != nil {
					s.logger.Warn("reading discovery cursor failed",
						zap.String("source", src.Name()),
						zap.String("query", q.Name),
						zap.Error(err))
					continue
				}

				cands, err := src.Poll(ctx, q, since, s.cfg.MaxPerPoll)
				if err != nil {
					if cancelled(err) {
						return err
					}
					s.logger.Warn("source poll failed",
						zap.String("source", src.Name()),
						zap.String("query", q.Name),
						zap.Error(err))
					continue
				}

				mu.Lock()
				batches = append(batches, sourceBatch{
					source:  src.Name(),
					queryID: q.ID,
					since:   since,
					cands:   cands,
				})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

// advanceCursors moves each (source, query) cursor to the newest
// publication date seen in its batch. Candidates without dates leave the
// cursor alone; the library check absorbs the repeats.
func (s *Service) advanceCursors(ctx context.Context, batches []sourceBatch) {
	for _, b := range batches {
		newest := b.since
		for _, c := range b.cands {
			if c.Published.After(newest) {
				newest = c.Published
			}
		}
		if !newest.After(b.since) {
			continue
		}
		if err := s.store.SetDiscoveryCursor(ctx, b.source, b.queryID, newest); err != nil {
			s.logger.Warn("advancing discovery cursor failed",
				zap.String("source", b.source),
				zap.Error(err))
		}
	}
}

// knownToLibrary reports whether the candidate already has a paper row,
// matched through the same identifier classification ingestion uses.
func (s *Service) knownToLibrary(ctx context.Context, cand types.Candidate) bool {
	if doi := metadata.NormalizeDOI(cand.SourceID); doi != "" {
		if _, err := s.store.FindByDOI(ctx, doi); err == nil {
			return true
		}
	}
	if id := metadata.FindArxivID(cand.SourceID); id != "" {
		if _, err := s.store.FindByArxivID(ctx, id); err == nil {
			return true
		}
	}
	return false
}

// recordAcceptance appends the decision to the query's file so the
// researcher can see what each query has pulled in.
func (s *Service) recordAcceptance(q types.ResearchQuery, cand types.Candidate, d types.FilterDecision, path string) {
	file := filepath.Join(s.queryDir, q.ID+".yaml")
	qf, err := ReadQueryFile(file)
	if err != nil {
		qf = QueryFile{}
	}
	qf.Query = q
	qf.Accepted = append(qf.Accepted, Acceptance{
		Title:      cand.Title,
		SourceID:   cand.SourceID,
		Source:     cand.Source,
		Score:      d.Score,
		Method:     d.Method,
		Reason:     d.Reason,
		Path:       path,
		AcceptedAt: time.Now().UTC(),
	})
	if len(qf.Accepted) > maxRecordedAcceptances {
		qf.Accepted = qf.Accepted[len(qf.Accepted)-maxRecordedAcceptances:]
	}
	if err := WriteQueryFile(file, qf); err != nil {
		s.logger.Warn("recording acceptance failed",
			zap.String("query", q.Name),
			zap.Error(err))
	}
}

// dedupCandidates collapses the same paper reported by several sources.
// An identifier match wins; a normalized-title match catches works whose
// sources disagree on identifiers. Merging fills fields the kept copy is
// missing.
func dedupCandidates(cands []types.Candidate) ([]types.Candidate, int) {
	seen := make(map[string]int)
	deduped := make([]types.Candidate, 0, len(cands))
	removed := 0

	for _, c := range cands {
		idKey := ""
		if c.SourceID != "" {
			idKey = "id:" + strings.ToLower(c.SourceID)
		}
		titleKey := ""
		if t := normalizeTitle(c.Title); t != "" {
			titleKey = "title:" + t
		}

		if idKey != "" {
			if idx, ok := seen[idKey]; ok {
				mergeCandidate(&deduped[idx], c)
				removed++
				continue
			}
		}
		if titleKey != "" {
			if idx, ok := seen[titleKey]; ok {
				mergeCandidate(&deduped[idx], c)
				removed++
				continue
			}
		}

		idx := len(deduped)
		deduped = append(deduped, c)
		if idKey != "" {
			seen[idKey] = idx
		}
		if titleKey != "" {
			seen[titleKey] = idx
		}
	}
	return deduped, removed
}

// mergeCandidate fills empty fields of dst from src and tracks every
// source that reported the work.
func mergeCandidate(dst *types.Candidate, src types.Candidate) {
	if dst.SourceID == "" {
		dst.SourceID = src.SourceID
	}
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if len(dst.Authors) == 0 {
		dst.Authors = src.Authors
	}
	if dst.Abstract == "" {
		dst.Abstract = src.Abstract
	}
	if dst.Published.IsZero() {
		dst.Published = src.Published
	}
	if dst.PDFURL == "" {
		dst.PDFURL = src.PDFURL
	}
	if dst.Source != src.Source && !strings.Contains(dst.Source, src.Source) {
		dst.Source = dst.Source + "," + src.Source
	}
}

// normalizeTitle lowercases the title and strips punctuation so small
// formatting differences between catalogs do not defeat dedup.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func cancelled(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		types.KindOf(err) == types.KindCancelled)
}
