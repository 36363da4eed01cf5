// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package citations extracts bibliography entries from paper markdown
// and resolves each one against external services and the local graph.
// The chain is DOI, then OpenAlex, then arXiv, then fuzzy matching;
// every stage failure downgrades to a miss, so the worst outcome for a
// citation is to stay unresolved.
package citations

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/internal/metadata"
	"github.com/pdiddy/thoth/pkg/types"
)

// resolveWorkers bounds concurrent citation lookups. The per-service
// rate limits live in the gateway; this only caps in-flight goroutines.
const resolveWorkers = 4

// DOIService resolves one DOI to a work record.
type DOIService interface {
	WorkByDOI(ctx context.Context, doi string) (*metadata.Work, error)
}

// TitleService searches works by title.
type TitleService interface {
	SearchTitle(ctx context.Context, title string, limit int) ([]metadata.Work, error)
}

// ArxivService resolves arXiv IDs and searches arXiv titles.
type ArxivService interface {
	WorkByID(ctx context.Context, id string) (*metadata.Work, error)
	Search(ctx context.Context, query string, max int) ([]metadata.Work, error)
}

// InfluenceService reports which of a paper's references the provider
// considers influential.
type InfluenceService interface {
	References(ctx context.Context, paperID string, limit int) ([]metadata.OutboundReference, error)
}

const influenceProvider = "semanticscholar"

// Resolver runs the resolution chain. Any service may be nil, which
// turns its stage into a permanent miss.
type Resolver struct {
	store     *graphstore.Store
	doi       DOIService
	openalex  TitleService
	arxiv     ArxivService
	influence InfluenceService
	logger    *zap.Logger
}

func NewResolver(store *graphstore.Store, doi DOIService, openalex TitleService, arxiv ArxivService, influence InfluenceService, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:     store,
		doi:       doi,
		openalex:  openalex,
		arxiv:     arxiv,
		influence: influence,
		logger:    logger,
	}
}

// Resolve processes one paper's raw citations: runs the chain on each,
// creates stub papers for newly resolved targets, deduplicates, and
// attaches the provider's influence judgment. It never fails the paper;
// the returned error is only for context cancellation.
func (r *Resolver) Resolve(ctx context.Context, citing types.Paper, version int, raws []RawCitation) ([]types.Citation, error) {
	if len(raws) == 0 {
		return nil, nil
	}

	// One snapshot of known papers serves every fuzzy comparison.
	known, err := r.store.ListPapers(ctx, graphstore.Filter{IncludeStubs: true})
	if err != nil {
		return nil, fmt.Errorf("loading papers for fuzzy matching: %w", err)
	}

	resolved := make([]types.Citation, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveWorkers)
	for i, raw := range raws {
		g.Go(func() error {
			c, err := r.resolveOne(gctx, citing.ID, version, raw, known)
			if err != nil {
				return err
			}
			resolved[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := dedupe(resolved)
	r.markInfluential(ctx, citing, out)

	r.logger.Info("resolved citations",
		zap.String("paper_id", citing.ID),
		zap.Int("total", len(out)),
		zap.Int("unresolved", countUnresolved(out)))
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, citingID string, version int, raw RawCitation, known []types.Paper) (types.Citation, error) {
	if err := ctx.Err(); err != nil {
		return types.Citation{}, err
	}

	f := raw.Fields
	if f.DOI == "" {
		f.DOI = metadata.NormalizeDOI(raw.Text)
	}
	if f.ArxivID == "" {
		f.ArxivID = metadata.FindArxivID(raw.Text)
	}

	c := types.Citation{
		ID:       citationID(citingID, version, raw.Text),
		PaperID:  citingID,
		Version:  version,
		Raw:      raw.Text,
		Key:      raw.Key,
		Fields:   f,
		Contexts: raw.Contexts,
		Stage:    types.StageUnresolved,
	}

	if id := r.resolveDOI(ctx, citingID, f); id != "" {
		c.CitedPaperID, c.Stage, c.Confidence = id, types.StageDOI, 1.0
		return c, nil
	}
	if id := r.resolveOpenAlex(ctx, citingID, f); id != "" {
		c.CitedPaperID, c.Stage, c.Confidence = id, types.StageOpenAlex, 1.0
		return c, nil
	}
	if id := r.resolveArxiv(ctx, citingID, f); id != "" {
		c.CitedPaperID, c.Stage, c.Confidence = id, types.StageArxiv, 1.0
		return c, nil
	}
	if id, score := resolveFuzzy(f, citingID, known); id != "" {
		c.CitedPaperID, c.Stage, c.Confidence = id, types.StageFuzzy, score
		return c, nil
	}
	return c, nil
}

// resolveDOI checks the local graph first, then the DOI service. A
// service hit must agree with the extracted title and year before it is
// trusted; bibliography entries misprint DOIs often enough.
func (r *Resolver) resolveDOI(ctx context.Context, citingID string, f types.CitationFields) string {
	if f.DOI == "" {
		return ""
	}
	if p, err := r.store.FindByDOI(ctx, f.DOI); err == nil {
		return skipSelf(citingID, p.ID)
	}
	if r.doi == nil {
		return ""
	}
	work, err := r.doi.WorkByDOI(ctx, f.DOI)
	if err != nil {
		r.miss(ctx, "doi", f.DOI, err)
		return ""
	}
	if !titleYearAgree(f, *work) {
		return ""
	}
	return skipSelf(citingID, r.ensureStub(ctx, *work))
}

// resolveOpenAlex searches by title and accepts only an unambiguous
// exact match after normalization.
func (r *Resolver) resolveOpenAlex(ctx context.Context, citingID string, f types.CitationFields) string {
	if r.openalex == nil || f.Title == "" {
		return ""
	}
	works, err := r.openalex.SearchTitle(ctx, f.Title, 5)
	if err != nil {
		r.miss(ctx, "openalex", f.Title, err)
		return ""
	}
	work, ok := pickCandidate(works, f)
	if !ok {
		return ""
	}
	return skipSelf(citingID, r.ensureStub(ctx, work))
}

func (r *Resolver) resolveArxiv(ctx context.Context, citingID string, f types.CitationFields) string {
	if f.ArxivID != "" {
		if p, err := r.store.FindByArxivID(ctx, f.ArxivID); err == nil {
			return skipSelf(citingID, p.ID)
		}
		if r.arxiv == nil {
			return ""
		}
		work, err := r.arxiv.WorkByID(ctx, f.ArxivID)
		if err != nil {
			r.miss(ctx, "arxiv", f.ArxivID, err)
			return ""
		}
		return skipSelf(citingID, r.ensureStub(ctx, *work))
	}

	if r.arxiv == nil || f.Title == "" {
		return ""
	}
	works, err := r.arxiv.Search(ctx, fmt.Sprintf(`ti:%q`, f.Title), 5)
	if err != nil {
		r.miss(ctx, "arxiv", f.Title, err)
		return ""
	}
	work, ok := pickCandidate(works, f)
	if !ok {
		return ""
	}
	return skipSelf(citingID, r.ensureStub(ctx, work))
}

// resolveFuzzy scores the citation against every known paper. The best
// score must clear the threshold and beat the runner-up by the tie
// margin; two near-equal candidates mean the evidence cannot choose.
func resolveFuzzy(f types.CitationFields, citingID string, known []types.Paper) (string, float64) {
	var bestID string
	best, second := 0.0, 0.0
	for _, p := range known {
		if p.ID == citingID {
			continue
		}
		score := fuzzyScore(f, p)
		switch {
		case score > best:
			second = best
			best, bestID = score, p.ID
		case score > second:
			second = score
		}
	}
	if best < fuzzyThreshold || best-second < fuzzyTieMargin {
		return "", 0
	}
	return bestID, best
}

// pickCandidate applies the acceptance rule for external title
// searches: exact normalized-title matches only, year within one when
// both sides know it. Among several exact matches the better year wins,
// then the one with a DOI; a remaining tie rejects the stage.
func pickCandidate(works []metadata.Work, f types.CitationFields) (metadata.Work, bool) {
	want := normalizeTitle(f.Title)
	if want == "" {
		return metadata.Work{}, false
	}

	var exact []metadata.Work
	for _, w := range works {
		if normalizeTitle(w.Title) != want {
			continue
		}
		if f.Year != 0 && w.Year != 0 && abs(f.Year-w.Year) > 1 {
			continue
		}
		exact = append(exact, w)
	}
	switch len(exact) {
	case 0:
		return metadata.Work{}, false
	case 1:
		return exact[0], true
	}

	bestIdx, tied := 0, false
	for i := 1; i < len(exact); i++ {
		switch cmpCandidates(exact[i], exact[bestIdx], f) {
		case 1:
			bestIdx, tied = i, false
		case 0:
			tied = true
		}
	}
	if tied {
		return metadata.Work{}, false
	}
	return exact[bestIdx], true
}

// cmpCandidates orders two exact-title candidates: better year
// agreement first, then DOI presence. Returns 1 if a wins, -1 if b
// wins, 0 for a tie.
func cmpCandidates(a, b metadata.Work, f types.CitationFields) int {
	ya, yb := yearScore(f.Year, a.Year), yearScore(f.Year, b.Year)
	if ya != yb {
		if ya > yb {
			return 1
		}
		return -1
	}
	da, db := a.DOI != "", b.DOI != ""
	if da != db {
		if da {
			return 1
		}
		return -1
	}
	return 0
}

// titleYearAgree guards DOI-service hits against misprinted DOIs. An
// entry without a usable title is accepted on the DOI alone.
func titleYearAgree(f types.CitationFields, w metadata.Work) bool {
	if f.Title == "" {
		return true
	}
	if tokenSetRatio(normalizeTitle(f.Title), normalizeTitle(w.Title)) < 0.8 {
		return false
	}
	if f.Year != 0 && w.Year != 0 && abs(f.Year-w.Year) > 1 {
		return false
	}
	return true
}

// ensureStub guarantees a paper row for a resolved work and returns its
// ID. Works without any stable identifier cannot become graph nodes.
func (r *Resolver) ensureStub(ctx context.Context, w metadata.Work) string {
	if w.DOI == "" && w.ArxivID == "" && w.OpenAlexID == "" {
		return ""
	}
	id := types.PaperID(w.DOI, w.ArxivID, w.OpenAlexID, "")
	stub := types.Paper{
		ID:         id,
		DOI:        w.DOI,
		ArxivID:    w.ArxivID,
		OpenAlexID: w.OpenAlexID,
		Title:      w.Title,
		Authors:    w.Authors,
		Year:       w.Year,
		Venue:      w.Venue,
		Abstract:   w.Abstract,
		Status:     types.StatusPending,
		Stub:       true,
	}
	if err := r.store.UpsertPaper(ctx, stub); err != nil {
		r.logger.Warn("creating stub paper failed", zap.String("paper_id", id), zap.Error(err))
		return ""
	}
	return id
}

// skipSelf drops self-citations; a paper citing itself is always an
// extraction artifact.
func skipSelf(citingID, citedID string) string {
	if citedID == citingID {
		return ""
	}
	return citedID
}

// miss logs a stage failure at debug level unless the context died.
func (r *Resolver) miss(ctx context.Context, stage, subject string, err error) {
	if ctx.Err() != nil {
		return
	}
	r.logger.Debug("resolution stage miss",
		zap.String("stage", stage),
		zap.String("subject", subject),
		zap.Error(err))
}

// dedupe collapses citations pointing at the same work: equal resolved
// IDs, or equal normalized title and year for unresolved entries. The
// higher-confidence record survives and contexts merge.
func dedupe(citations []types.Citation) []types.Citation {
	index := make(map[string]int)
	var out []types.Citation
	for _, c := range citations {
		key := "id:" + c.CitedPaperID
		if c.CitedPaperID == "" {
			key = fmt.Sprintf("t:%s|%d", normalizeTitle(c.Fields.Title), c.Fields.Year)
		}
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, c)
			continue
		}
		kept := out[i]
		if c.Confidence > kept.Confidence {
			c.Contexts = mergeContexts(kept.Contexts, c.Contexts)
			if c.Key == "" {
				c.Key = kept.Key
			}
			out[i] = c
			continue
		}
		kept.Contexts = mergeContexts(kept.Contexts, c.Contexts)
		out[i] = kept
	}
	return out
}

func mergeContexts(a, b []string) []string {
	out := append([]string{}, a...)
	for _, s := range b {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// markInfluential asks the influence provider for the citing paper's
// reference list and copies its judgment onto matching citations. Any
// failure leaves every flag unset.
func (r *Resolver) markInfluential(ctx context.Context, citing types.Paper, citations []types.Citation) {
	if r.influence == nil {
		return
	}
	var providerID string
	switch {
	case citing.DOI != "":
		providerID = "DOI:" + citing.DOI
	case citing.ArxivID != "":
		providerID = "arXiv:" + citing.ArxivID
	default:
		return
	}

	refs, err := r.influence.References(ctx, providerID, 200)
	if err != nil {
		r.miss(ctx, "influence", providerID, err)
		return
	}

	byDOI := make(map[string]metadata.OutboundReference)
	byTitle := make(map[string]metadata.OutboundReference)
	for _, ref := range refs {
		if ref.Work.DOI != "" {
			byDOI[ref.Work.DOI] = ref
		}
		if t := normalizeTitle(ref.Work.Title); t != "" {
			byTitle[t] = ref
		}
	}

	for i := range citations {
		ref, ok := byDOI[citations[i].Fields.DOI]
		if !ok {
			ref, ok = byTitle[normalizeTitle(citations[i].Fields.Title)]
		}
		if !ok {
			continue
		}
		citations[i].Influential = ref.IsInfluential
		citations[i].InfluenceProvider = influenceProvider
	}
}

// citationID derives the stable edge identifier from the citing
// version and the entry text, so re-processing identical content keys
// the same rows.
func citationID(citingID string, version int, raw string) string {
	canonical := fmt.Sprintf("cite:%s:%d:%s", citingID, version, strings.Join(strings.Fields(raw), " "))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16]
}

func countUnresolved(citations []types.Citation) int {
	n := 0
	for _, c := range citations {
		if c.Stage == types.StageUnresolved {
			n++
		}
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
