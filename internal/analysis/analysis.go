// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package analysis produces structured analysis records from paper
// markdown. Documents that fit the model context window go through a
// single call; larger ones are folded chunk by chunk (refine) or analyzed
// per chunk and merged (map-reduce).
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/cache"
	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/internal/splitter"
	"github.com/pdiddy/thoth/pkg/types"
)

// Strategy thresholds as fractions of the model context window.
const (
	directRatio = 0.8
	refineRatio = 1.2

	// chunkRatio sizes refine and map chunks, leaving room for the
	// instructions and, in refine, the running analysis.
	chunkRatio = 0.5

	// chunkOverlapTokens is the fixed overlap between adjacent chunks.
	chunkOverlapTokens = 200
)

// Engine runs analyses through the language model with caching.
type Engine struct {
	llm    gateway.LLM
	cache  *cache.Cache
	cfg    types.LLMConfig
	ttl    time.Duration
	logger *zap.Logger
}

// New builds an Engine. ttl bounds how long cached analyses are reused;
// zero keeps them indefinitely.
func New(llm gateway.LLM, c *cache.Cache, cfg types.LLMConfig, ttl time.Duration, logger *zap.Logger) *Engine {
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = 200000
	}
	return &Engine{llm: llm, cache: c, cfg: cfg, ttl: ttl, logger: logger}
}

// SelectStrategy picks the feeding strategy from the document's estimated
// token count relative to the model context window.
func (e *Engine) SelectStrategy(markdown string) types.AnalysisStrategy {
	t := float64(splitter.EstimateTokens(markdown))
	c := float64(e.cfg.ContextTokens)
	switch {
	case t <= c*directRatio:
		return types.StrategyDirect
	case t <= c*refineRatio:
		return types.StrategyRefine
	default:
		return types.StrategyMapReduce
	}
}

// Analyze produces the structured analysis for one paper's markdown.
// Results are cached by model, schema version, strategy, and document
// content; concurrent calls for the same document share one build.
func (e *Engine) Analyze(ctx context.Context, paper types.Paper, markdown string) (types.Analysis, types.AnalysisStrategy, error) {
	strategy := e.SelectStrategy(markdown)
	e.logger.Debug("analysis strategy selected",
		zap.String("paper_id", paper.ID),
		zap.String("strategy", string(strategy)),
		zap.Int("tokens", splitter.EstimateTokens(markdown)))

	key := cache.Key(cache.KindAnalysis, e.cfg.AnalysisModel, PromptVersion, SchemaVersion, string(strategy), markdown)
	raw, err := e.cache.GetOrBuild(ctx, key, cache.KindAnalysis, e.ttl, func(ctx context.Context) ([]byte, error) {
		switch strategy {
		case types.StrategyDirect:
			return e.direct(ctx, paper, markdown)
		case types.StrategyRefine:
			return e.refine(ctx, paper, markdown)
		default:
			return e.mapReduce(ctx, paper, markdown)
		}
	})
	if err != nil {
		return types.Analysis{}, strategy, fmt.Errorf("analyzing %s: %w", paper.ID, err)
	}

	var a types.Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return types.Analysis{}, strategy, types.Errorf(types.KindSchemaViolation, "decoding analysis: %v", err)
	}
	dedupeLists(&a)
	return a, strategy, nil
}

// Empty returns a structurally valid analysis with no content. The
// pipeline stores it when analysis fails schema validation terminally and
// the paper is kept as partial.
func Empty() types.Analysis {
	return types.Analysis{
		Contributions: []string{},
		Methods:       []string{},
		Findings:      []string{},
		Limitations:   []string{},
		FutureWork:    []string{},
		Topics:        []string{},
	}
}

func (e *Engine) direct(ctx context.Context, paper types.Paper, markdown string) ([]byte, error) {
	prompt, err := renderAnalysisPrompt(paper, markdown)
	if err != nil {
		return nil, fmt.Errorf("rendering analysis prompt: %w", err)
	}
	return e.completeValidated(ctx, prompt)
}

func (e *Engine) refine(ctx context.Context, paper types.Paper, markdown string) ([]byte, error) {
	pieces := splitter.Split(markdown, e.chunkTokens(), chunkOverlapTokens)
	if len(pieces) <= 1 {
		return e.direct(ctx, paper, markdown)
	}

	prompt, err := renderAnalysisPrompt(paper, formatPiece(pieces[0]))
	if err != nil {
		return nil, fmt.Errorf("rendering analysis prompt: %w", err)
	}
	running, err := e.completeValidated(ctx, prompt)
	if err != nil {
		return nil, err
	}

	for _, piece := range pieces[1:] {
		prompt, err := renderRefinePrompt(string(running), formatPiece(piece))
		if err != nil {
			return nil, fmt.Errorf("rendering refine prompt: %w", err)
		}
		running, err = e.completeValidated(ctx, prompt)
		if err != nil {
			return nil, err
		}
	}
	return running, nil
}

func (e *Engine) mapReduce(ctx context.Context, paper types.Paper, markdown string) ([]byte, error) {
	pieces := splitter.Split(markdown, e.chunkTokens(), chunkOverlapTokens)
	if len(pieces) <= 1 {
		return e.direct(ctx, paper, markdown)
	}

	partials := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		prompt, err := renderAnalysisPrompt(paper, formatPiece(piece))
		if err != nil {
			return nil, fmt.Errorf("rendering analysis prompt: %w", err)
		}
		raw, err := e.completeValidated(ctx, prompt)
		if err != nil {
			return nil, err
		}
		partials = append(partials, string(raw))
	}
	return e.reduceAll(ctx, partials)
}

// reduceAll merges partial analyses, in groups sized to the context
// window when there are too many to merge in one call.
func (e *Engine) reduceAll(ctx context.Context, partials []string) ([]byte, error) {
	budget := int(float64(e.cfg.ContextTokens) * directRatio)
	for len(partials) > 1 {
		next := make([]string, 0, len(partials)/2+1)
		for _, group := range groupPartials(partials, budget) {
			if len(group) == 1 {
				next = append(next, group[0])
				continue
			}
			prompt, err := renderReducePrompt(group)
			if err != nil {
				return nil, fmt.Errorf("rendering reduce prompt: %w", err)
			}
			raw, err := e.completeValidated(ctx, prompt)
			if err != nil {
				return nil, err
			}
			next = append(next, string(raw))
		}
		partials = next
	}
	return []byte(partials[0]), nil
}

// groupPartials packs partials into groups under the token budget. Every
// group except possibly the last holds at least two entries, so each
// reduce round strictly shrinks the list.
func groupPartials(partials []string, budgetTokens int) [][]string {
	var groups [][]string
	var cur []string
	tok := 0
	for _, p := range partials {
		t := splitter.EstimateTokens(p)
		if len(cur) >= 2 && tok+t > budgetTokens {
			groups = append(groups, cur)
			cur = nil
			tok = 0
		}
		cur = append(cur, p)
		tok += t
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// completeValidated runs one completion and validates the response
// against the analysis schema, with a single corrective retry.
func (e *Engine) completeValidated(ctx context.Context, prompt string) ([]byte, error) {
	return gateway.CompleteStructured(ctx, e.llm, gateway.Structured{
		Completion: gateway.Completion{
			Model:     e.cfg.AnalysisModel,
			System:    analysisSystem,
			Prompt:    prompt,
			MaxTokens: e.cfg.MaxOutputTokens,
		},
		Validate: validateAnalysis,
		Repair:   renderRepairPrompt,
	}, e.logger)
}

func (e *Engine) chunkTokens() int {
	return int(float64(e.cfg.ContextTokens) * chunkRatio)
}

// formatPiece prefixes a chunk with its heading path so the model sees
// the document position.
func formatPiece(p splitter.Piece) string {
	if len(p.Headings) == 0 {
		return p.Text
	}
	return fmt.Sprintf("## %s\n\n%s", splitter.JoinHeadings(p.Headings), p.Text)
}

// dedupeLists drops list entries that repeat an earlier entry after
// normalization, keeping first occurrences in order.
func dedupeLists(a *types.Analysis) {
	a.Contributions = dedupe(a.Contributions)
	a.Methods = dedupe(a.Methods)
	a.Findings = dedupe(a.Findings)
	a.Limitations = dedupe(a.Limitations)
	a.FutureWork = dedupe(a.FutureWork)
	a.Topics = dedupe(a.Topics)
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		norm := strings.Join(strings.Fields(strings.ToLower(item)), " ")
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, item)
	}
	return out
}
