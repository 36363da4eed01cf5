// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/cache"
	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/pkg/types"
)

// defaultThreshold accepts candidates scoring at least this much when
// neither the query nor the config sets one.
const defaultThreshold = 0.6

const filterSystem = "You judge whether a paper matches a research interest. Answer with strict JSON."

// Filter scores discovery candidates against the stored research
// queries. A keyword overlap runs first; when the query carries a rubric
// and the lexical gate passes, the model refines the score. Verdicts are
// cached so re-polled candidates cost nothing.
type Filter struct {
	llm       gateway.LLM
	cache     *cache.Cache
	model     string
	threshold float64
	ttl       time.Duration
	logger    *zap.Logger
}

// NewFilter builds a Filter from the filter model and discovery threshold
// in cfg. A nil llm disables rubric scoring; keyword overlap still works.
func NewFilter(llm gateway.LLM, c *cache.Cache, cfg *types.Config, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.Discovery.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Filter{
		llm:       llm,
		cache:     c,
		model:     cfg.LLM.FilterModel,
		threshold: threshold,
		ttl:       cache.TTLFor(cfg.Cache, cache.KindMetadata),
		logger:    logger,
	}
}

// Score evaluates the candidate against every query and returns the best
// match with its decision. Acceptance uses the best query's threshold,
// falling back to the configured default. Only cancellation is returned
// as an error; model failures degrade to keyword scoring.
func (f *Filter) Score(ctx context.Context, cand types.Candidate, queries []types.ResearchQuery) (types.ResearchQuery, types.FilterDecision, error) {
	if len(queries) == 0 {
		return types.ResearchQuery{}, types.FilterDecision{Method: types.FilterKeyword, Reason: "no research queries"}, nil
	}

	var (
		best     types.ResearchQuery
		decision types.FilterDecision
	)
	for i, q := range queries {
		d, err := f.scoreOne(ctx, cand, q)
		if err != nil {
			return types.ResearchQuery{}, types.FilterDecision{}, err
		}
		if i == 0 || d.Score > decision.Score {
			best, decision = q, d
		}
	}

	threshold := best.Threshold
	if threshold <= 0 {
		threshold = f.threshold
	}
	decision.Accepted = decision.Score >= threshold
	return best, decision, nil
}

func (f *Filter) scoreOne(ctx context.Context, cand types.Candidate, q types.ResearchQuery) (types.FilterDecision, error) {
	matched, total := keywordHits(cand, q.Keywords)

	// No keyword hit on a keyworded query is a cheap reject; the model is
	// consulted only when the lexical gate passes.
	if total > 0 && matched == 0 {
		return types.FilterDecision{
			Method: types.FilterKeyword,
			Reason: fmt.Sprintf("matched 0 of %d keywords", total),
		}, nil
	}

	if q.Rubric != "" && f.llm != nil {
		d, err := f.rubricScore(ctx, cand, q)
		if err == nil {
			return d, nil
		}
		if cancelled(err) {
			return types.FilterDecision{}, err
		}
		f.logger.Warn("rubric scoring failed; falling back to keyword overlap",
			zap.String("query", q.Name),
			zap.Error(err))
	}

	var score float64
	if total > 0 {
		score = float64(matched) / float64(total)
	}
	return types.FilterDecision{
		Score:  score,
		Method: types.FilterKeyword,
		Reason: fmt.Sprintf("matched %d of %d keywords", matched, total),
	}, nil
}

// rubricScore asks the model to grade the candidate against the query's
// rubric. The parsed verdict is cached keyed by model, query text, and
// candidate text.
func (f *Filter) rubricScore(ctx context.Context, cand types.Candidate, q types.ResearchQuery) (types.FilterDecision, error) {
	key := cache.Key(cache.KindMetadata, "filter", f.model, q.Rubric, q.Description, cand.Title, cand.Abstract)
	raw, err := f.cache.GetOrBuild(ctx, key, cache.KindMetadata, f.ttl, func(ctx context.Context) ([]byte, error) {
		resp, err := f.llm.Complete(ctx, gateway.Completion{
			Model:     f.model,
			System:    filterSystem,
			Prompt:    filterPrompt(cand, q),
			MaxTokens: 300,
		})
		if err != nil {
			return nil, err
		}
		v, err := parseVerdict(resp)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return types.FilterDecision{}, err
	}

	var v verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return types.FilterDecision{}, types.Errorf(types.KindIntegrity, "decoding cached verdict: %v", err)
	}
	return types.FilterDecision{
		Score:  v.Score,
		Method: types.FilterLLM,
		Reason: v.Reason,
	}, nil
}

type verdict struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

func parseVerdict(resp string) (verdict, error) {
	var v verdict
	if err := json.Unmarshal([]byte(gateway.ExtractJSON(resp)), &v); err != nil {
		return verdict{}, types.Errorf(types.KindSchemaViolation, "parsing filter verdict: %v", err)
	}
	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 1 {
		v.Score = 1
	}
	return v, nil
}

func filterPrompt(cand types.Candidate, q types.ResearchQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research interest: %s\n", q.Name)
	if q.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", q.Description)
	}
	fmt.Fprintf(&b, "Criteria:\n%s\n\n", q.Rubric)
	fmt.Fprintf(&b, "Paper title: %s\n", cand.Title)
	if len(cand.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(cand.Authors, ", "))
	}
	if cand.Abstract != "" {
		fmt.Fprintf(&b, "Abstract: %s\n", cand.Abstract)
	}
	b.WriteString("\nReply with JSON {\"score\": <0..1>, \"reason\": \"<one line>\"} grading how well the paper meets the criteria.")
	return b.String()
}

// keywordHits counts the query keywords appearing in the candidate's
// title or abstract, case-insensitively.
func keywordHits(cand types.Candidate, keywords []string) (matched, total int) {
	haystack := strings.ToLower(cand.Title + "\n" + cand.Abstract)
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		total++
		if strings.Contains(haystack, kw) {
			matched++
		}
	}
	return matched, total
}
