// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ragindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/cache"
	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/pkg/types"
)

// overFetch is how many candidates each retrieval side contributes per
// requested result before fusion.
const overFetch = 4

// Search runs hybrid retrieval: dense cosine candidates from the vector
// collection and lexical candidates from the FTS index, both filtered,
// fused by reciprocal rank into the top k. A k of zero uses the
// configured default.
func (ix *Index) Search(ctx context.Context, query string, k int, filter graphstore.SearchFilter) ([]types.SearchHit, error) {
	return ix.search(ctx, query, k, filter, 0)
}

func (ix *Index) search(ctx context.Context, query string, k int, filter graphstore.SearchFilter, minSimilarity float64) ([]types.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = ix.topK
	}
	fetch := overFetch * k

	dense, err := ix.denseSearch(ctx, query, fetch, filter, minSimilarity)
	if err != nil {
		return nil, err
	}
	lexical, err := ix.store.LexicalSearch(ctx, query, filter, fetch)
	if err != nil {
		return nil, err
	}
	return ix.fuse(ctx, dense, lexical, k)
}

type denseHit struct {
	chunk      types.Chunk
	similarity float64
}

// denseSearch embeds the query and ranks the collection by cosine
// similarity. Filtering happens here in Go rather than through the
// collection's metadata matcher: the filter criteria are paper-level
// (tags, years, status) and live in the relational store, and results
// from versions that are not active must never surface.
func (ix *Index) denseSearch(ctx context.Context, query string, fetch int, filter graphstore.SearchFilter, minSimilarity float64) ([]denseHit, error) {
	total := ix.collection.Count()
	if total == 0 {
		return nil, nil
	}
	if fetch > total {
		fetch = total
	}

	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	results, err := ix.collection.QueryEmbedding(ctx, vec, fetch, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	allowed, err := ix.allowedPapers(ctx, filter)
	if err != nil {
		return nil, err
	}

	activeVersions := make(map[string]int)
	var hits []denseHit
	for _, res := range results {
		if minSimilarity > 0 && float64(res.Similarity) < minSimilarity {
			continue
		}
		chunk := chunkFromResult(res)
		if filter.SourceKind != "" && chunk.SourceKind != filter.SourceKind {
			continue
		}
		if allowed != nil && !allowed[chunk.PaperID] {
			continue
		}
		active, ok := activeVersions[chunk.PaperID]
		if !ok {
			v, err := ix.store.ActiveVersion(ctx, chunk.PaperID)
			switch {
			case err == nil:
				active = v.Version
			case types.KindOf(err) == types.KindNotFound:
				active = 0
			default:
				return nil, err
			}
			activeVersions[chunk.PaperID] = active
		}
		if chunk.Version != active {
			continue
		}
		hits = append(hits, denseHit{chunk: chunk, similarity: float64(res.Similarity)})
	}
	return hits, nil
}

// allowedPapers resolves the filter to a paper ID set, nil meaning
// unrestricted.
func (ix *Index) allowedPapers(ctx context.Context, filter graphstore.SearchFilter) (map[string]bool, error) {
	paperOnly := filter
	paperOnly.SourceKind = ""
	if paperOnly.Empty() {
		return nil, nil
	}
	ids, err := ix.store.PaperIDsMatching(ctx, paperOnly)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	return allowed, nil
}

// fuse merges the two candidate lists by reciprocal rank: a chunk at
// rank r in either list contributes 1/(rrfK + r), ranks starting at 1.
// Ties break on chunk ID so results are stable across runs.
func (ix *Index) fuse(ctx context.Context, dense []denseHit, lexical []graphstore.ChunkHit, k int) ([]types.SearchHit, error) {
	type fused struct {
		chunk types.Chunk
		title string
		score float64
	}
	byID := make(map[string]*fused)
	add := func(chunk types.Chunk, title string, rank int) {
		f, ok := byID[chunk.ID]
		if !ok {
			f = &fused{chunk: chunk}
			byID[chunk.ID] = f
		}
		if f.title == "" {
			f.title = title
		}
		f.score += 1.0 / float64(ix.rrfK+rank)
	}
	for i, h := range dense {
		add(h.chunk, "", i+1)
	}
	for i, h := range lexical {
		add(h.Chunk, h.PaperTitle, i+1)
	}

	hits := make([]types.SearchHit, 0, len(byID))
	for _, f := range byID {
		hits = append(hits, types.SearchHit{Chunk: f.chunk, Score: f.score, PaperTitle: f.title})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	// Dense-only hits carry no title; decorate from the store.
	titles := make(map[string]string)
	for i := range hits {
		if hits[i].PaperTitle != "" {
			continue
		}
		id := hits[i].Chunk.PaperID
		title, ok := titles[id]
		if !ok {
			p, err := ix.store.GetPaper(ctx, id)
			switch {
			case err == nil:
				title = p.Title
			case types.KindOf(err) == types.KindNotFound:
				title = ""
			default:
				return nil, err
			}
			titles[id] = title
		}
		hits[i].PaperTitle = title
	}
	return hits, nil
}

func chunkFromResult(res chromem.Result) types.Chunk {
	version, _ := strconv.Atoi(res.Metadata[metaVersion])
	seq, _ := strconv.Atoi(res.Metadata[metaSeq])
	tokens, _ := strconv.Atoi(res.Metadata[metaTokens])
	return types.Chunk{
		ID:         res.ID,
		PaperID:    res.Metadata[metaPaperID],
		Version:    version,
		SourceKind: types.ChunkSource(res.Metadata[metaSource]),
		Seq:        seq,
		Heading:    res.Metadata[metaHeading],
		Text:       res.Content,
		TokenCount: tokens,
	}
}

const askSystem = `You are a research assistant. You answer questions using only the provided excerpts from indexed papers and notes, citing excerpts by their bracketed number.`

var askPromptTmpl = template.Must(template.New("ask").Parse(`Answer the question using only the excerpts below. Cite the excerpts you draw on by their bracketed number, like [2]. If the excerpts do not contain the answer, say so plainly instead of guessing.

Excerpts:
{{range .Sources}}
[{{.N}}] {{.Label}}
{{.Text}}
{{end}}
Question: {{.Question}}`))

type promptSource struct {
	N     int
	Label string
	Text  string
}

// Ask answers a question from indexed content: hybrid retrieval for the
// top k chunks, with dense candidates below minSimilarity dropped, then
// one model call over the labeled excerpts. Answers are cached; the
// fingerprint includes the collection size, so indexing or removing any
// document retires prior answers. Returns KindNotFound when nothing
// indexed matches the question.
func (ix *Index) Ask(ctx context.Context, question string, k int, minSimilarity float64) (types.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return types.Answer{}, types.Errorf(types.KindNotFound, "no indexed content matches the question")
	}

	key := cache.Key(cache.KindAnswer, ix.answerModel, question,
		strconv.Itoa(k),
		strconv.FormatFloat(minSimilarity, 'g', -1, 64),
		strconv.Itoa(ix.collection.Count()))
	raw, err := ix.cache.GetOrBuild(ctx, key, cache.KindAnswer, ix.answerTTL, func(ctx context.Context) ([]byte, error) {
		ans, err := ix.answer(ctx, question, k, minSimilarity)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ans)
	})
	if err != nil {
		return types.Answer{}, err
	}

	var ans types.Answer
	if err := json.Unmarshal(raw, &ans); err != nil {
		if ierr := ix.cache.Invalidate(ctx, key); ierr != nil {
			ix.logger.Warn("invalidating corrupt answer artifact", zap.Error(ierr))
		}
		return types.Answer{}, types.Errorf(types.KindIntegrity, "decoding cached answer: %v", err)
	}
	return ans, nil
}

func (ix *Index) answer(ctx context.Context, question string, k int, minSimilarity float64) (types.Answer, error) {
	hits, err := ix.search(ctx, question, k, graphstore.SearchFilter{}, minSimilarity)
	if err != nil {
		return types.Answer{}, err
	}
	if len(hits) == 0 {
		return types.Answer{}, types.Errorf(types.KindNotFound, "no indexed content matches the question")
	}

	sources := make([]promptSource, len(hits))
	for i, h := range hits {
		sources[i] = promptSource{N: i + 1, Label: sourceLabel(h), Text: h.Chunk.Text}
	}
	var prompt strings.Builder
	if err := askPromptTmpl.Execute(&prompt, struct {
		Sources  []promptSource
		Question string
	}{sources, question}); err != nil {
		return types.Answer{}, fmt.Errorf("rendering answer prompt: %w", err)
	}

	resp, err := ix.llm.Complete(ctx, gateway.Completion{
		Model:  ix.answerModel,
		System: askSystem,
		Prompt: prompt.String(),
	})
	if err != nil {
		return types.Answer{}, fmt.Errorf("answering question: %w", err)
	}
	return types.Answer{Text: strings.TrimSpace(resp), Sources: hits}, nil
}

func sourceLabel(h types.SearchHit) string {
	label := h.PaperTitle
	if label == "" {
		label = h.Chunk.PaperID
	}
	if h.Chunk.Heading != "" {
		label += " > " + h.Chunk.Heading
	}
	if h.Chunk.SourceKind == types.SourceGeneratedNote {
		label += " (note)"
	}
	return label
}
