// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package citations

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/internal/metadata"
	"github.com/pdiddy/thoth/pkg/types"
)

// --- fakes ---

type fakeDOI struct {
	work  *metadata.Work
	err   error
	calls int
}

func (f *fakeDOI) WorkByDOI(ctx context.Context, doi string) (*metadata.Work, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.work, nil
}

type fakeTitle struct {
	works []metadata.Work
	err   error
}

func (f *fakeTitle) SearchTitle(ctx context.Context, title string, limit int) ([]metadata.Work, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.works, nil
}

type fakeArxiv struct {
	byID   *metadata.Work
	search []metadata.Work
}

func (f *fakeArxiv) WorkByID(ctx context.Context, id string) (*metadata.Work, error) {
	if f.byID == nil {
		return nil, fmt.Errorf("no such paper")
	}
	return f.byID, nil
}

func (f *fakeArxiv) Search(ctx context.Context, query string, max int) ([]metadata.Work, error) {
	return f.search, nil
}

type fakeInfluence struct {
	refs []metadata.OutboundReference
	err  error
}

func (f *fakeInfluence) References(ctx context.Context, paperID string, limit int) ([]metadata.OutboundReference, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.refs, nil
}

func newTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	store, err := graphstore.Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func citingPaper() types.Paper {
	return types.Paper{ID: "citing-1", Title: "The Citing Paper", DOI: "10.1000/citing"}
}

// --- fuzzy scoring ---

func TestNormalizeTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Attention Is All You Need", "attention is all you need"},
		{"  BERT: Pre-training of Deep   Bidirectional Transformers!  ", "bert pre training of deep bidirectional transformers"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeTitle(tc.in); got != tc.want {
			t.Errorf("normalizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTokenSetRatio(t *testing.T) {
	if r := tokenSetRatio("attention is all you need", "all you need is attention"); r != 1 {
		t.Errorf("reordered tokens ratio = %v, want 1", r)
	}
	if r := tokenSetRatio("attention is all you need", "attention is all you need extended edition"); r < 0.7 {
		t.Errorf("superset ratio = %v, want high", r)
	}
	if r := tokenSetRatio("sparse transformers", "graph neural networks"); r >= fuzzyThreshold {
		t.Errorf("unrelated ratio = %v, want below the accept threshold", r)
	}
	if r := tokenSetRatio("", "anything"); r != 0 {
		t.Errorf("empty ratio = %v, want 0", r)
	}
}

func TestSurnameForms(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Smith, J.", "smith"},
		{"Jane Smith", "smith"},
		{"A. B. Vaswani", "vaswani"},
		{"Doe et al.", "doe"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := surname(tc.in); got != tc.want {
			t.Errorf("surname(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFuzzyScore(t *testing.T) {
	paper := types.Paper{
		ID:      "p1",
		Title:   "Attention Is All You Need",
		Authors: []string{"Vaswani, A.", "Shazeer, N."},
		Year:    2017,
		Venue:   "NeurIPS",
	}

	match := types.CitationFields{
		Title:   "Attention is all you need",
		Authors: []string{"A. Vaswani", "N. Shazeer"},
		Year:    2017,
		Venue:   "NeurIPS",
	}
	if s := fuzzyScore(match, paper); s < fuzzyThreshold {
		t.Errorf("matching citation score = %v, want >= %v", s, fuzzyThreshold)
	}

	offByOne := match
	offByOne.Year = 2018
	offByOne.Venue = ""
	if s := fuzzyScore(offByOne, paper); s < 0.7 || s >= fuzzyScore(match, paper) {
		t.Errorf("near-match score = %v, want high but below exact", s)
	}

	unrelated := types.CitationFields{Title: "Deep Residual Learning", Authors: []string{"He, K."}, Year: 2016}
	if s := fuzzyScore(unrelated, paper); s >= fuzzyThreshold {
		t.Errorf("unrelated score = %v, want below threshold", s)
	}
}

// --- pattern parsing ---

const sampleRefs = `[1] Vaswani, A., Shazeer, N. Attention is all you need. NeurIPS, 2017.
[2] Devlin, J. BERT: pre-training of deep bidirectional transformers. arXiv:1810.04805, 2018.
[3] He, K., Zhang, X. Deep residual learning for image recognition. CVPR, 2016. doi:10.1109/CVPR.2016.90`

func TestParseEntriesBracketStyle(t *testing.T) {
	raws := parseEntries(sampleRefs)
	if len(raws) != 3 {
		t.Fatalf("entries = %d, want 3", len(raws))
	}
	if raws[0].Key != "1" || raws[1].Key != "2" || raws[2].Key != "3" {
		t.Errorf("keys = %q %q %q", raws[0].Key, raws[1].Key, raws[2].Key)
	}
	if raws[1].Fields.ArxivID != "1810.04805" {
		t.Errorf("arxiv id = %q", raws[1].Fields.ArxivID)
	}
	if raws[2].Fields.DOI != "10.1109/cvpr.2016.90" {
		t.Errorf("doi = %q", raws[2].Fields.DOI)
	}
	if raws[0].Fields.Year != 2017 {
		t.Errorf("year = %d", raws[0].Fields.Year)
	}
}

func TestParseEntryFields(t *testing.T) {
	key, f := parseEntry("[7] Smith, J., and Doe, A. A study of retrieval systems. Journal of IR, 2020.")
	if key != "7" {
		t.Errorf("key = %q", key)
	}
	if len(f.Authors) != 2 {
		t.Errorf("authors = %v, want 2", f.Authors)
	}
	if f.Title != "A study of retrieval systems" {
		t.Errorf("title = %q", f.Title)
	}
	if f.Venue != "Journal of IR" {
		t.Errorf("venue = %q", f.Venue)
	}
	if f.Year != 2020 {
		t.Errorf("year = %d", f.Year)
	}
}

func TestParseEntriesBlankLineStyle(t *testing.T) {
	section := "Vaswani, A. Attention is all you need. NeurIPS, 2017.\n\nHe, K. Deep residual learning. CVPR, 2016."
	raws := parseEntries(section)
	if len(raws) != 2 {
		t.Fatalf("entries = %d, want 2", len(raws))
	}
	if raws[0].Key != "" {
		t.Errorf("unkeyed entry has key %q", raws[0].Key)
	}
}

// --- section finding and contexts ---

func TestReferencesSection(t *testing.T) {
	md := `# Paper

Body text citing [1] here.

## References

[1] An entry.

## Appendix A

Extra material.`

	body, section := referencesSection(md)
	if !strings.Contains(section, "[1] An entry.") {
		t.Errorf("section = %q", section)
	}
	if strings.Contains(section, "Appendix") {
		t.Error("section swallowed the appendix")
	}
	if !strings.Contains(body, "citing [1] here") || strings.Contains(body, "An entry") {
		t.Errorf("body = %q", body)
	}

	if _, section := referencesSection("# Paper\n\nNo refs here."); section != "" {
		t.Errorf("section without references heading = %q", section)
	}
}

func TestCollectContexts(t *testing.T) {
	body := `Transformers changed NLP [1]. Residual connections help training [2, 3]. Several surveys cover the area [4-6]. More about transformers [1].`
	contexts := collectContexts(body)

	if len(contexts["1"]) != 2 {
		t.Errorf("contexts[1] = %v, want 2 sentences", contexts["1"])
	}
	if len(contexts["2"]) != 1 || !strings.Contains(contexts["2"][0], "Residual") {
		t.Errorf("contexts[2] = %v", contexts["2"])
	}
	for _, key := range []string{"4", "5", "6"} {
		if len(contexts[key]) != 1 {
			t.Errorf("range key %s contexts = %v", key, contexts[key])
		}
	}
}

// --- extraction ---

func TestExtractUsesModelOutput(t *testing.T) {
	md := "# Paper\n\nBody [1].\n\n## References\n\n[1] Vaswani, A. Attention is all you need. NeurIPS, 2017."

	llm := gateway.LLMFunc(func(ctx context.Context, req gateway.Completion) (string, error) {
		if !strings.Contains(req.Prompt, "Attention is all you need") {
			t.Error("prompt missing references section")
		}
		return "```json\n" + `[{"citation_text": "[1] Vaswani, A. Attention is all you need. NeurIPS, 2017.", "key": "1", "title": "Attention is all you need", "authors": ["Vaswani, A."], "year": 2017, "venue": "NeurIPS", "doi": "", "arxiv_id": ""}]` + "\n```", nil
	})

	e := NewExtractor(llm, types.LLMConfig{ExtractionModel: "claude-haiku-4-5"}, zap.NewNop())
	raws, err := e.Extract(context.Background(), md)
	if err != nil {
		t.Fatal(err)
	}
	if len(raws) != 1 {
		t.Fatalf("raws = %d, want 1", len(raws))
	}
	if raws[0].Fields.Title != "Attention is all you need" || raws[0].Key != "1" {
		t.Errorf("raw = %+v", raws[0])
	}
	if len(raws[0].Contexts) != 1 {
		t.Errorf("contexts = %v, want the citing sentence", raws[0].Contexts)
	}
}

func TestExtractFallsBackToPatterns(t *testing.T) {
	md := "# Paper\n\nBody.\n\n## References\n\n" + sampleRefs

	llm := gateway.LLMFunc(func(ctx context.Context, req gateway.Completion) (string, error) {
		return "I could not parse that.", nil
	})

	e := NewExtractor(llm, types.LLMConfig{}, zap.NewNop())
	raws, err := e.Extract(context.Background(), md)
	if err != nil {
		t.Fatal(err)
	}
	if len(raws) != 3 {
		t.Fatalf("fallback raws = %d, want 3", len(raws))
	}
}

func TestExtractNoReferencesSection(t *testing.T) {
	e := NewExtractor(gateway.LLMFunc(func(ctx context.Context, req gateway.Completion) (string, error) {
		t.Error("model called without a references section")
		return "", nil
	}), types.LLMConfig{}, zap.NewNop())

	raws, err := e.Extract(context.Background(), "# Paper\n\nNo bibliography.")
	if err != nil || raws != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", raws, err)
	}
}

// --- resolution chain ---

func TestResolveDOIAgainstLocalGraph(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	local := types.Paper{ID: "known-1", Title: "Known Work", DOI: "10.1000/known"}
	if err := store.UpsertPaper(ctx, local); err != nil {
		t.Fatal(err)
	}

	doiSvc := &fakeDOI{err: fmt.Errorf("should not be called")}
	r := NewResolver(store, doiSvc, nil, nil, nil, zap.NewNop())

	got, err := r.Resolve(ctx, citingPaper(), 1, []RawCitation{
		{Text: "[1] Known Work. doi:10.1000/known"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("citations = %d", len(got))
	}
	if got[0].CitedPaperID != "known-1" || got[0].Stage != types.StageDOI || got[0].Confidence != 1.0 {
		t.Errorf("citation = %+v", got[0])
	}
	if doiSvc.calls != 0 {
		t.Error("local DOI hit still queried the service")
	}
}

func TestResolveDOICreatesStub(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	work := &metadata.Work{
		Title: "External Work", Authors: []string{"Ext, E."},
		Year: 2021, DOI: "10.1000/ext",
	}
	r := NewResolver(store, &fakeDOI{work: work}, nil, nil, nil, zap.NewNop())

	got, err := r.Resolve(ctx, citingPaper(), 1, []RawCitation{
		{Text: "[1] Ext, E. External Work. 2021. doi:10.1000/ext",
			Fields: types.CitationFields{Title: "External Work", Year: 2021}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Stage != types.StageDOI {
		t.Fatalf("stage = %q", got[0].Stage)
	}

	stub, err := store.GetPaper(ctx, got[0].CitedPaperID)
	if err != nil {
		t.Fatal(err)
	}
	if !stub.Stub || stub.Title != "External Work" || stub.DOI != "10.1000/ext" {
		t.Errorf("stub = %+v", stub)
	}
}

func TestResolveDOIRejectsTitleMismatch(t *testing.T) {
	store := newTestStore(t)

	// The DOI service returns a completely different work; the misprinted
	// DOI must not win, and with no other evidence the citation stays
	// unresolved.
	work := &metadata.Work{Title: "Entirely Different Paper", Year: 1999, DOI: "10.1000/wrong"}
	r := NewResolver(store, &fakeDOI{work: work}, nil, nil, nil, zap.NewNop())

	got, err := r.Resolve(context.Background(), citingPaper(), 1, []RawCitation{
		{Text: "[1] Real Title Here. 2021. doi:10.1000/wrong",
			Fields: types.CitationFields{Title: "Real Title Here", Year: 2021}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Stage != types.StageUnresolved || got[0].Confidence != 0 {
		t.Errorf("citation = %+v, want unresolved", got[0])
	}
}

func TestResolveOpenAlexExactTitle(t *testing.T) {
	store := newTestStore(t)

	works := []metadata.Work{
		{Title: "An Unrelated Survey", Year: 2020, DOI: "10.1000/survey"},
		{Title: "Graph Neural Networks", Year: 2019, DOI: "10.1000/gnn", OpenAlexID: "W123"},
	}
	r := NewResolver(store, nil, &fakeTitle{works: works}, nil, nil, zap.NewNop())

	got, err := r.Resolve(context.Background(), citingPaper(), 1, []RawCitation{
		{Text: "[1] Graph Neural Networks. 2019.",
			Fields: types.CitationFields{Title: "Graph Neural Networks", Year: 2019}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Stage != types.StageOpenAlex || got[0].Confidence != 1.0 {
		t.Errorf("citation = %+v", got[0])
	}

	stub, err := store.GetPaper(context.Background(), got[0].CitedPaperID)
	if err != nil {
		t.Fatal(err)
	}
	if stub.DOI != "10.1000/gnn" {
		t.Errorf("stub = %+v, want the exact-title match", stub)
	}
}

func TestResolveOpenAlexRejectsAmbiguousMatches(t *testing.T) {
	store := newTestStore(t)

	// Two exact-title candidates with equal year agreement and both
	// carrying DOIs: no way to choose, stage falls through.
	works := []metadata.Work{
		{Title: "Common Title", Year: 2019, DOI: "10.1000/a"},
		{Title: "Common Title", Year: 2019, DOI: "10.1000/b"},
	}
	r := NewResolver(store, nil, &fakeTitle{works: works}, nil, nil, zap.NewNop())

	got, err := r.Resolve(context.Background(), citingPaper(), 1, []RawCitation{
		{Fields: types.CitationFields{Title: "Common Title", Year: 2019}, Text: "[1] Common Title. 2019."},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Stage != types.StageUnresolved {
		t.Errorf("stage = %q, want unresolved on ambiguity", got[0].Stage)
	}
}

func TestResolveArxivByID(t *testing.T) {
	store := newTestStore(t)

	work := &metadata.Work{Title: "BERT", ArxivID: "1810.04805", Year: 2018}
	r := NewResolver(store, nil, nil, &fakeArxiv{byID: work}, nil, zap.NewNop())

	got, err := r.Resolve(context.Background(), citingPaper(), 1, []RawCitation{
		{Text: "[2] Devlin, J. BERT. arXiv:1810.04805, 2018."},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Stage != types.StageArxiv || got[0].Confidence != 1.0 {
		t.Errorf("citation = %+v", got[0])
	}
	if got[0].Fields.ArxivID != "1810.04805" {
		t.Errorf("arxiv id not extracted from raw text: %+v", got[0].Fields)
	}
}

func TestResolveFuzzyAgainstLocalGraph(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	local := types.Paper{
		ID: "local-1", Title: "Attention Is All You Need",
		Authors: []string{"Vaswani, A.", "Shazeer, N."}, Year: 2017, Venue: "NeurIPS",
	}
	if err := store.UpsertPaper(ctx, local); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(store, nil, nil, nil, nil, zap.NewNop())
	got, err := r.Resolve(ctx, citingPaper(), 1, []RawCitation{
		{Text: "[1] Vaswani et al. Attention is all you need. NeurIPS 2017.",
			Fields: types.CitationFields{
				Title: "Attention is all you need", Authors: []string{"A. Vaswani", "N. Shazeer"},
				Year: 2017, Venue: "NeurIPS",
			}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Stage != types.StageFuzzy || got[0].CitedPaperID != "local-1" {
		t.Errorf("citation = %+v", got[0])
	}
	if got[0].Confidence < fuzzyThreshold || got[0].Confidence > 1.0 {
		t.Errorf("confidence = %v", got[0].Confidence)
	}
}

func TestResolveFuzzyRejectsNearTies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Two local papers identical in every scored field: perfect tie.
	for _, id := range []string{"twin-a", "twin-b"} {
		if err := store.UpsertPaper(ctx, types.Paper{
			ID: id, Title: "Twin Study", Authors: []string{"Smith, J."}, Year: 2020, Venue: "ICML",
		}); err != nil {
			t.Fatal(err)
		}
	}

	r := NewResolver(store, nil, nil, nil, nil, zap.NewNop())
	got, err := r.Resolve(ctx, citingPaper(), 1, []RawCitation{
		{Text: "[1] Smith. Twin Study. ICML 2020.",
			Fields: types.CitationFields{Title: "Twin Study", Authors: []string{"Smith, J."}, Year: 2020, Venue: "ICML"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Stage != types.StageUnresolved {
		t.Errorf("stage = %q, want unresolved for tied candidates", got[0].Stage)
	}
}

func TestResolveUnresolvableCitation(t *testing.T) {
	store := newTestStore(t)

	r := NewResolver(store, nil, nil, nil, nil, zap.NewNop())
	got, err := r.Resolve(context.Background(), citingPaper(), 1, []RawCitation{
		{Text: "Smith, Unknown Venue, 19??",
			Fields: types.CitationFields{Authors: []string{"Smith"}, Venue: "Unknown Venue"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Stage != types.StageUnresolved || got[0].Confidence != 0 || got[0].CitedPaperID != "" {
		t.Errorf("citation = %+v", got[0])
	}
}

func TestResolveDedupesByResolvedID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	local := types.Paper{ID: "known-1", Title: "Known Work", DOI: "10.1000/known"}
	if err := store.UpsertPaper(ctx, local); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(store, nil, nil, nil, nil, zap.NewNop())
	got, err := r.Resolve(ctx, citingPaper(), 1, []RawCitation{
		{Text: "[1] Known Work. doi:10.1000/known", Key: "1", Contexts: []string{"first use"}},
		{Text: "[17] K. Work (duplicate entry). doi:10.1000/known", Key: "17", Contexts: []string{"second use"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("citations = %d, want 1 after dedup", len(got))
	}
	if len(got[0].Contexts) != 2 {
		t.Errorf("contexts = %v, want both merged", got[0].Contexts)
	}
}

func TestResolveSkipsSelfCitation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	citing := citingPaper()
	if err := store.UpsertPaper(ctx, citing); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(store, nil, nil, nil, nil, zap.NewNop())
	got, err := r.Resolve(ctx, citing, 1, []RawCitation{
		{Text: "[1] The Citing Paper. doi:10.1000/citing"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].CitedPaperID != "" {
		t.Errorf("self-citation resolved to %q", got[0].CitedPaperID)
	}
}

func TestMarkInfluential(t *testing.T) {
	store := newTestStore(t)

	refs := []metadata.OutboundReference{
		{Work: metadata.Work{Title: "Influential Work", DOI: "10.1000/infl"}, IsInfluential: true},
		{Work: metadata.Work{Title: "Background Work", DOI: "10.1000/bg"}, IsInfluential: false},
	}
	r := NewResolver(store, nil, nil, nil, &fakeInfluence{refs: refs}, zap.NewNop())

	got, err := r.Resolve(context.Background(), citingPaper(), 1, []RawCitation{
		{Text: "[1] Influential Work.", Fields: types.CitationFields{Title: "Influential Work", DOI: "10.1000/infl"}},
		{Text: "[2] Background Work.", Fields: types.CitationFields{Title: "Background Work", DOI: "10.1000/bg"}},
		{Text: "[3] Unknown Work.", Fields: types.CitationFields{Title: "Unknown Work"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	byTitle := make(map[string]types.Citation)
	for _, c := range got {
		byTitle[c.Fields.Title] = c
	}
	if c := byTitle["Influential Work"]; !c.Influential || c.InfluenceProvider != influenceProvider {
		t.Errorf("influential citation = %+v", c)
	}
	if c := byTitle["Background Work"]; c.Influential || c.InfluenceProvider != influenceProvider {
		t.Errorf("background citation = %+v", c)
	}
	if c := byTitle["Unknown Work"]; c.InfluenceProvider != "" {
		t.Errorf("unmatched citation got provider %q", c.InfluenceProvider)
	}
}

func TestCitationIDStable(t *testing.T) {
	a := citationID("p1", 1, "[1] Some entry text.")
	b := citationID("p1", 1, "[1]  Some   entry text.")
	if a != b {
		t.Error("whitespace variation changed the citation id")
	}
	if citationID("p1", 2, "[1] Some entry text.") == a {
		t.Error("version change kept the citation id")
	}
	if citationID("p2", 1, "[1] Some entry text.") == a {
		t.Error("citing paper change kept the citation id")
	}
}
