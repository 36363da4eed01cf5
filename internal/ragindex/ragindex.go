// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ragindex provides hybrid retrieval over paper bodies and
// generated notes. Dense vectors live in an embedded chromem collection
// persisted next to the graph store; lexical matching rides the store's
// FTS index; the two candidate lists fuse by reciprocal rank.
package ragindex

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/pdiddy/thoth/internal/cache"
	"github.com/pdiddy/thoth/internal/gateway"
	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/internal/splitter"
	"github.com/pdiddy/thoth/pkg/types"
)

const (
	collectionName = "chunks"
	vectorsDir     = "vectors"

	defaultChunkSize = 1000
	defaultOverlap   = 200
	defaultTopK      = 8
	defaultRRFK      = 60
)

// Chunk metadata keys in the vector collection. The collection carries
// everything needed to rebuild a types.Chunk, so dense hits do not need
// a relational round trip.
const (
	metaPaperID = "paper_id"
	metaVersion = "version"
	metaSource  = "source_kind"
	metaSeq     = "seq"
	metaHeading = "heading"
	metaTokens  = "token_count"
)

// Index is the hybrid retrieval index over one workspace.
type Index struct {
	collection  *chromem.Collection
	store       *graphstore.Store
	cache       *cache.Cache
	embedder    gateway.Embedder
	llm         gateway.LLM
	answerModel string
	answerTTL   time.Duration
	logger      *zap.Logger

	chunkSize int
	overlap   int
	topK      int
	rrfK      int
}

// Open loads or creates the persistent vector collection under dir and
// binds it to the graph store. The embedder supplies chunk and query
// vectors; llm answers retrieval-augmented questions with answerModel,
// cached in c for answerTTL.
func Open(dir string, store *graphstore.Store, c *cache.Cache, embedder gateway.Embedder, llm gateway.LLM, answerModel string, cfg types.RAGConfig, answerTTL time.Duration, logger *zap.Logger) (*Index, error) {
	db, err := chromem.NewPersistentDB(filepath.Join(dir, vectorsDir), true)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("opening vector collection: %w", err)
	}

	ix := &Index{
		collection:  collection,
		store:       store,
		cache:       c,
		embedder:    embedder,
		llm:         llm,
		answerModel: answerModel,
		answerTTL:   answerTTL,
		logger:      logger,
		chunkSize:   cfg.ChunkSize,
		overlap:     cfg.ChunkOverlap,
		topK:        cfg.TopK,
		rrfK:        cfg.RRFK,
	}
	if ix.chunkSize <= 0 {
		ix.chunkSize = defaultChunkSize
	}
	if ix.overlap <= 0 {
		ix.overlap = defaultOverlap
	}
	if ix.topK <= 0 {
		ix.topK = defaultTopK
	}
	if ix.rrfK <= 0 {
		ix.rrfK = defaultRRFK
	}

	logger.Info("vector collection ready",
		zap.String("embedder", embedder.Name()),
		zap.Int("documents", collection.Count()))
	return ix, nil
}

// IndexMarkdown chunks one markdown variant of a processing version and
// writes the chunks to both stores: vectors into the chromem collection,
// rows (and through them the FTS mirror) into the graph store. Indexing
// the same (paper, version, kind) again replaces the previous set, so a
// partially failed run heals on retry.
func (ix *Index) IndexMarkdown(ctx context.Context, paperID string, version int, kind types.ChunkSource, markdown string) ([]types.Chunk, error) {
	var chunks []types.Chunk
	for _, piece := range splitter.Split(markdown, ix.chunkSize, ix.overlap) {
		if figureOnly(piece.Text) {
			continue
		}
		chunks = append(chunks, types.Chunk{
			ID:         uuid.NewString(),
			PaperID:    paperID,
			Version:    version,
			SourceKind: kind,
			Seq:        len(chunks),
			Heading:    splitter.JoinHeadings(piece.Headings),
			Text:       piece.Text,
			TokenCount: piece.Tokens,
		})
	}

	// Clear any previous vectors for this set before adding, keyed by
	// metadata rather than IDs; chunk IDs change on every run.
	where := map[string]string{
		metaPaperID: paperID,
		metaVersion: strconv.Itoa(version),
		metaSource:  string(kind),
	}
	if err := ix.collection.Delete(ctx, where, nil); err != nil {
		return nil, fmt.Errorf("clearing vectors for %s v%d: %w", paperID, version, err)
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding %d chunks for %s v%d: %w", len(chunks), paperID, version, err)
		}
		if len(vectors) != len(chunks) {
			return nil, fmt.Errorf("embedding %d chunks for %s v%d: got %d vectors", len(chunks), paperID, version, len(vectors))
		}

		docs := make([]chromem.Document, len(chunks))
		for i, c := range chunks {
			docs[i] = chromem.Document{
				ID: c.ID,
				Metadata: map[string]string{
					metaPaperID: c.PaperID,
					metaVersion: strconv.Itoa(c.Version),
					metaSource:  string(c.SourceKind),
					metaSeq:     strconv.Itoa(c.Seq),
					metaHeading: c.Heading,
					metaTokens:  strconv.Itoa(c.TokenCount),
				},
				Embedding: vectors[i],
				Content:   c.Text,
			}
		}
		if err := ix.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("adding vectors for %s v%d: %w", paperID, version, err)
		}
	}

	if err := ix.store.ReplaceChunks(ctx, paperID, version, kind, chunks); err != nil {
		return nil, err
	}

	ix.logger.Debug("indexed markdown",
		zap.String("paper_id", paperID),
		zap.Int("version", version),
		zap.String("source_kind", string(kind)),
		zap.Int("chunks", len(chunks)))
	return chunks, nil
}

// RemoveVersion deletes a processing version's chunks from the vector
// collection and the relational store. Activation calls this for the
// superseded version; pruning calls it for expired ones.
func (ix *Index) RemoveVersion(ctx context.Context, paperID string, version int) error {
	where := map[string]string{
		metaPaperID: paperID,
		metaVersion: strconv.Itoa(version),
	}
	if err := ix.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("deleting vectors for %s v%d: %w", paperID, version, err)
	}
	return ix.store.DeleteChunks(ctx, paperID, version)
}

// RemoveOrphans sweeps chunks whose version never activated, left by a
// crash between indexing and activation. Run it at startup, before the
// pipeline begins accepting documents; once workers run, in-flight
// versions are indistinguishable from orphans.
func (ix *Index) RemoveOrphans(ctx context.Context) (int, error) {
	orphans, err := ix.store.OrphanChunks(ctx)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	ids := make([]string, len(orphans))
	for i, c := range orphans {
		ids[i] = c.ID
	}
	if err := ix.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("deleting orphan vectors: %w", err)
	}

	type versionKey struct {
		paperID string
		version int
	}
	seen := make(map[versionKey]bool)
	for _, c := range orphans {
		k := versionKey{c.PaperID, c.Version}
		if seen[k] {
			continue
		}
		seen[k] = true
		if err := ix.store.DeleteChunks(ctx, c.PaperID, c.Version); err != nil {
			return 0, err
		}
	}

	ix.logger.Info("removed orphan chunks",
		zap.Int("chunks", len(ids)),
		zap.Int("versions", len(seen)))
	return len(ids), nil
}

var imageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)

// figureOnly reports whether a chunk carries no prose: only image
// links, table markup, or markup fragments. Embedding those yields
// noise vectors that surface as junk hits.
func figureOnly(text string) bool {
	s := imageRe.ReplaceAllString(text, "")
	var prose []string
	for _, line := range strings.Split(s, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "|") || strings.HasPrefix(t, "<") {
			continue
		}
		prose = append(prose, t)
	}
	for _, r := range strings.Join(prose, " ") {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
