// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pdiddy/thoth/pkg/types"
)

// ReplaceChunks swaps the stored chunk set for one source kind of a
// processing version. The FTS index follows through the sync triggers.
func (s *Store) ReplaceChunks(ctx context.Context, paperID string, version int, kind types.ChunkSource, chunks []types.Chunk) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE paper_id = ? AND version = ? AND source_kind = ?`,
			paperID, version, string(kind)); err != nil {
			return fmt.Errorf("clearing chunks for %s v%d: %w", paperID, version, err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (id, paper_id, version, source_kind, ordinal, heading, text, token_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx,
				c.ID, paperID, version, string(kind), c.Seq, c.Heading, c.Text, c.TokenCount,
			); err != nil {
				return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// ChunksFor returns the chunks of one source kind for a processing
// version, in document order.
func (s *Store) ChunksFor(ctx context.Context, paperID string, version int, kind types.ChunkSource) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, paper_id, version, source_kind, ordinal, heading, text, token_count
		 FROM chunks
		 WHERE paper_id = ? AND version = ? AND source_kind = ?
		 ORDER BY ordinal`,
		paperID, version, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing chunks for %s v%d: %w", paperID, version, err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// DeleteChunks removes all chunks of one processing version.
func (s *Store) DeleteChunks(ctx context.Context, paperID string, version int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE paper_id = ? AND version = ?`, paperID, version)
	if err != nil {
		return fmt.Errorf("deleting chunks for %s v%d: %w", paperID, version, err)
	}
	return nil
}

// OrphanChunks returns chunk IDs whose version is no longer active,
// left behind by a crash between indexing and activation. The startup
// sweep feeds these to the vector index for removal.
func (s *Store) OrphanChunks(ctx context.Context) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.paper_id, c.version, c.source_kind, c.ordinal, c.heading, c.text, c.token_count
		 FROM chunks c
		 LEFT JOIN processing_versions pv
			ON pv.paper_id = c.paper_id AND pv.version = c.version AND pv.is_active = 1
		 WHERE pv.paper_id IS NULL
		 ORDER BY c.paper_id, c.version, c.ordinal`)
	if err != nil {
		return nil, fmt.Errorf("finding orphan chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

func collectChunks(rows *sql.Rows) ([]types.Chunk, error) {
	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		var kind string
		if err := rows.Scan(&c.ID, &c.PaperID, &c.Version, &kind, &c.Seq, &c.Heading, &c.Text, &c.TokenCount); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.SourceKind = types.ChunkSource(kind)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SearchFilter narrows lexical search to papers matching structured
// criteria. Zero values mean no restriction.
type SearchFilter struct {
	Tags       []string
	YearFrom   int
	YearTo     int
	Status     types.PaperStatus
	PaperIDs   []string
	SourceKind types.ChunkSource
}

// Empty reports whether the filter restricts nothing.
func (f SearchFilter) Empty() bool {
	return len(f.Tags) == 0 && f.YearFrom == 0 && f.YearTo == 0 &&
		f.Status == "" && len(f.PaperIDs) == 0 && f.SourceKind == ""
}

// ChunkHit is a chunk matched by lexical search, ranked best first.
type ChunkHit struct {
	types.Chunk
	PaperTitle string  `json:"paper_title" yaml:"paper_title"`
	Rank       float64 `json:"rank" yaml:"rank"`
}

// LexicalSearch runs a full-text query over chunks of active processing
// versions. The query is broken into terms and quoted, so FTS operator
// characters in user input cannot break the match expression.
func (s *Store) LexicalSearch(ctx context.Context, query string, filter SearchFilter, limit int) ([]ChunkHit, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var qb strings.Builder
	var args []any

	qb.WriteString(
		`SELECT c.id, c.paper_id, c.version, c.source_kind, c.ordinal,
			c.heading, c.text, c.token_count, p.title, chunk_fts.rank
		FROM chunk_fts
		JOIN chunks c ON c.rowid = chunk_fts.rowid
		JOIN processing_versions pv
			ON pv.paper_id = c.paper_id AND pv.version = c.version AND pv.is_active = 1
		JOIN papers p ON p.id = c.paper_id
		WHERE chunk_fts MATCH ?`)
	args = append(args, match)

	for _, tag := range filter.Tags {
		qb.WriteString(` AND EXISTS (SELECT 1 FROM json_each(p.tags) WHERE value = ?)`)
		args = append(args, tag)
	}
	if filter.YearFrom != 0 {
		qb.WriteString(` AND p.year >= ?`)
		args = append(args, filter.YearFrom)
	}
	if filter.YearTo != 0 {
		qb.WriteString(` AND p.year <= ? AND p.year != 0`)
		args = append(args, filter.YearTo)
	}
	if filter.Status != "" {
		qb.WriteString(` AND p.status = ?`)
		args = append(args, string(filter.Status))
	}
	if filter.SourceKind != "" {
		qb.WriteString(` AND c.source_kind = ?`)
		args = append(args, string(filter.SourceKind))
	}
	if len(filter.PaperIDs) > 0 {
		qb.WriteString(` AND c.paper_id IN (?` + strings.Repeat(", ?", len(filter.PaperIDs)-1) + `)`)
		for _, id := range filter.PaperIDs {
			args = append(args, id)
		}
	}

	qb.WriteString(` ORDER BY chunk_fts.rank LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		var kind string
		if err := rows.Scan(&h.ID, &h.PaperID, &h.Version, &kind, &h.Seq,
			&h.Heading, &h.Text, &h.TokenCount, &h.PaperTitle, &h.Rank); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		h.SourceKind = types.ChunkSource(kind)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// PaperIDsMatching resolves the filter's paper-level criteria to a set
// of paper IDs. The dense half of hybrid search narrows its candidates
// with this set, mirroring the SQL the lexical half applies inline.
func (s *Store) PaperIDsMatching(ctx context.Context, filter SearchFilter) ([]string, error) {
	var qb strings.Builder
	var args []any
	qb.WriteString(`SELECT id FROM papers WHERE 1=1`)

	for _, tag := range filter.Tags {
		qb.WriteString(` AND EXISTS (SELECT 1 FROM json_each(tags) WHERE value = ?)`)
		args = append(args, tag)
	}
	if filter.YearFrom != 0 {
		qb.WriteString(` AND year >= ?`)
		args = append(args, filter.YearFrom)
	}
	if filter.YearTo != 0 {
		qb.WriteString(` AND year <= ? AND year != 0`)
		args = append(args, filter.YearTo)
	}
	if filter.Status != "" {
		qb.WriteString(` AND status = ?`)
		args = append(args, string(filter.Status))
	}
	if len(filter.PaperIDs) > 0 {
		qb.WriteString(` AND id IN (?` + strings.Repeat(", ?", len(filter.PaperIDs)-1) + `)`)
		for _, id := range filter.PaperIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("matching papers for search filter: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning paper id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ftsMatchExpr turns free-form input into a safe FTS5 match expression:
// each whitespace-separated term becomes a quoted token, AND-joined.
func ftsMatchExpr(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}
