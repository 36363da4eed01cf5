// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pdiddy/thoth/pkg/types"
)

const citationColumns = `id, paper_id, version, raw, ref_key, title, authors,
	year, venue, doi, arxiv_id, cited_paper_id, stage, confidence, contexts,
	influential, influence_provider`

// ReplaceCitations swaps the stored citation set for one processing
// version. Re-running extraction on the same version is idempotent.
func (s *Store) ReplaceCitations(ctx context.Context, paperID string, version int, citations []types.Citation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM citations WHERE paper_id = ? AND version = ?`,
			paperID, version); err != nil {
			return fmt.Errorf("clearing citations for %s v%d: %w", paperID, version, err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO citations (`+citationColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing citation insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range citations {
			authorsJSON, _ := json.Marshal(c.Fields.Authors)
			contextsJSON, _ := json.Marshal(c.Contexts)
			if _, err := stmt.ExecContext(ctx,
				c.ID, paperID, version, c.Raw, c.Key, c.Fields.Title,
				string(authorsJSON), c.Fields.Year, c.Fields.Venue,
				c.Fields.DOI, c.Fields.ArxivID, c.CitedPaperID,
				string(c.Stage), c.Confidence, string(contextsJSON),
				c.Influential, c.InfluenceProvider,
			); err != nil {
				return fmt.Errorf("inserting citation %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// Citations returns the citation set of one processing version in
// insertion order.
func (s *Store) Citations(ctx context.Context, paperID string, version int) ([]types.Citation, error) {
	return s.queryCitations(ctx,
		`SELECT `+citationColumns+` FROM citations
		 WHERE paper_id = ? AND version = ? ORDER BY rowid`,
		paperID, version)
}

// ActiveCitations returns the citations of the paper's active version.
func (s *Store) ActiveCitations(ctx context.Context, paperID string) ([]types.Citation, error) {
	return s.queryCitations(ctx,
		`SELECT `+citationColumns+` FROM citations c
		 WHERE c.paper_id = ? AND c.version =
			(SELECT version FROM processing_versions
			 WHERE paper_id = c.paper_id AND is_active = 1)
		 ORDER BY c.rowid`,
		paperID)
}

// CitedBy returns citations from active versions of other papers that
// resolve to the given paper.
func (s *Store) CitedBy(ctx context.Context, paperID string) ([]types.Citation, error) {
	return s.queryCitations(ctx,
		`SELECT `+citationColumns+` FROM citations c
		 WHERE c.cited_paper_id = ? AND c.version =
			(SELECT version FROM processing_versions
			 WHERE paper_id = c.paper_id AND is_active = 1)
		 ORDER BY c.paper_id, c.rowid`,
		paperID)
}

func (s *Store) queryCitations(ctx context.Context, query string, args ...any) ([]types.Citation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying citations: %w", err)
	}
	defer rows.Close()

	var citations []types.Citation
	for rows.Next() {
		c, err := scanCitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning citation: %w", err)
		}
		citations = append(citations, c)
	}
	return citations, rows.Err()
}

func scanCitation(row rowScanner) (types.Citation, error) {
	var c types.Citation
	var authorsJSON, contextsJSON, stage string
	err := row.Scan(
		&c.ID, &c.PaperID, &c.Version, &c.Raw, &c.Key, &c.Fields.Title,
		&authorsJSON, &c.Fields.Year, &c.Fields.Venue, &c.Fields.DOI,
		&c.Fields.ArxivID, &c.CitedPaperID, &stage, &c.Confidence,
		&contextsJSON, &c.Influential, &c.InfluenceProvider,
	)
	if err != nil {
		return types.Citation{}, err
	}
	json.Unmarshal([]byte(authorsJSON), &c.Fields.Authors)
	json.Unmarshal([]byte(contextsJSON), &c.Contexts)
	c.Stage = types.ResolutionStage(stage)
	return c, nil
}

// Direction selects which citation edges Neighbors follows.
type Direction string

const (
	// DirOut follows references made by the paper.
	DirOut Direction = "out"
	// DirIn follows papers citing the paper.
	DirIn Direction = "in"
	// DirBoth follows edges either way.
	DirBoth Direction = "both"
)

// Neighbor is a paper reached by walking citation edges, annotated with
// its distance from the start paper.
type Neighbor struct {
	Paper types.Paper
	Depth int
}

// Neighbors walks resolved citation edges from start, breadth first, up
// to depth hops. Only edges belonging to active processing versions
// count. The start paper itself is not included.
func (s *Store) Neighbors(ctx context.Context, start string, dir Direction, depth int) ([]Neighbor, error) {
	if depth <= 0 {
		depth = 1
	}
	if _, err := s.GetPaper(ctx, start); err != nil {
		return nil, err
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}
	var result []Neighbor

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			adjacent, err := s.adjacentIDs(ctx, id, dir)
			if err != nil {
				return nil, err
			}
			for _, adj := range adjacent {
				if visited[adj] {
					continue
				}
				visited[adj] = true
				p, err := s.GetPaper(ctx, adj)
				if err != nil {
					if types.KindOf(err) == types.KindNotFound {
						continue
					}
					return nil, err
				}
				result = append(result, Neighbor{Paper: p, Depth: d})
				next = append(next, adj)
			}
		}
		frontier = next
	}
	return result, nil
}

func (s *Store) adjacentIDs(ctx context.Context, paperID string, dir Direction) ([]string, error) {
	var ids []string
	if dir == DirOut || dir == DirBoth {
		out, err := s.edgeTargets(ctx,
			`SELECT DISTINCT c.cited_paper_id FROM citations c
			 JOIN processing_versions pv
				ON pv.paper_id = c.paper_id AND pv.version = c.version AND pv.is_active = 1
			 WHERE c.paper_id = ? AND c.cited_paper_id != ''`,
			paperID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, out...)
	}
	if dir == DirIn || dir == DirBoth {
		in, err := s.edgeTargets(ctx,
			`SELECT DISTINCT c.paper_id FROM citations c
			 JOIN processing_versions pv
				ON pv.paper_id = c.paper_id AND pv.version = c.version AND pv.is_active = 1
			 WHERE c.cited_paper_id = ?`,
			paperID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, in...)
	}
	return ids, nil
}

func (s *Store) edgeTargets(ctx context.Context, query, paperID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, paperID)
	if err != nil {
		return nil, fmt.Errorf("walking citation edges: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning edge target: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
