// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pdiddy/thoth/pkg/types"
)

const paperColumns = `id, doi, arxiv_id, openalex_id, title, authors, year, venue,
	abstract, tags, pdf_path, pdf_sha256, markdown_path, markdown_path_no_images,
	embeddings_generated, status, stub, created_at, updated_at`

// UpsertPaper inserts p or merges it into the existing row. Incoming
// fields win where set; empty incoming fields keep the stored value. A
// stub upsert never downgrades a full paper back to a stub.
func (s *Store) UpsertPaper(ctx context.Context, p types.Paper) error {
	if p.ID == "" {
		return types.Errorf(types.KindIntegrity, "paper has no id")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := getPaperWhere(ctx, tx, "id = ?", p.ID)
		switch {
		case err == nil:
			p = mergePaper(existing, p)
			return updatePaper(ctx, tx, p)
		case types.KindOf(err) == types.KindNotFound:
			return insertPaper(ctx, tx, p)
		default:
			return err
		}
	})
}

func insertPaper(ctx context.Context, tx *sql.Tx, p types.Paper) error {
	if p.Status == "" {
		p.Status = types.StatusPending
	}
	authorsJSON, _ := json.Marshal(p.Authors)
	tagsJSON, _ := json.Marshal(p.Tags)

	_, err := tx.ExecContext(ctx,
		`INSERT INTO papers (`+paperColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DOI, p.ArxivID, p.OpenAlexID, p.Title, string(authorsJSON),
		p.Year, p.Venue, p.Abstract, string(tagsJSON), p.PDFPath, p.PDFSHA256,
		p.MarkdownPath, p.MarkdownPathNoImages, p.EmbeddingsGenerated,
		string(p.Status), p.Stub, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting paper %s: %w", p.ID, err)
	}
	return nil
}

func updatePaper(ctx context.Context, tx *sql.Tx, p types.Paper) error {
	authorsJSON, _ := json.Marshal(p.Authors)
	tagsJSON, _ := json.Marshal(p.Tags)

	_, err := tx.ExecContext(ctx,
		`UPDATE papers SET doi=?, arxiv_id=?, openalex_id=?, title=?, authors=?,
			year=?, venue=?, abstract=?, tags=?, pdf_path=?, pdf_sha256=?,
			markdown_path=?, markdown_path_no_images=?, embeddings_generated=?,
			status=?, stub=?, updated_at=?
		 WHERE id=?`,
		p.DOI, p.ArxivID, p.OpenAlexID, p.Title, string(authorsJSON),
		p.Year, p.Venue, p.Abstract, string(tagsJSON), p.PDFPath, p.PDFSHA256,
		p.MarkdownPath, p.MarkdownPathNoImages, p.EmbeddingsGenerated,
		string(p.Status), p.Stub, now(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating paper %s: %w", p.ID, err)
	}
	return nil
}

// mergePaper folds incoming into existing field by field.
func mergePaper(existing, in types.Paper) types.Paper {
	out := existing
	if in.DOI != "" {
		out.DOI = in.DOI
	}
	if in.ArxivID != "" {
		out.ArxivID = in.ArxivID
	}
	if in.OpenAlexID != "" {
		out.OpenAlexID = in.OpenAlexID
	}
	if in.Title != "" {
		out.Title = in.Title
	}
	if len(in.Authors) > 0 {
		out.Authors = in.Authors
	}
	if in.Year != 0 {
		out.Year = in.Year
	}
	if in.Venue != "" {
		out.Venue = in.Venue
	}
	if in.Abstract != "" {
		out.Abstract = in.Abstract
	}
	if len(in.Tags) > 0 {
		out.Tags = in.Tags
	}
	if in.PDFPath != "" {
		out.PDFPath = in.PDFPath
	}
	if in.PDFSHA256 != "" {
		out.PDFSHA256 = in.PDFSHA256
	}
	if in.MarkdownPath != "" {
		out.MarkdownPath = in.MarkdownPath
	}
	if in.MarkdownPathNoImages != "" {
		out.MarkdownPathNoImages = in.MarkdownPathNoImages
	}
	if in.EmbeddingsGenerated {
		out.EmbeddingsGenerated = true
	}
	// A stub upsert over a full paper keeps the full paper's status.
	if in.Status != "" && !(in.Stub && !existing.Stub) {
		out.Status = in.Status
	}
	out.Stub = existing.Stub && in.Stub
	return out
}

// GetPaper returns the paper with the given id.
func (s *Store) GetPaper(ctx context.Context, id string) (types.Paper, error) {
	return getPaperWhere(ctx, s.db, "id = ?", id)
}

// FindByDOI returns the paper with the given normalized DOI.
func (s *Store) FindByDOI(ctx context.Context, doi string) (types.Paper, error) {
	return getPaperWhere(ctx, s.db, "doi = ?", doi)
}

// FindByArxivID returns the paper with the given arXiv identifier.
func (s *Store) FindByArxivID(ctx context.Context, arxivID string) (types.Paper, error) {
	return getPaperWhere(ctx, s.db, "arxiv_id = ?", arxivID)
}

// FindBySHA256 returns the paper whose PDF has the given content hash.
func (s *Store) FindBySHA256(ctx context.Context, sha string) (types.Paper, error) {
	return getPaperWhere(ctx, s.db, "pdf_sha256 = ?", sha)
}

// queryer lets paper reads run against either the pool or a transaction.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getPaperWhere(ctx context.Context, q queryer, where string, args ...any) (types.Paper, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+paperColumns+` FROM papers WHERE `+where, args...)

	p, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return types.Paper{}, types.Errorf(types.KindNotFound, "paper not found")
	}
	if err != nil {
		return types.Paper{}, fmt.Errorf("reading paper: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (types.Paper, error) {
	var p types.Paper
	var authorsJSON, tagsJSON, status, createdAt, updatedAt string
	err := row.Scan(
		&p.ID, &p.DOI, &p.ArxivID, &p.OpenAlexID, &p.Title, &authorsJSON,
		&p.Year, &p.Venue, &p.Abstract, &tagsJSON, &p.PDFPath, &p.PDFSHA256,
		&p.MarkdownPath, &p.MarkdownPathNoImages, &p.EmbeddingsGenerated,
		&status, &p.Stub, &createdAt, &updatedAt,
	)
	if err != nil {
		return types.Paper{}, err
	}

	json.Unmarshal([]byte(authorsJSON), &p.Authors)
	json.Unmarshal([]byte(tagsJSON), &p.Tags)
	p.Status = types.PaperStatus(status)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// Filter narrows ListPapers results. Zero values mean no restriction.
type Filter struct {
	Status       types.PaperStatus
	Tag          string
	YearFrom     int
	YearTo       int
	TitleLike    string
	IncludeStubs bool
}

// ListPapers returns papers matching the filter, newest first.
func (s *Store) ListPapers(ctx context.Context, f Filter) ([]types.Paper, error) {
	var qb strings.Builder
	var args []any

	qb.WriteString(`SELECT ` + paperColumns + ` FROM papers WHERE 1=1`)
	if !f.IncludeStubs {
		qb.WriteString(` AND stub = 0`)
	}
	if f.Status != "" {
		qb.WriteString(` AND status = ?`)
		args = append(args, string(f.Status))
	}
	if f.Tag != "" {
		qb.WriteString(` AND EXISTS (SELECT 1 FROM json_each(tags) WHERE value = ?)`)
		args = append(args, f.Tag)
	}
	if f.YearFrom != 0 {
		qb.WriteString(` AND year >= ?`)
		args = append(args, f.YearFrom)
	}
	if f.YearTo != 0 {
		qb.WriteString(` AND year <= ? AND year != 0`)
		args = append(args, f.YearTo)
	}
	if f.TitleLike != "" {
		qb.WriteString(` AND title LIKE ?`)
		args = append(args, "%"+f.TitleLike+"%")
	}
	qb.WriteString(` ORDER BY created_at DESC`)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	defer rows.Close()

	var papers []types.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning paper: %w", err)
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// SetStatus updates a paper's pipeline status.
func (s *Store) SetStatus(ctx context.Context, id string, status types.PaperStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE papers SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now(), id)
	if err != nil {
		return fmt.Errorf("setting status for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Errorf(types.KindNotFound, "paper %s not found", id)
	}
	return nil
}

// DeletePaper removes a paper and everything derived from it: versions,
// chunks, and outgoing citations. Inbound citations from other papers
// are reverted to unresolved rather than deleted.
func (s *Store) DeletePaper(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := getPaperWhere(ctx, tx, "id = ?", id); err != nil {
			return err
		}

		steps := []struct {
			desc  string
			query string
			args  []any
		}{
			{"deleting chunks", `DELETE FROM chunks WHERE paper_id = ?`, []any{id}},
			{"deleting citations", `DELETE FROM citations WHERE paper_id = ?`, []any{id}},
			{"unresolving inbound citations",
				`UPDATE citations SET cited_paper_id = '', stage = ?, confidence = 0 WHERE cited_paper_id = ?`,
				[]any{string(types.StageUnresolved), id}},
			{"deleting versions", `DELETE FROM processing_versions WHERE paper_id = ?`, []any{id}},
			{"deleting failure records", `DELETE FROM ingestion_failures WHERE paper_id = ?`, []any{id}},
			{"deleting paper", `DELETE FROM papers WHERE id = ?`, []any{id}},
		}
		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
				return fmt.Errorf("%s for %s: %w", step.desc, id, err)
			}
		}
		return nil
	})
}
