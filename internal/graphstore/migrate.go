// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// MigrateSummary counts path rewrites from one startup migration.
type MigrateSummary struct {
	PDFPaths      int
	MarkdownPaths int
	Unmatched     int
}

// MigratePaths rewrites legacy filename-only path columns to absolute
// paths by matching basenames against files under the given roots.
// Early releases stored bare filenames; everything downstream now
// expects absolute paths. Files that no longer exist on disk are left
// untouched and counted as unmatched.
func (s *Store) MigratePaths(ctx context.Context, pdfDir, markdownDir string) (MigrateSummary, error) {
	var summary MigrateSummary

	pdfIndex, err := basenameIndex(pdfDir)
	if err != nil {
		return summary, err
	}
	mdIndex, err := basenameIndex(markdownDir)
	if err != nil {
		return summary, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		n, unmatched, err := rewriteColumn(ctx, tx, "papers", "pdf_path", pdfIndex)
		if err != nil {
			return err
		}
		summary.PDFPaths += n
		summary.Unmatched += unmatched

		for _, col := range []string{"markdown_path", "markdown_path_no_images"} {
			for _, table := range []string{"papers", "processing_versions"} {
				n, unmatched, err := rewriteColumn(ctx, tx, table, col, mdIndex)
				if err != nil {
					return err
				}
				summary.MarkdownPaths += n
				summary.Unmatched += unmatched
			}
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	if summary.PDFPaths > 0 || summary.MarkdownPaths > 0 || summary.Unmatched > 0 {
		s.logger.Info("migrated legacy paths",
			zap.Int("pdf_paths", summary.PDFPaths),
			zap.Int("markdown_paths", summary.MarkdownPaths),
			zap.Int("unmatched", summary.Unmatched))
	}
	return summary, nil
}

// basenameIndex maps file basenames under root to absolute paths,
// walking subdirectories. Ambiguous basenames map to the empty string
// so migration skips them rather than guessing.
func basenameIndex(root string) (map[string]string, error) {
	index := make(map[string]string)
	if root == "" {
		return index, nil
	}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		name := d.Name()
		if _, seen := index[name]; seen {
			index[name] = ""
			return nil
		}
		index[name] = abs
		return nil
	})
	if os.IsNotExist(err) {
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", root, err)
	}
	return index, nil
}

// rewriteColumn fixes filename-only values in one table column. A
// value counts as filename-only when it contains no path separator.
func rewriteColumn(ctx context.Context, tx *sql.Tx, table, column string, index map[string]string) (rewritten, unmatched int, err error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT rowid, `+column+` FROM `+table+
			` WHERE `+column+` != '' AND instr(`+column+`, '/') = 0`)
	if err != nil {
		return 0, 0, fmt.Errorf("selecting legacy %s.%s: %w", table, column, err)
	}

	type fix struct {
		rowid int64
		path  string
	}
	var fixes []fix
	for rows.Next() {
		var rowid int64
		var value string
		if err := rows.Scan(&rowid, &value); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scanning legacy path: %w", err)
		}
		if abs, ok := index[value]; ok && abs != "" {
			fixes = append(fixes, fix{rowid: rowid, path: abs})
		} else {
			unmatched++
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, err
	}
	rows.Close()

	for _, f := range fixes {
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET `+column+` = ? WHERE rowid = ?`,
			f.path, f.rowid); err != nil {
			return rewritten, unmatched, fmt.Errorf("rewriting %s.%s: %w", table, column, err)
		}
		rewritten++
	}
	return rewritten, unmatched, nil
}

// RewritePathPrefix replaces oldPrefix with newPrefix in every stored
// path column, for workspaces moved wholesale to a new location.
func (s *Store) RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) (int, error) {
	if oldPrefix == "" {
		return 0, nil
	}
	if !strings.HasSuffix(oldPrefix, "/") {
		oldPrefix += "/"
	}
	if newPrefix != "" && !strings.HasSuffix(newPrefix, "/") {
		newPrefix += "/"
	}

	total := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		targets := []struct{ table, column string }{
			{"papers", "pdf_path"},
			{"papers", "markdown_path"},
			{"papers", "markdown_path_no_images"},
			{"processing_versions", "markdown_path"},
			{"processing_versions", "markdown_path_no_images"},
		}
		for _, t := range targets {
			res, err := tx.ExecContext(ctx,
				`UPDATE `+t.table+` SET `+t.column+` = ? || substr(`+t.column+`, ?)
				 WHERE `+t.column+` LIKE ? || '%'`,
				newPrefix, len(oldPrefix)+1, oldPrefix)
			if err != nil {
				return fmt.Errorf("rewriting prefix in %s.%s: %w", t.table, t.column, err)
			}
			n, _ := res.RowsAffected()
			total += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// VerifyReport summarizes consistency checks across the store.
type VerifyReport struct {
	Papers            int
	Versions          int
	ActiveVersions    int
	Chunks            int
	OrphanChunks      int
	DanglingCitations int
	StatusMismatches  int
	MissingFiles      []string
}

// Clean reports whether no check found a problem.
func (r VerifyReport) Clean() bool {
	return r.OrphanChunks == 0 && r.DanglingCitations == 0 &&
		r.StatusMismatches == 0 && len(r.MissingFiles) == 0
}

// Verify runs consistency checks: orphaned chunks, citations resolved
// to papers that no longer exist, processed papers without an active
// version, and stored paths whose files are gone.
func (s *Store) Verify(ctx context.Context) (VerifyReport, error) {
	var r VerifyReport

	counts := []struct {
		dest  *int
		query string
	}{
		{&r.Papers, `SELECT COUNT(*) FROM papers`},
		{&r.Versions, `SELECT COUNT(*) FROM processing_versions`},
		{&r.ActiveVersions, `SELECT COUNT(*) FROM processing_versions WHERE is_active = 1`},
		{&r.Chunks, `SELECT COUNT(*) FROM chunks`},
		{&r.OrphanChunks,
			`SELECT COUNT(*) FROM chunks c
			 LEFT JOIN processing_versions pv
				ON pv.paper_id = c.paper_id AND pv.version = c.version AND pv.is_active = 1
			 WHERE pv.paper_id IS NULL`},
		{&r.DanglingCitations,
			`SELECT COUNT(*) FROM citations c
			 LEFT JOIN papers p ON p.id = c.cited_paper_id
			 WHERE c.cited_paper_id != '' AND p.id IS NULL`},
		{&r.StatusMismatches,
			`SELECT COUNT(*) FROM papers p
			 WHERE p.status IN ('complete', 'partial') AND NOT EXISTS
				(SELECT 1 FROM processing_versions pv
				 WHERE pv.paper_id = p.id AND pv.is_active = 1)`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return r, fmt.Errorf("running verification query: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT pdf_path FROM papers WHERE pdf_path != '' AND stub = 0`)
	if err != nil {
		return r, fmt.Errorf("listing pdf paths: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return r, err
		}
		if _, err := os.Stat(path); err != nil {
			r.MissingFiles = append(r.MissingFiles, path)
		}
	}
	return r, rows.Err()
}
