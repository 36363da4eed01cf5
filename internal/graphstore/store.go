// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package graphstore persists the citation graph: papers, processing
// versions, citation edges, chunk metadata, research queries, and the
// ingestion failure ledger, all in one SQLite database. The relational
// rows are authoritative; the graph is a view over the citations table
// and the vector index is rebuildable from chunk rows.
package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const dbFile = "thoth.db"

// Store manages the thoth SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the database under dir and ensures the schema.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS papers (
			id TEXT PRIMARY KEY,
			doi TEXT NOT NULL DEFAULT '',
			arxiv_id TEXT NOT NULL DEFAULT '',
			openalex_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			authors TEXT NOT NULL DEFAULT '[]',
			year INTEGER NOT NULL DEFAULT 0,
			venue TEXT NOT NULL DEFAULT '',
			abstract TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			pdf_path TEXT NOT NULL DEFAULT '',
			pdf_sha256 TEXT NOT NULL DEFAULT '',
			markdown_path TEXT NOT NULL DEFAULT '',
			markdown_path_no_images TEXT NOT NULL DEFAULT '',
			embeddings_generated INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			stub INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_papers_doi ON papers(doi) WHERE doi != ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_papers_arxiv ON papers(arxiv_id) WHERE arxiv_id != ''`,
		`CREATE INDEX IF NOT EXISTS idx_papers_sha ON papers(pdf_sha256)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_status ON papers(status)`,
		`CREATE TABLE IF NOT EXISTS processing_versions (
			paper_id TEXT NOT NULL REFERENCES papers(id),
			version INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			markdown_path TEXT NOT NULL DEFAULT '',
			markdown_path_no_images TEXT NOT NULL DEFAULT '',
			prompt_version TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			config_digest TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL DEFAULT '',
			analysis TEXT NOT NULL DEFAULT '{}',
			is_active INTEGER NOT NULL DEFAULT 0,
			processed_at TEXT NOT NULL,
			PRIMARY KEY (paper_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_active ON processing_versions(paper_id, is_active)`,
		`CREATE TABLE IF NOT EXISTS citations (
			id TEXT PRIMARY KEY,
			paper_id TEXT NOT NULL REFERENCES papers(id),
			version INTEGER NOT NULL,
			raw TEXT NOT NULL,
			ref_key TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			authors TEXT NOT NULL DEFAULT '[]',
			year INTEGER NOT NULL DEFAULT 0,
			venue TEXT NOT NULL DEFAULT '',
			doi TEXT NOT NULL DEFAULT '',
			arxiv_id TEXT NOT NULL DEFAULT '',
			cited_paper_id TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			contexts TEXT NOT NULL DEFAULT '[]',
			influential INTEGER NOT NULL DEFAULT 0,
			influence_provider TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_citations_paper ON citations(paper_id, version)`,
		`CREATE INDEX IF NOT EXISTS idx_citations_cited ON citations(cited_paper_id)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			paper_id TEXT NOT NULL REFERENCES papers(id),
			version INTEGER NOT NULL,
			source_kind TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			heading TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE (paper_id, version, source_kind, ordinal)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_paper ON chunks(paper_id, version)`,
		`CREATE TABLE IF NOT EXISTS research_queries (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			keywords TEXT NOT NULL DEFAULT '[]',
			rubric TEXT NOT NULL DEFAULT '',
			threshold REAL NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS discovery_cursors (
			source TEXT NOT NULL,
			query_id TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (source, query_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_failures (
			pdf_sha256 TEXT PRIMARY KEY,
			pdf_path TEXT NOT NULL,
			paper_id TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			error_kind TEXT NOT NULL,
			message TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 1,
			first_failed_at TEXT NOT NULL,
			last_failed_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='chunk_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE chunk_fts USING fts5(text, heading, content=chunks, content_rowid=rowid)`,
			`CREATE TRIGGER chunks_ai AFTER INSERT ON chunks BEGIN
				INSERT INTO chunk_fts(rowid, text, heading) VALUES (new.rowid, new.text, new.heading);
			END`,
			`CREATE TRIGGER chunks_ad AFTER DELETE ON chunks BEGIN
				INSERT INTO chunk_fts(chunk_fts, rowid, text, heading) VALUES('delete', old.rowid, old.text, old.heading);
			END`,
			`CREATE TRIGGER chunks_au AFTER UPDATE ON chunks BEGIN
				INSERT INTO chunk_fts(chunk_fts, rowid, text, heading) VALUES('delete', old.rowid, old.text, old.heading);
				INSERT INTO chunk_fts(rowid, text, heading) VALUES (new.rowid, new.text, new.heading);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}

	return nil
}

// now returns the current UTC time in the column format.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// inTx runs fn inside a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
