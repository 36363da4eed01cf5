// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pdiddy/thoth/pkg/types"
)

// IngestionFailure is one row of the failure ledger, keyed by PDF
// content hash so repeated failures of the same file accumulate.
type IngestionFailure struct {
	PDFSHA256     string          `json:"pdf_sha256" yaml:"pdf_sha256"`
	PDFPath       string          `json:"pdf_path" yaml:"pdf_path"`
	PaperID       string          `json:"paper_id,omitempty" yaml:"paper_id,omitempty"`
	Stage         string          `json:"stage" yaml:"stage"`
	ErrorKind     types.ErrorKind `json:"error_kind" yaml:"error_kind"`
	Message       string          `json:"message" yaml:"message"`
	Attempts      int             `json:"attempts" yaml:"attempts"`
	FirstFailedAt time.Time       `json:"first_failed_at" yaml:"first_failed_at"`
	LastFailedAt  time.Time       `json:"last_failed_at" yaml:"last_failed_at"`
}

// RecordFailure upserts a ledger row for the PDF, bumping the attempt
// counter when the same file fails again.
func (s *Store) RecordFailure(ctx context.Context, f IngestionFailure) error {
	if f.PDFSHA256 == "" {
		return types.Errorf(types.KindIntegrity, "failure record has no pdf hash")
	}
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_failures
			(pdf_sha256, pdf_path, paper_id, stage, error_kind, message,
			 attempts, first_failed_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(pdf_sha256) DO UPDATE SET
			pdf_path = excluded.pdf_path,
			paper_id = excluded.paper_id,
			stage = excluded.stage,
			error_kind = excluded.error_kind,
			message = excluded.message,
			attempts = attempts + 1,
			last_failed_at = excluded.last_failed_at`,
		f.PDFSHA256, f.PDFPath, f.PaperID, f.Stage, string(f.ErrorKind),
		f.Message, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("recording ingestion failure: %w", err)
	}
	return nil
}

// ClearFailure drops the ledger row after a successful ingest.
func (s *Store) ClearFailure(ctx context.Context, pdfSHA256 string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM ingestion_failures WHERE pdf_sha256 = ?`, pdfSHA256)
	if err != nil {
		return fmt.Errorf("clearing ingestion failure: %w", err)
	}
	return nil
}

// Failure returns the ledger row for one PDF.
func (s *Store) Failure(ctx context.Context, pdfSHA256 string) (IngestionFailure, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT pdf_sha256, pdf_path, paper_id, stage, error_kind, message,
			attempts, first_failed_at, last_failed_at
		 FROM ingestion_failures WHERE pdf_sha256 = ?`, pdfSHA256)

	f, err := scanFailure(row)
	if err == sql.ErrNoRows {
		return IngestionFailure{}, types.Errorf(types.KindNotFound, "no failure recorded for %s", pdfSHA256)
	}
	if err != nil {
		return IngestionFailure{}, fmt.Errorf("reading ingestion failure: %w", err)
	}
	return f, nil
}

// Failures returns the ledger, most recent failure first.
func (s *Store) Failures(ctx context.Context) ([]IngestionFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pdf_sha256, pdf_path, paper_id, stage, error_kind, message,
			attempts, first_failed_at, last_failed_at
		 FROM ingestion_failures ORDER BY last_failed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing ingestion failures: %w", err)
	}
	defer rows.Close()

	var failures []IngestionFailure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ingestion failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func scanFailure(row rowScanner) (IngestionFailure, error) {
	var f IngestionFailure
	var kind, first, last string
	err := row.Scan(&f.PDFSHA256, &f.PDFPath, &f.PaperID, &f.Stage, &kind,
		&f.Message, &f.Attempts, &first, &last)
	if err != nil {
		return IngestionFailure{}, err
	}
	f.ErrorKind = types.ErrorKind(kind)
	f.FirstFailedAt = parseTime(first)
	f.LastFailedAt = parseTime(last)
	return f, nil
}
