// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pdiddy/thoth/pkg/types"
)

const versionColumns = `paper_id, version, content_hash, markdown_path,
	markdown_path_no_images, prompt_version, model_id, config_digest,
	strategy, analysis, is_active, processed_at`

// NextVersion returns the version number the next processing run of
// paperID should use.
func (s *Store) NextVersion(ctx context.Context, paperID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM processing_versions WHERE paper_id = ?`,
		paperID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("reading max version for %s: %w", paperID, err)
	}
	return int(max.Int64) + 1, nil
}

// CreateVersion records a new inactive processing version. The caller
// indexes its chunks and then flips it live with ActivateVersion.
func (s *Store) CreateVersion(ctx context.Context, v types.ProcessingVersion) error {
	if v.PaperID == "" || v.Version <= 0 {
		return types.Errorf(types.KindIntegrity, "version row needs paper id and version > 0")
	}
	analysisJSON, err := json.Marshal(v.Analysis)
	if err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO processing_versions (`+versionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		v.PaperID, v.Version, v.ContentHash, v.MarkdownPath,
		v.MarkdownPathNoImages, v.PromptVersion, v.ModelID, v.ConfigDigest,
		string(v.Strategy), string(analysisJSON), formatTime(v.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("creating version %d for %s: %w", v.Version, v.PaperID, err)
	}
	return nil
}

// ActivateVersion makes the given version the single active one for the
// paper and syncs the paper row from its analysis. It returns the
// previously active version number, or 0 if none existed. Activating a
// version older than the current active one fails with Conflict, which
// signals a concurrent re-process won the race.
func (s *Store) ActivateVersion(ctx context.Context, paperID string, version int) (int, error) {
	var prev int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		v, err := getVersionWhere(ctx, tx, "paper_id = ? AND version = ?", paperID, version)
		if err != nil {
			return err
		}

		var current sql.NullInt64
		err = tx.QueryRowContext(ctx,
			`SELECT version FROM processing_versions WHERE paper_id = ? AND is_active = 1`,
			paperID).Scan(&current)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("reading active version for %s: %w", paperID, err)
		}
		if current.Valid {
			if int(current.Int64) > version {
				return types.Errorf(types.KindConflict,
					"version %d of %s is superseded by active version %d",
					version, paperID, current.Int64)
			}
			prev = int(current.Int64)
			if prev == version {
				prev = 0
				return nil
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE processing_versions SET is_active = 0 WHERE paper_id = ? AND is_active = 1`,
			paperID); err != nil {
			return fmt.Errorf("deactivating versions for %s: %w", paperID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE processing_versions SET is_active = 1 WHERE paper_id = ? AND version = ?`,
			paperID, version); err != nil {
			return fmt.Errorf("activating version %d for %s: %w", version, paperID, err)
		}

		// The paper row mirrors the active version: complete status,
		// markdown paths, and tags derived from the analysis topics.
		tagsJSON, _ := json.Marshal(append([]string{}, v.Analysis.Topics...))
		if _, err := tx.ExecContext(ctx,
			`UPDATE papers SET status = ?, stub = 0, markdown_path = ?,
				markdown_path_no_images = ?, tags = ?, updated_at = ?
			 WHERE id = ?`,
			string(types.StatusComplete), v.MarkdownPath, v.MarkdownPathNoImages,
			string(tagsJSON), now(), paperID); err != nil {
			return fmt.Errorf("syncing paper %s from version %d: %w", paperID, version, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return prev, nil
}

// ActiveVersion returns the active processing version for a paper.
func (s *Store) ActiveVersion(ctx context.Context, paperID string) (types.ProcessingVersion, error) {
	return getVersionWhere(ctx, s.db, "paper_id = ? AND is_active = 1", paperID)
}

// GetVersion returns one specific processing version.
func (s *Store) GetVersion(ctx context.Context, paperID string, version int) (types.ProcessingVersion, error) {
	return getVersionWhere(ctx, s.db, "paper_id = ? AND version = ?", paperID, version)
}

// ListVersions returns all processing versions for a paper, newest first.
func (s *Store) ListVersions(ctx context.Context, paperID string) ([]types.ProcessingVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM processing_versions
		 WHERE paper_id = ? ORDER BY version DESC`, paperID)
	if err != nil {
		return nil, fmt.Errorf("listing versions for %s: %w", paperID, err)
	}
	defer rows.Close()

	var versions []types.ProcessingVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func getVersionWhere(ctx context.Context, q queryer, where string, args ...any) (types.ProcessingVersion, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM processing_versions WHERE `+where, args...)

	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return types.ProcessingVersion{}, types.Errorf(types.KindNotFound, "processing version not found")
	}
	if err != nil {
		return types.ProcessingVersion{}, fmt.Errorf("reading version: %w", err)
	}
	return v, nil
}

func scanVersion(row rowScanner) (types.ProcessingVersion, error) {
	var v types.ProcessingVersion
	var strategy, analysisJSON, processedAt string
	err := row.Scan(
		&v.PaperID, &v.Version, &v.ContentHash, &v.MarkdownPath,
		&v.MarkdownPathNoImages, &v.PromptVersion, &v.ModelID, &v.ConfigDigest,
		&strategy, &analysisJSON, &v.Active, &processedAt,
	)
	if err != nil {
		return types.ProcessingVersion{}, err
	}
	v.Strategy = types.AnalysisStrategy(strategy)
	json.Unmarshal([]byte(analysisJSON), &v.Analysis)
	v.ProcessedAt = parseTime(processedAt)
	return v, nil
}

// PrunedVersion identifies a removed version row and the workspace
// files that backed it, so callers can clean those up too.
type PrunedVersion struct {
	PaperID              string
	Version              int
	MarkdownPath         string
	MarkdownPathNoImages string
}

// PruneInactiveVersions deletes inactive versions processed before the
// cutoff, together with any chunks still attached to them. The cutoff
// comparison happens in Go because stored RFC3339Nano strings do not
// sort chronologically once trailing zeros are trimmed.
func (s *Store) PruneInactiveVersions(ctx context.Context, olderThan time.Time) ([]PrunedVersion, error) {
	var pruned []PrunedVersion
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT paper_id, version, markdown_path, markdown_path_no_images, processed_at
			 FROM processing_versions
			 WHERE is_active = 0
			 ORDER BY paper_id, version`)
		if err != nil {
			return fmt.Errorf("selecting prunable versions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var pv PrunedVersion
			var processedAt string
			if err := rows.Scan(&pv.PaperID, &pv.Version, &pv.MarkdownPath, &pv.MarkdownPathNoImages, &processedAt); err != nil {
				return fmt.Errorf("scanning prunable version: %w", err)
			}
			if !parseTime(processedAt).Before(olderThan) {
				continue
			}
			pruned = append(pruned, pv)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, pv := range pruned {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM chunks WHERE paper_id = ? AND version = ?`,
				pv.PaperID, pv.Version); err != nil {
				return fmt.Errorf("deleting chunks for %s v%d: %w", pv.PaperID, pv.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM citations WHERE paper_id = ? AND version = ?`,
				pv.PaperID, pv.Version); err != nil {
				return fmt.Errorf("deleting citations for %s v%d: %w", pv.PaperID, pv.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM processing_versions WHERE paper_id = ? AND version = ?`,
				pv.PaperID, pv.Version); err != nil {
				return fmt.Errorf("deleting version %s v%d: %w", pv.PaperID, pv.Version, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pruned, nil
}
