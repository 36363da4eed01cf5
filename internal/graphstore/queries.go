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

const queryColumns = `id, name, description, keywords, rubric, threshold,
	active, created_at, updated_at`

// SaveQuery inserts or updates a research query by id.
func (s *Store) SaveQuery(ctx context.Context, q types.ResearchQuery) error {
	if q.ID == "" || q.Name == "" {
		return types.Errorf(types.KindIntegrity, "research query needs id and name")
	}
	keywordsJSON, _ := json.Marshal(q.Keywords)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_queries (`+queryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			keywords = excluded.keywords,
			rubric = excluded.rubric,
			threshold = excluded.threshold,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		q.ID, q.Name, q.Description, string(keywordsJSON), q.Rubric,
		q.Threshold, q.Active, formatTime(q.CreatedAt), now(),
	)
	if err != nil {
		return fmt.Errorf("saving research query %s: %w", q.Name, err)
	}
	return nil
}

// GetQueryByName returns the research query with the given name.
func (s *Store) GetQueryByName(ctx context.Context, name string) (types.ResearchQuery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queryColumns+` FROM research_queries WHERE name = ?`, name)

	q, err := scanQuery(row)
	if err == sql.ErrNoRows {
		return types.ResearchQuery{}, types.Errorf(types.KindNotFound, "research query %q not found", name)
	}
	if err != nil {
		return types.ResearchQuery{}, fmt.Errorf("reading research query: %w", err)
	}
	return q, nil
}

// ListQueries returns research queries ordered by name. With activeOnly
// set, disabled queries are skipped.
func (s *Store) ListQueries(ctx context.Context, activeOnly bool) ([]types.ResearchQuery, error) {
	query := `SELECT ` + queryColumns + ` FROM research_queries`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing research queries: %w", err)
	}
	defer rows.Close()

	var queries []types.ResearchQuery
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning research query: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// SetQueryActive toggles a research query without touching its content.
func (s *Store) SetQueryActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_queries SET active = ?, updated_at = ? WHERE name = ?`,
		active, now(), name)
	if err != nil {
		return fmt.Errorf("toggling research query %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Errorf(types.KindNotFound, "research query %q not found", name)
	}
	return nil
}

// DeleteQuery removes a research query by name.
func (s *Store) DeleteQuery(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM research_queries WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting research query %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Errorf(types.KindNotFound, "research query %q not found", name)
	}
	return nil
}

func scanQuery(row rowScanner) (types.ResearchQuery, error) {
	var q types.ResearchQuery
	var keywordsJSON, createdAt, updatedAt string
	err := row.Scan(&q.ID, &q.Name, &q.Description, &keywordsJSON, &q.Rubric,
		&q.Threshold, &q.Active, &createdAt, &updatedAt)
	if err != nil {
		return types.ResearchQuery{}, err
	}
	json.Unmarshal([]byte(keywordsJSON), &q.Keywords)
	q.CreatedAt = parseTime(createdAt)
	q.UpdatedAt = parseTime(updatedAt)
	return q, nil
}

// DiscoveryCursor returns the last-seen publication date for one source
// and query. A pair that has never been polled yields the zero time.
func (s *Store) DiscoveryCursor(ctx context.Context, source, queryID string) (time.Time, error) {
	var lastSeen string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seen FROM discovery_cursors WHERE source = ? AND query_id = ?`,
		source, queryID).Scan(&lastSeen)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading discovery cursor: %w", err)
	}
	return parseTime(lastSeen), nil
}

// SetDiscoveryCursor records the newest publication date seen for one
// source and query. Callers only advance the cursor.
func (s *Store) SetDiscoveryCursor(ctx context.Context, source, queryID string, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_cursors (source, query_id, last_seen, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(source, query_id) DO UPDATE SET
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		source, queryID, formatTime(lastSeen), now())
	if err != nil {
		return fmt.Errorf("saving discovery cursor for %s: %w", source, err)
	}
	return nil
}
