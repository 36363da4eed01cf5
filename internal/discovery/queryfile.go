// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/pkg/types"
)

// maxRecordedAcceptances bounds the acceptance history kept per query
// file; older entries roll off.
const maxRecordedAcceptances = 200

// QueryFile is the on-disk form of one research query. The relational
// store stays authoritative for the definition; the file additionally
// carries the most recent acceptances so the researcher can review what
// a query has been pulling in.
type QueryFile struct {
	Query    types.ResearchQuery `yaml:"query"`
	Accepted []Acceptance        `yaml:"accepted,omitempty"`
}

// Acceptance records one candidate a query accepted.
type Acceptance struct {
	Title      string             `yaml:"title"`
	SourceID   string             `yaml:"source_id,omitempty"`
	Source     string             `yaml:"source"`
	Score      float64            `yaml:"score"`
	Method     types.FilterMethod `yaml:"method"`
	Reason     string             `yaml:"reason,omitempty"`
	Path       string             `yaml:"path,omitempty"`
	AcceptedAt time.Time          `yaml:"accepted_at"`
}

// ReadQueryFile loads a query file from disk.
func ReadQueryFile(path string) (QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return QueryFile{}, fmt.Errorf("reading query file: %w", err)
	}
	var qf QueryFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return QueryFile{}, types.Errorf(types.KindSchemaViolation, "parsing query file %s: %v", filepath.Base(path), err)
	}
	return qf, nil
}

// WriteQueryFile saves a query file to disk, creating parent directories
// as needed.
func WriteQueryFile(path string, qf QueryFile) error {
	data, err := yaml.Marshal(&qf)
	if err != nil {
		return fmt.Errorf("encoding query file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating query directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ImportQuery loads a query file and saves its definition into the
// store, deriving the ID from the name when the file omits it. Recorded
// acceptances in the file are ignored; they are output, not input.
func ImportQuery(ctx context.Context, store *graphstore.Store, path string) (types.ResearchQuery, error) {
	qf, err := ReadQueryFile(path)
	if err != nil {
		return types.ResearchQuery{}, err
	}

	q := qf.Query
	if q.Name == "" {
		return types.ResearchQuery{}, types.Errorf(types.KindSchemaViolation, "query file %s has no name", filepath.Base(path))
	}
	if q.ID == "" {
		q.ID = types.QueryID(q.Name)
	}
	if err := store.SaveQuery(ctx, q); err != nil {
		return types.ResearchQuery{}, err
	}
	return q, nil
}

// ExportQuery writes the named query's definition to path.
func ExportQuery(ctx context.Context, store *graphstore.Store, name, path string) error {
	q, err := store.GetQueryByName(ctx, name)
	if err != nil {
		return err
	}
	return WriteQueryFile(path, QueryFile{Query: q})
}
