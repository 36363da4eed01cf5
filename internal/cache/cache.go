// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache is the content-addressed artifact store. Expensive
// derivations (OCR output, analyses, embeddings, metadata responses,
// answers) are keyed by a digest of their canonical inputs and kept in
// SQLite with a per-kind TTL. Concurrent builds of the same key collapse
// to one via singleflight.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pdiddy/thoth/pkg/types"
)

const dbFile = "cache.db"

// Artifact kinds. TTLFor maps each to its configured TTL.
const (
	KindOCR       = "ocr"
	KindAnalysis  = "analysis"
	KindEmbedding = "embedding"
	KindMetadata  = "metadata"
	KindAnswer    = "answer"
)

// Cache is a persistent keyed artifact store.
type Cache struct {
	db     *sql.DB
	logger *zap.Logger
	group  singleflight.Group

	mu      sync.Mutex
	hits    int64
	misses  int64
	evicted int64
}

// Open creates or opens the cache database under dir.
func Open(dir string, logger *zap.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	c := &Cache{db: db, logger: logger}
	if err := c.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return c, nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			data BLOB NOT NULL,
			size INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_expires ON artifacts(expires_at)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Key derives a cache key from an artifact kind and the canonical inputs
// that determine the artifact's content. Any input change yields a new key.
func Key(kind string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the artifact for key, or ok=false on a miss. An expired
// entry counts as a miss and is evicted in place.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	var expiresAt sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM artifacts WHERE key = ?`, key,
	).Scan(&data, &expiresAt)
	if err == sql.ErrNoRows {
		c.count(&c.misses)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading artifact: %w", err)
	}

	if expiresAt.Valid {
		exp, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err == nil && time.Now().After(exp) {
			if _, err := c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key); err != nil {
				c.logger.Warn("evicting expired artifact", zap.String("key", key), zap.Error(err))
			} else {
				c.count(&c.evicted)
			}
			c.count(&c.misses)
			return nil, false, nil
		}
	}

	c.count(&c.hits)
	return data, true, nil
}

// Put stores an artifact under key. A ttl of zero stores it without
// expiry. An existing entry is replaced.
func (c *Cache) Put(ctx context.Context, key, kind string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	var expiresAt any
	if ttl > 0 {
		expiresAt = now.Add(ttl).Format(time.RFC3339Nano)
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO artifacts (key, kind, data, size, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			kind=excluded.kind, data=excluded.data, size=excluded.size,
			created_at=excluded.created_at, expires_at=excluded.expires_at`,
		key, kind, data, len(data), now.Format(time.RFC3339Nano), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("storing artifact: %w", err)
	}
	return nil
}

// GetOrBuild returns the cached artifact for key, building and storing it
// on a miss. Concurrent callers for the same key share one build; build
// failures are returned to every waiter and nothing is cached.
func (c *Cache) GetOrBuild(ctx context.Context, key, kind string, ttl time.Duration, build func(context.Context) ([]byte, error)) ([]byte, error) {
	if data, ok, err := c.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return data, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another flight may have completed between the miss and here.
		if data, ok, err := c.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return data, nil
		}

		data, err := build(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, key, kind, data, ttl); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate removes the artifact for key. Missing keys are a no-op.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("invalidating artifact: %w", err)
	}
	return nil
}

// InvalidateKind removes every artifact of the given kind and returns
// how many were deleted.
func (c *Cache) InvalidateKind(ctx context.Context, kind string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE kind = ?`, kind)
	if err != nil {
		return 0, fmt.Errorf("invalidating %s artifacts: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting invalidated artifacts: %w", err)
	}
	return n, nil
}

// Sweep removes every expired entry and returns how many were deleted.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired artifacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting swept artifacts: %w", err)
	}
	if n > 0 {
		c.mu.Lock()
		c.evicted += n
		c.mu.Unlock()
		c.logger.Info("swept expired artifacts", zap.Int64("count", n))
	}
	return n, nil
}

// Stats reports counter values and current table totals.
type Stats struct {
	Hits    int64
	Misses  int64
	Evicted int64
	Entries int64
	Bytes   int64
}

// Stats returns hit/miss/eviction counters for this process plus entry and
// byte totals from the table.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	st := Stats{Hits: c.hits, Misses: c.misses, Evicted: c.evicted}
	c.mu.Unlock()

	err := c.db.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(sum(size), 0) FROM artifacts`,
	).Scan(&st.Entries, &st.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("reading cache totals: %w", err)
	}
	return st, nil
}

func (c *Cache) count(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// TTLFor maps an artifact kind to its configured TTL, falling back to the
// default for kinds without an explicit setting.
func TTLFor(cfg types.CacheConfig, kind string) time.Duration {
	var ttl time.Duration
	switch kind {
	case KindOCR:
		ttl = cfg.OCRTTL
	case KindAnalysis:
		ttl = cfg.AnalysisTTL
	case KindEmbedding:
		ttl = cfg.EmbeddingTTL
	case KindMetadata:
		ttl = cfg.MetadataTTL
	case KindAnswer:
		ttl = cfg.AnswerTTL
	}
	if ttl == 0 {
		ttl = cfg.DefaultTTL
	}
	return ttl
}
