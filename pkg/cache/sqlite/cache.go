package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/aigate/pkg/cache"
	"github.com/pario-ai/aigate/pkg/models"
)

// Backend is a cache.Backend stored in a SQLite table.
type Backend struct {
	db *sql.DB
}

var _ cache.Backend = (*Backend)(nil)

// created_at holds Unix nanoseconds so conditional updates compare exactly.
const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY,
	feature TEXT NOT NULL,
	response BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	hits INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_cache_feature ON cache_entries(feature);
`

// New opens (or creates) the cache table at dbPath.
func New(dbPath string) (*Backend, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Backend{db: db}, nil
}

// Load returns the entry stored under key.
func (b *Backend) Load(ctx context.Context, key models.Fingerprint) (*models.CacheEntry, error) {
	var (
		entry     = models.CacheEntry{Key: key}
		createdAt int64
		metadata  string
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT feature, response, created_at, hits, metadata FROM cache_entries WHERE cache_key = ?`,
		string(key),
	).Scan(&entry.Feature, &entry.Response, &createdAt, &entry.Hits, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	entry.CreatedAt = time.Unix(0, createdAt).UTC()
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata %s: %w", key, err)
		}
	}
	return &entry, nil
}

// Hit increments the hit count of key if it was created at createdAt.
func (b *Backend) Hit(ctx context.Context, key models.Fingerprint, createdAt time.Time) (uint64, bool, error) {
	var hits uint64
	err := b.db.QueryRowContext(ctx,
		`UPDATE cache_entries SET hits = hits + 1 WHERE cache_key = ? AND created_at = ? RETURNING hits`,
		string(key), createdAt.UnixNano(),
	).Scan(&hits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("hit %s: %w", key, err)
	}
	return hits, true, nil
}

// Put stores entry, replacing any previous entry for the same key.
func (b *Backend) Put(ctx context.Context, entry *models.CacheEntry) error {
	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO cache_entries (cache_key, feature, response, created_at, hits, metadata)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
			feature = excluded.feature,
			response = excluded.response,
			created_at = excluded.created_at,
			hits = 0,
			metadata = excluded.metadata`,
		string(entry.Key), entry.Feature, []byte(entry.Response), entry.CreatedAt.UnixNano(), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", entry.Key, err)
	}
	return nil
}

// Expire deletes key if it was created at createdAt.
func (b *Backend) Expire(ctx context.Context, key models.Fingerprint, createdAt time.Time) (bool, error) {
	n, err := b.exec(ctx, `DELETE FROM cache_entries WHERE cache_key = ? AND created_at = ?`, string(key), createdAt.UnixNano())
	return n > 0, err
}

// DeleteKey removes key.
func (b *Backend) DeleteKey(ctx context.Context, key models.Fingerprint) (int64, error) {
	return b.exec(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, string(key))
}

// DeleteFeature removes every entry of feature.
func (b *Backend) DeleteFeature(ctx context.Context, feature string) (int64, error) {
	return b.exec(ctx, `DELETE FROM cache_entries WHERE feature = ?`, feature)
}

// DeleteAll empties the cache.
func (b *Backend) DeleteAll(ctx context.Context) (int64, error) {
	return b.exec(ctx, `DELETE FROM cache_entries`)
}

func (b *Backend) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cache delete: %w", err)
	}
	return res.RowsAffected()
}

// List returns metadata for all entries, oldest first.
func (b *Backend) List(ctx context.Context) ([]models.CacheEntryInfo, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT cache_key, feature, created_at, hits FROM cache_entries ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	defer rows.Close()

	var out []models.CacheEntryInfo
	for rows.Next() {
		var (
			info      models.CacheEntryInfo
			key       string
			createdAt int64
		)
		if err := rows.Scan(&key, &info.Feature, &createdAt, &info.Hits); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		info.Key = models.Fingerprint(key)
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}
