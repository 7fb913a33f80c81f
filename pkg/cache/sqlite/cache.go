package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hublinks/hublinks/pkg/models"
)

// Cache is a string-keyed fragment cache backed by SQLite. Entries carry their
// own TTL and are ignored once expired.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS fragment_cache (
	cache_key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ttl_seconds INTEGER NOT NULL
);
`

// New creates a Cache with the given database path and default TTL.
func New(dbPath string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// Get retrieves a live entry. Missing and expired entries report false.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	var value []byte
	var createdAt time.Time
	var ttlSeconds int64

	err := c.db.QueryRowContext(ctx,
		`SELECT value, created_at, ttl_seconds FROM fragment_cache WHERE cache_key = ?`,
		key,
	).Scan(&value, &createdAt, &ttlSeconds)

	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	ttl := time.Duration(ttlSeconds) * time.Second
	if c.now().Sub(createdAt) >= ttl {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return value, true
}

// Set stores value under key, replacing any previous entry. A non-positive
// ttl falls back to the cache default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO fragment_cache (cache_key, value, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?)`,
		key, value, c.now().UTC(), seconds,
	)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Entry returns the stored entry for key, expired or not.
func (c *Cache) Entry(ctx context.Context, key string) (models.CacheEntry, error) {
	e := models.CacheEntry{Key: key}
	var ttlSeconds int64
	err := c.db.QueryRowContext(ctx,
		`SELECT value, created_at, ttl_seconds FROM fragment_cache WHERE cache_key = ?`,
		key,
	).Scan(&e.Value, &e.CreatedAt, &ttlSeconds)
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("cache entry %q: %w", key, err)
	}
	e.TTL = time.Duration(ttlSeconds) * time.Second
	return e, nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (models.CacheStats, error) {
	var count, expired int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM fragment_cache`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	err = c.db.QueryRow(
		`SELECT COUNT(*) FROM fragment_cache WHERE (julianday(?) - julianday(created_at)) * 86400 >= ttl_seconds`,
		c.now().UTC(),
	).Scan(&expired)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Expired: expired,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries
// are removed. It returns the number of rows deleted.
func (c *Cache) Clear(expiredOnly bool) (int64, error) {
	var res sql.Result
	var err error
	if expiredOnly {
		res, err = c.db.Exec(
			`DELETE FROM fragment_cache WHERE (julianday(?) - julianday(created_at)) * 86400 >= ttl_seconds`,
			c.now().UTC(),
		)
	} else {
		res, err = c.db.Exec(`DELETE FROM fragment_cache`)
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
