package tool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache persists PokeAPI responses across restarts.
type SQLiteCache struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewSQLiteCache opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteCache(dbPath string, ttl time.Duration, logger *slog.Logger) (*SQLiteCache, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrateCache(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteCache{db: db, ttl: ttl, now: time.Now, logger: logger}, nil
}

func migrateCache(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pokeapi_cache (
			url        TEXT PRIMARY KEY,
			body       BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pokeapi_cache_expires ON pokeapi_cache(expires_at);
	`)
	return err
}

func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool) {
	var body []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT body FROM pokeapi_cache WHERE url = ? AND expires_at > ?",
		key, c.now().UnixNano(),
	).Scan(&body)
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Warn("cache read failed", "url", key, "error", err)
		}
		return nil, false
	}
	return body, true
}

func (c *SQLiteCache) Set(ctx context.Context, key string, body []byte) {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO pokeapi_cache (url, body, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET body = excluded.body, expires_at = excluded.expires_at`,
		key, body, c.now().Add(c.ttl).UnixNano(),
	)
	if err != nil {
		c.logger.Warn("cache write failed", "url", key, "error", err)
	}
}

func (c *SQLiteCache) Prune(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM pokeapi_cache WHERE expires_at <= ?", c.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the underlying database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

var _ Cache = (*SQLiteCache)(nil)
