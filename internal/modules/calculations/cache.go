// Package calculations provides a SQLite-backed cache for expensive
// portfolio computations (covariance matrices, frontier sweeps, datasets).
package calculations

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mcportfolio/mcportfolio/internal/database"
)

// TTLs per calculation kind.
const (
	// TTLDataset - price-derived datasets refresh daily
	TTLDataset = 24 * time.Hour
	// TTLOptimizer - optimizer outputs are cheap to regenerate but hot in bursts
	TTLOptimizer = 1 * time.Hour
)

const schema = `
CREATE TABLE IF NOT EXISTS calculations (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);

CREATE INDEX IF NOT EXISTS idx_calculations_expires ON calculations(expires_at);
`

// Cache is a namespaced blob cache with per-entry TTLs.
type Cache struct {
	db  *database.DB
	log zerolog.Logger
}

// New creates the cache and applies its schema.
func New(db *database.DB, log zerolog.Logger) (*Cache, error) {
	if err := db.Migrate(schema); err != nil {
		return nil, fmt.Errorf("failed to migrate calculations schema: %w", err)
	}

	return &Cache{
		db:  db,
		log: log.With().Str("module", "calculations").Logger(),
	}, nil
}

// Get returns the cached value for (namespace, key) if present and unexpired.
func (c *Cache) Get(namespace, key string) ([]byte, bool) {
	var value []byte
	err := c.db.QueryRow(
		`SELECT value FROM calculations WHERE namespace = ? AND key = ? AND expires_at > ?`,
		namespace, key, time.Now().Unix(),
	).Scan(&value)
	if err != nil {
		return nil, false
	}
	return value, true
}

// Set stores a value for (namespace, key) with the given TTL.
func (c *Cache) Set(namespace, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := c.db.Exec(
		`INSERT INTO calculations (namespace, key, value, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET
		   value = excluded.value,
		   expires_at = excluded.expires_at,
		   created_at = excluded.created_at`,
		namespace, key, value, now.Add(ttl).Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store calculation %s/%s: %w", namespace, key, err)
	}
	return nil
}

// GetInto fetches and msgpack-decodes a cached value into dst.
func (c *Cache) GetInto(namespace, key string, dst interface{}) bool {
	data, ok := c.Get(namespace, key)
	if !ok {
		return false
	}
	if err := msgpack.Unmarshal(data, dst); err != nil {
		c.log.Warn().Err(err).Str("namespace", namespace).Msg("Failed to decode cached value, ignoring")
		return false
	}
	return true
}

// SetFrom msgpack-encodes src and caches it.
func (c *Cache) SetFrom(namespace, key string, src interface{}, ttl time.Duration) error {
	data, err := msgpack.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s/%s: %w", namespace, key, err)
	}
	return c.Set(namespace, key, data, ttl)
}

// PruneExpired deletes expired entries. Returns the number removed.
func (c *Cache) PruneExpired() (int64, error) {
	res, err := c.db.Exec(`DELETE FROM calculations WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired calculations: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		c.log.Debug().Int64("pruned", n).Msg("Pruned expired calculations")
	}
	return n, nil
}

// HashTickers builds a deterministic cache key from a ticker set.
// Tickers are sorted so the key is order-independent.
func HashTickers(tickers []string) string {
	sorted := make([]string, len(tickers))
	copy(sorted, tickers)
	sort.Strings(sorted)

	h := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h[:])
}
