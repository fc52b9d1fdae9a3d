package database

import (
	"database/sql"
	"errors"
	"time"
)

// CacheRepository is a TTL key/value store over sqlite. Values are opaque
// strings; callers JSON-encode what they need.
type CacheRepository struct {
	db *sql.DB
}

// Get returns the cached value, or ErrNotFound for missing or expired keys.
// Expired rows are deleted on read.
func (r *CacheRepository) Get(key string) (string, error) {
	row := r.db.QueryRow(`SELECT cache_value, expires_at FROM cache_data WHERE cache_key = ?`, key)
	var value string
	var expires time.Time
	err := row.Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if time.Now().UTC().After(expires) {
		_, _ = r.db.Exec(`DELETE FROM cache_data WHERE cache_key = ?`, key)
		return "", ErrNotFound
	}
	return value, nil
}

func (r *CacheRepository) Set(key, value string, ttl time.Duration) error {
	_, err := r.db.Exec(
		`INSERT INTO cache_data (cache_key, cache_value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET cache_value = excluded.cache_value, expires_at = excluded.expires_at`,
		key, value, time.Now().UTC().Add(ttl))
	return err
}

func (r *CacheRepository) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM cache_data WHERE cache_key = ?`, key)
	return err
}

// DeletePrefix removes every key under a namespace, e.g. "search:".
func (r *CacheRepository) DeletePrefix(prefix string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM cache_data WHERE cache_key LIKE ?`, prefix+"%")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Sweep drops expired rows; called periodically by the maintenance loop.
func (r *CacheRepository) Sweep() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM cache_data WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
