package database

import (
	"database/sql"
	"errors"

	"danmuhub/models"
)

// RateLimitRepository persists rate-limit window counters. Checksum
// validation lives in the limiter; this layer just stores rows.
type RateLimitRepository struct {
	db *sql.DB
}

func (r *RateLimitRepository) Get(key string) (*models.RateLimitState, error) {
	row := r.db.QueryRow(
		`SELECT key, request_count, last_reset_time, checksum FROM rate_limit_state WHERE key = ?`, key)
	var s models.RateLimitState
	err := row.Scan(&s.Key, &s.RequestCount, &s.LastResetTime, &s.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RateLimitRepository) Put(s models.RateLimitState) error {
	_, err := r.db.Exec(
		`INSERT INTO rate_limit_state (key, request_count, last_reset_time, checksum) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET request_count = excluded.request_count,
			last_reset_time = excluded.last_reset_time, checksum = excluded.checksum`,
		s.Key, s.RequestCount, s.LastResetTime.UTC(), s.Checksum)
	return err
}

func (r *RateLimitRepository) List() ([]models.RateLimitState, error) {
	rows, err := r.db.Query(`SELECT key, request_count, last_reset_time, checksum FROM rate_limit_state ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RateLimitState
	for rows.Next() {
		var s models.RateLimitState
		if err := rows.Scan(&s.Key, &s.RequestCount, &s.LastResetTime, &s.Checksum); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *RateLimitRepository) Reset(key string) error {
	_, err := r.db.Exec(`DELETE FROM rate_limit_state WHERE key = ?`, key)
	return err
}

func (r *RateLimitRepository) ResetAll() error {
	_, err := r.db.Exec(`DELETE FROM rate_limit_state`)
	return err
}
