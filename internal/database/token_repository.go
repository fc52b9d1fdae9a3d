package database

import (
	"database/sql"
	"errors"
	"time"

	"danmuhub/models"
)

// TokenRepository stores the bearer tokens that gate the compat API.
type TokenRepository struct {
	db *sql.DB
}

func (r *TokenRepository) Insert(t *models.APIToken) (int64, error) {
	var expires any
	if t.ExpiresAt != nil {
		expires = t.ExpiresAt.UTC()
	}
	res, err := r.db.Exec(
		`INSERT INTO api_tokens (name, token, enabled, expires_at) VALUES (?, ?, ?, ?)`,
		t.Name, t.Token, boolInt(t.Enabled), expires)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

// Validate returns the token row when it exists, is enabled and unexpired,
// bumping its access counter.
func (r *TokenRepository) Validate(token string) (*models.APIToken, error) {
	t, err := r.getBy(`token = ?`, token)
	if err != nil {
		return nil, err
	}
	if !t.Enabled {
		return nil, ErrNotFound
	}
	if t.ExpiresAt != nil && time.Now().UTC().After(*t.ExpiresAt) {
		return nil, ErrNotFound
	}
	_, _ = r.db.Exec(`UPDATE api_tokens SET access_count = access_count + 1 WHERE id = ?`, t.ID)
	return t, nil
}

func (r *TokenRepository) Get(id int64) (*models.APIToken, error) {
	return r.getBy(`id = ?`, id)
}

func (r *TokenRepository) List() ([]models.APIToken, error) {
	rows, err := r.db.Query(
		`SELECT id, name, token, enabled, created_at, expires_at, access_count FROM api_tokens ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.APIToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TokenRepository) SetEnabled(id int64, enabled bool) error {
	_, err := r.db.Exec(`UPDATE api_tokens SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	return err
}

func (r *TokenRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM api_tokens WHERE id = ?`, id)
	return err
}

func (r *TokenRepository) getBy(where string, arg any) (*models.APIToken, error) {
	row := r.db.QueryRow(
		`SELECT id, name, token, enabled, created_at, expires_at, access_count FROM api_tokens WHERE `+where, arg)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func scanToken(s rowScanner) (*models.APIToken, error) {
	var t models.APIToken
	var enabled int
	var expires sql.NullTime
	if err := s.Scan(&t.ID, &t.Name, &t.Token, &enabled, &t.CreatedAt, &expires, &t.AccessCount); err != nil {
		return nil, err
	}
	t.Enabled = enabled != 0
	if expires.Valid {
		e := expires.Time
		t.ExpiresAt = &e
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
