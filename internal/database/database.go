// Package database owns the sqlite connection and the repository types the
// services read and write through. Schema lives in embedded goose
// migrations.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps the sql handle together with the repositories.
type DB struct {
	conn *sql.DB

	Anime     *AnimeRepository
	Tasks     *TaskRepository
	RateLimit *RateLimitRepository
	Cache     *CacheRepository
	Tokens    *TokenRepository
}

// Open opens (creating if needed) the sqlite database at path and runs
// pending migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_fk=1&_journal=WAL&_busy_timeout=5000&_loc=UTC", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite tolerates one writer; a single connection sidesteps SQLITE_BUSY
	// under concurrent task workers.
	conn.SetMaxOpenConns(1)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	db.Anime = &AnimeRepository{db: conn}
	db.Tasks = &TaskRepository{db: conn}
	db.RateLimit = &RateLimitRepository{db: conn}
	db.Cache = &CacheRepository{db: conn}
	db.Tokens = &TokenRepository{db: conn}
	return db, nil
}

func migrate(conn *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Printf("[database] schema up to date")
	return nil
}

// Conn exposes the raw handle for backup export.
func (d *DB) Conn() *sql.DB { return d.conn }

func (d *DB) Close() error { return d.conn.Close() }
