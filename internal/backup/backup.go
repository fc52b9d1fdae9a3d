// Package backup exports and restores the whole database as a gzip'd JSON
// document, portable across installs.
package backup

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"
)

// FormatVersion identifies the archive layout.
const FormatVersion = 1

// tables in dependency order, parents first so import can insert in order
// and delete in reverse.
var tables = []string{
	"anime",
	"anime_sources",
	"episode",
	"anime_metadata",
	"anime_aliases",
	"tmdb_episode_mapping",
	"task_history",
	"rate_limit_state",
	"cache_data",
	"api_tokens",
	"webhook_events",
}

type archive struct {
	Metadata metadata                    `json:"metadata"`
	Data     map[string][]map[string]any `json:"data"`
}

type metadata struct {
	Version      int       `json:"version"`
	SourceDBType string    `json:"source_db_type"`
	CreatedAt    time.Time `json:"created_at"`
	Tables       []string  `json:"tables"`
}

// Export streams the archive to w.
func Export(db *sql.DB, w io.Writer) error {
	gz := gzip.NewWriter(w)
	defer gz.Close()

	doc := archive{
		Metadata: metadata{
			Version:      FormatVersion,
			SourceDBType: "sqlite",
			CreatedAt:    time.Now().UTC(),
			Tables:       tables,
		},
		Data: make(map[string][]map[string]any, len(tables)),
	}
	for _, table := range tables {
		rows, err := dumpTable(db, table)
		if err != nil {
			return fmt.Errorf("export %s: %w", table, err)
		}
		doc.Data[table] = rows
	}

	if err := json.NewEncoder(gz).Encode(doc); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return gz.Close()
}

// Import replaces the database contents with the archive read from r.
// Tables absent from the archive are left untouched.
func Import(db *sql.DB, r io.Reader) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer gz.Close()

	var doc archive
	if err := json.NewDecoder(gz).Decode(&doc); err != nil {
		return fmt.Errorf("decode backup: %w", err)
	}
	if doc.Metadata.Version != FormatVersion {
		return fmt.Errorf("unsupported backup version %d", doc.Metadata.Version)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// children first so foreign keys stay satisfied during the wipe
	for i := len(tables) - 1; i >= 0; i-- {
		table := tables[i]
		if _, ok := doc.Data[table]; !ok {
			continue
		}
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	total := 0
	for _, table := range tables {
		rows, ok := doc.Data[table]
		if !ok {
			continue
		}
		for _, row := range rows {
			if err := insertRow(tx, table, row); err != nil {
				return fmt.Errorf("restore %s: %w", table, err)
			}
		}
		total += len(rows)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[backup] restored %d rows across %d tables", total, len(doc.Data))
	return nil
}

func dumpTable(db *sql.DB, table string) ([]map[string]any, error) {
	rows, err := db.Query("SELECT * FROM " + table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			record[col] = v
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func insertRow(tx *sql.Tx, table string, row map[string]any) error {
	if len(row) == 0 {
		return nil
	}
	cols := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	placeholders := ""
	for col, v := range row {
		cols = append(cols, col)
		args = append(args, v)
		if placeholders != "" {
			placeholders += ", "
		}
		placeholders += "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinCols(cols), placeholders)
	_, err := tx.Exec(query, args...)
	return err
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
