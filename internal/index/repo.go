package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DiaryRow represents a row in the diaries table.
type DiaryRow struct {
	Path       string
	ID         string
	Title      string
	OccurredAt time.Time
	Tags       []string
	Checksum   string
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Title      string    `json:"title"`
	OccurredAt time.Time `json:"occurredAt"`
	Snippet    string    `json:"snippet"`
}

// UpsertDiary inserts or replaces a diary row and its FTS entry within a transaction.
func (db *DB) UpsertDiary(r DiaryRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if r.Tags == nil {
		r.Tags = []string{}
	}
	tagsJSON, _ := json.Marshal(r.Tags)

	// The diaries table keeps the body for the LIKE fallback.
	_, err = tx.Exec(`
		INSERT INTO diaries (path, id, title, occurred_at, tags, checksum, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			id          = excluded.id,
			title       = excluded.title,
			occurred_at = excluded.occurred_at,
			tags        = excluded.tags,
			checksum    = excluded.checksum,
			body        = excluded.body
	`, r.Path, r.ID, r.Title, r.OccurredAt.UTC(), string(tagsJSON), r.Checksum, body)
	if err != nil {
		return fmt.Errorf("index: upsert diary: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, r.Path, r.Title, body, r.Tags); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteDiary removes a diary row and its FTS entry.
func (db *DB) DeleteDiary(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	if _, err := tx.Exec(`DELETE FROM diaries WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete diary: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a file, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM diaries WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns path → checksum for every indexed file.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM diaries`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Locate returns the indexed path of a diary id. The repository verifies
// the hint against the file before trusting it.
func (db *DB) Locate(id string) (string, bool) {
	var p string
	err := db.conn.QueryRow(`SELECT path FROM diaries WHERE id = ? ORDER BY path LIMIT 1`, id).Scan(&p)
	if err != nil {
		return "", false
	}
	return p, true
}

// Invalidate forgets every row carrying id; the next Sync or watcher event
// re-adds the current file.
func (db *DB) Invalidate(id string) {
	paths, err := db.pathsFor(id)
	if err != nil {
		return
	}
	for _, p := range paths {
		_ = db.DeleteDiary(p)
	}
}

func (db *DB) pathsFor(id string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT path FROM diaries WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Path, &r.Title, &r.OccurredAt, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
