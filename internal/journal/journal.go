// Package journal keeps an append-only SQLite record of completed fetches.
// It is an audit surface, not a cache: nothing is ever read back into the
// dispatch path.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Record is one completed fetch as reported by the dispatcher.
type Record struct {
	RequestID   string
	Method      string
	URL         string
	Status      int
	Bytes       int
	Duration    time.Duration
	LastError   string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Entry is a Record read back from the journal, with its stored fingerprint.
type Entry struct {
	Record
	Fingerprint string
}

type Journal struct {
	db *sql.DB
}

// Open opens the journal database at path, creating it if needed.
func Open(ctx context.Context, path string) (*Journal, error) {
	if err := validateJournalFilesystem(path); err != nil {
		return nil, err
	}
	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Fingerprint returns the stable identity of a request: the BLAKE3 hash of
// method and url. Repeated fetches of the same resource share a fingerprint
// even though every request_id is unique.
func Fingerprint(method, url string) string {
	hash := blake3.Sum256([]byte(method + " " + url))
	return hex.EncodeToString(hash[:])
}

// Record appends one completed fetch.
func (j *Journal) Record(ctx context.Context, rec Record) error {
	if rec.RequestID == "" {
		return fmt.Errorf("request_id is empty")
	}

	var lastError any
	if rec.LastError != "" {
		lastError = rec.LastError
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO fetch_log(
  request_id, fingerprint, method, url, status, bytes, duration_ms, last_error,
  created_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, rec.RequestID, Fingerprint(rec.Method, rec.URL), rec.Method, rec.URL, rec.Status,
		rec.Bytes, rec.Duration.Milliseconds(), lastError,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert fetch_log: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first. limit <= 0 means all.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT request_id, fingerprint, method, url, status, bytes, duration_ms, last_error,
       created_at, completed_at
FROM fetch_log
ORDER BY completed_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fetch_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			durationMS int64
			lastError  sql.NullString
			createdS   string
			completedS string
		)
		if err := rows.Scan(
			&e.RequestID, &e.Fingerprint, &e.Method, &e.URL, &e.Status, &e.Bytes,
			&durationMS, &lastError, &createdS, &completedS,
		); err != nil {
			return nil, fmt.Errorf("scan fetch_log: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if lastError.Valid {
			e.LastError = lastError.String
		}
		if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
			e.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedS); err == nil {
			e.CompletedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries completed before the retention window and returns the
// number of rows removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)

	res, err := j.db.ExecContext(ctx, `DELETE FROM fetch_log WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune fetch_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune fetch_log rows affected: %w", err)
	}
	return n, nil
}
