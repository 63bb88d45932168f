// Package history keeps a durable journal of processing activity: which
// session processed which files, with what outcome. SQLite with WAL mode
// so concurrent sessions can read while one writes.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Journal provides durable storage for batch processing history.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at the given path.
// Idempotent; applies pragmas and the schema automatically.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	// SQLite supports one writer at a time; keep a single connection to
	// avoid SQLITE_BUSY on interleaved writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// BatchEntry is one journaled batch run.
type BatchEntry struct {
	ID               int64
	Session          string
	User             string
	StartedAt        time.Time
	FinishedAt       time.Time
	Files            int
	FilesErrored     int
	RecordsFound     int
	RecordsAdded     int
	RecordsDuplicate int
	RecordsErrored   int
	Note             string
}

// FileEntry is one journaled file outcome within a batch.
type FileEntry struct {
	Name    string
	Status  string
	Message string
	Records int
}

// BeginBatch records the start of a batch run and returns its id.
func (j *Journal) BeginBatch(ctx context.Context, sessionID, user string, startedAt time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO batches (session, user, started_at)
		VALUES (?, ?, ?)
	`, sessionID, user, startedAt.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	return id, nil
}

// RecordFile records the outcome of one processed file.
func (j *Journal) RecordFile(ctx context.Context, batchID int64, f FileEntry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO files (batch_id, name, status, message, records)
		VALUES (?, ?, ?, ?, ?)
	`, batchID, f.Name, f.Status, f.Message, f.Records)
	if err != nil {
		return fmt.Errorf("record file: %w", err)
	}
	return nil
}

// FinishBatch stores the final counters of a batch run.
func (j *Journal) FinishBatch(ctx context.Context, batchID int64, e BatchEntry, finishedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE batches
		SET finished_at = ?, files = ?, files_errored = ?,
		    records_found = ?, records_added = ?,
		    records_duplicate = ?, records_errored = ?, note = ?
		WHERE id = ?
	`, finishedAt.Format(time.RFC3339),
		e.Files, e.FilesErrored,
		e.RecordsFound, e.RecordsAdded,
		e.RecordsDuplicate, e.RecordsErrored, e.Note, batchID)
	if err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	return nil
}

// RecentBatches returns the most recent batch runs, newest first.
func (j *Journal) RecentBatches(ctx context.Context, limit int) ([]BatchEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session, user, started_at, COALESCE(finished_at, ''),
		       files, files_errored, records_found, records_added,
		       records_duplicate, records_errored, note
		FROM batches
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchEntry
	for rows.Next() {
		var e BatchEntry
		var started, finished string
		if err := rows.Scan(&e.ID, &e.Session, &e.User, &started, &finished,
			&e.Files, &e.FilesErrored, &e.RecordsFound, &e.RecordsAdded,
			&e.RecordsDuplicate, &e.RecordsErrored, &e.Note); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		e.StartedAt, _ = time.Parse(time.RFC3339, started)
		if finished != "" {
			e.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// BatchFiles returns the file outcomes journaled for one batch.
func (j *Journal) BatchFiles(ctx context.Context, batchID int64) ([]FileEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT name, status, message, records
		FROM files
		WHERE batch_id = ?
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch files: %w", err)
	}
	defer rows.Close()

	var out []FileEntry
	for rows.Next() {
		var f FileEntry
		if err := rows.Scan(&f.Name, &f.Status, &f.Message, &f.Records); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
