// Package nfestore persists extracted invoice line-item records as CSV
// with a fixed, order-significant column schema.
//
// Two stores exist per process: a private store owned by one session and
// the shared store all sessions merge into. The private store is seeded
// from a snapshot of the shared store at session start and mutated only
// by its owning session. The shared store is mutated only through
// Syncer.Merge.
package nfestore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// Store is an append-only CSV record store at a fixed path.
//
// Contains is a full scan against the persisted rows. Store sizes are
// bounded by interactive session volume, so the scan is acceptable;
// callers that insert many records should check-then-append serially.
type Store struct {
	path string
}

// New returns a Store over the given CSV path. The file is not created
// until the first Append.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Seed initializes the store file from a snapshot of src. When src does
// not exist the store is created with just the header row. Any existing
// content at the store path is preserved (a resumed session keeps its
// records).
func (s *Store) Seed(src string) error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return s.writeHeader()
	}
	if err != nil {
		return fmt.Errorf("seed from %s: %w", src, err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("seed %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) writeHeader() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create store %s: %w", s.path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Contains reports whether a record with the same composite key already
// exists in the store. A missing store file contains nothing.
func (s *Store) Contains(rec Record) (bool, error) {
	key := rec.Key()
	if key == "__" {
		// Degenerate record with no identity; never treated as a duplicate.
		return false, nil
	}
	rows, err := s.Rows()
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if RowKey(row) == key {
			return true, nil
		}
	}
	return false, nil
}

// Append writes the record as a new row, writing the column header first
// when the store file is absent or empty. Append does not check
// Contains; callers dedup by check-then-append.
func (s *Store) Append(rec Record) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open store %s: %w", s.path, err)
	}
	defer f.Close()

	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek store: %w", err)
	}

	w := csv.NewWriter(f)
	if pos == 0 {
		if err := w.Write(Columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(rec.Row()); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush store: %w", err)
	}
	return nil
}

// Count returns the number of data rows, header excluded. A store that
// does not exist or cannot be read counts as zero rather than failing.
func (s *Store) Count() int {
	rows, err := s.Rows()
	if err != nil {
		return 0
	}
	return len(rows)
}

// Rows returns every data row whose arity exactly matches the column
// schema. The header row and wrong-arity rows (partial writes) are
// silently dropped. A missing store file yields no rows and no error.
func (s *Store) Rows() ([][]string, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", s.path, err)
	}
	defer f.Close()
	return readRows(f)
}

// Records returns every well-formed row decoded as a Record.
func (s *Store) Records() ([]Record, error) {
	rows, err := s.Rows()
	if err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := FromRow(row)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// readRows reads arity-filtered data rows from r, skipping the header.
func readRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // arity filtering is ours
	var rows [][]string
	first := true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			// Skip unreadable lines the same way wrong-arity rows are
			// skipped; a torn write must not poison the whole store.
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return rows, fmt.Errorf("read store: %w", err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == Columns[0] {
				continue
			}
		}
		if len(row) != ColumnCount {
			continue
		}
		rows = append(rows, row)
	}
}
