package nfestore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// Syncer merges a private store into the shared store.
//
// Merges are serialized by an exclusive file lock scoped to the shared
// store, so two sessions merging at the same time cannot both decide the
// same row is unseen and append it twice.
type Syncer struct {
	// Now stamps backup file names. Defaults to time.Now.
	Now func() time.Time

	// Logger receives backup failures, which are logged and ignored.
	// Defaults to slog.Default.
	Logger *slog.Logger
}

func (y *Syncer) now() time.Time {
	if y.Now != nil {
		return y.Now()
	}
	return time.Now()
}

func (y *Syncer) logger() *slog.Logger {
	if y.Logger != nil {
		return y.Logger
	}
	return slog.Default()
}

// Merge appends to the shared store every private row whose composite
// key is not already present, preserving private row order, and returns
// how many rows were added. Zero added is success, not an error.
//
// The shared store is created with just the header row when absent. A
// timestamped backup of the shared store is taken before any merge that
// will change it; backup failure is logged, never fatal. Existing shared
// rows are never rewritten.
func (y *Syncer) Merge(private, shared *Store) (int, error) {
	lock := flock.New(shared.Path() + ".lock")
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("lock shared store: %w", err)
	}
	defer lock.Unlock()

	if _, err := os.Stat(shared.Path()); errors.Is(err, os.ErrNotExist) {
		if err := shared.writeHeader(); err != nil {
			return 0, fmt.Errorf("init shared store: %w", err)
		}
	}

	privateRows, err := private.Rows()
	if err != nil {
		return 0, fmt.Errorf("read private store: %w", err)
	}
	if len(privateRows) == 0 {
		return 0, nil
	}

	sharedRows, err := shared.Rows()
	if err != nil {
		return 0, fmt.Errorf("read shared store: %w", err)
	}
	seen := make(map[string]struct{}, len(sharedRows))
	for _, row := range sharedRows {
		seen[RowKey(row)] = struct{}{}
	}

	var fresh [][]string
	for _, row := range privateRows {
		key := RowKey(row)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, row)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := y.backup(shared.Path()); err != nil {
		y.logger().Warn("shared store backup failed", "path", shared.Path(), "error", err)
	}

	f, err := os.OpenFile(shared.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open shared store: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	for _, row := range fresh {
		if err := w.Write(row); err != nil {
			return 0, fmt.Errorf("append shared store: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("flush shared store: %w", err)
	}
	return len(fresh), nil
}

// backup copies the shared store to a timestamped sibling file. Backups
// are never deleted automatically.
func (y *Syncer) backup(path string) error {
	stamp := y.now().Format("20060102_150405")
	dst := strings.TrimSuffix(path, ".csv") + "_backup_" + stamp + ".csv"

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return err
	}
	return out.Close()
}
