// Package batch runs the extract → dedup-check → append loop over a set
// of documents against one session's private store.
//
// Failures are recovered at the document or record granularity: a
// malformed document, an empty document or an unwritable record is
// counted and reported, and the batch continues. Only an inaccessible
// private store is fatal.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gconsian/nfex/internal/history"
	"github.com/gconsian/nfex/internal/nfe"
	"github.com/gconsian/nfex/internal/nfestore"
)

// maxSurfacedErrors caps how many per-file error messages the summary
// carries verbatim; the rest are summarized by count.
const maxSurfacedErrors = 3

// Summary reports what a batch run did.
type Summary struct {
	Files            int      `json:"files"`
	FilesErrored     int      `json:"files_errored"`
	FilesNoItems     int      `json:"files_no_items"`
	RecordsFound     int      `json:"records_found"`
	RecordsAdded     int      `json:"records_added"`
	RecordsDuplicate int      `json:"records_duplicate"`
	RecordsErrored   int      `json:"records_errored"`
	Errors           []string `json:"errors,omitempty"` // first few messages; rest counted
}

// Runner processes documents into a private store.
type Runner struct {
	Store   *nfestore.Store
	Logger  *slog.Logger
	Journal *history.Journal // optional
	Session string
	User    string

	// Extract may be overridden in tests. Defaults to nfe.Extract.
	Extract func(path string) ([]nfestore.Record, nfe.Result)

	Now func() time.Time
}

func (r *Runner) extract(path string) ([]nfestore.Record, nfe.Result) {
	if r.Extract != nil {
		return r.Extract(path)
	}
	return nfe.Extract(path)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run processes the documents sequentially. Cancellation is honored
// between documents; records appended before cancellation stay in the
// private store, and re-running the same batch is idempotent at the
// record level.
func (r *Runner) Run(ctx context.Context, paths []string) (Summary, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sum := Summary{Files: len(paths)}

	var batchID int64
	if r.Journal != nil {
		id, err := r.Journal.BeginBatch(ctx, r.Session, r.User, r.now())
		if err != nil {
			logger.Warn("journal unavailable for this batch", "error", err)
		} else {
			batchID = id
		}
	}

	erroredFiles := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		name := filepath.Base(path)

		records, result := r.extract(path)
		if result.Failed() {
			erroredFiles++
			sum.FilesErrored++
			if len(sum.Errors) < maxSurfacedErrors {
				sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %s", name, result.Message))
			}
			logger.Error("document failed", "file", name, "status", result.Status.String(), "message", result.Message)
			r.journalFile(ctx, batchID, history.FileEntry{Name: name, Status: result.Status.String(), Message: result.Message})
			continue
		}
		if result.Status == nfe.StatusNoItems {
			sum.FilesNoItems++
			logger.Warn("document has no line items", "file", name)
			r.journalFile(ctx, batchID, history.FileEntry{Name: name, Status: result.Status.String(), Message: result.Message})
			continue
		}

		sum.RecordsFound += len(records)
		added, dup, errored := r.insert(logger, name, records)
		sum.RecordsAdded += added
		sum.RecordsDuplicate += dup
		sum.RecordsErrored += errored

		r.journalFile(ctx, batchID, history.FileEntry{
			Name:    name,
			Status:  result.Status.String(),
			Message: result.Message,
			Records: len(records),
		})
	}

	if r.Journal != nil && batchID != 0 {
		entry := history.BatchEntry{
			Files:            sum.Files,
			FilesErrored:     sum.FilesErrored,
			RecordsFound:     sum.RecordsFound,
			RecordsAdded:     sum.RecordsAdded,
			RecordsDuplicate: sum.RecordsDuplicate,
			RecordsErrored:   sum.RecordsErrored,
		}
		if err := r.Journal.FinishBatch(ctx, batchID, entry, r.now()); err != nil {
			logger.Warn("could not finalize journal batch", "error", err)
		}
	}

	logger.Info("batch finished",
		"files", sum.Files,
		"files_errored", sum.FilesErrored,
		"records_found", sum.RecordsFound,
		"added", sum.RecordsAdded,
		"duplicate", sum.RecordsDuplicate,
		"errored", sum.RecordsErrored)
	return sum, nil
}

// insert runs the check-then-append for one document's records. The
// private store has a single writer (this session), so the check/append
// pair does not race within a batch.
func (r *Runner) insert(logger *slog.Logger, name string, records []nfestore.Record) (added, dup, errored int) {
	for _, rec := range records {
		exists, err := r.Store.Contains(rec)
		if err != nil {
			errored++
			logger.Error("duplicate check failed", "file", name, "key", rec.Key(), "error", err)
			continue
		}
		if exists {
			dup++
			logger.Debug("record already present", "file", name, "key", rec.Key())
			continue
		}
		if err := r.Store.Append(rec); err != nil {
			errored++
			logger.Error("record append failed", "file", name, "key", rec.Key(), "error", err)
			continue
		}
		added++
		logger.Debug("record added", "file", name, "key", rec.Key())
	}
	return added, dup, errored
}

func (r *Runner) journalFile(ctx context.Context, batchID int64, entry history.FileEntry) {
	if r.Journal == nil || batchID == 0 {
		return
	}
	if err := r.Journal.RecordFile(ctx, batchID, entry); err != nil && r.Logger != nil {
		r.Logger.Warn("could not journal file outcome", "file", entry.Name, "error", err)
	}
}
