package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gconsian/nfex/internal/batch"
	"github.com/gconsian/nfex/internal/history"
)

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <file.xml>...",
		Short: "Extract line items from NF-e documents into the session store",
		Long: `Extract product and tax line items from one or more NF-e XML documents.

Each document yields one record per line item. Records already present in
the session's private store (same invoice key, item and product code) are
recognized as duplicates and skipped. A malformed document fails alone;
the rest of the batch continues.

Example:
  nfex extract nota.xml
  nfex extract lote/*.xml --verbose`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runExtract(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	journal, err := history.Open(a.cfg.JournalPath())
	if err != nil {
		// The journal is an audit trail, not the source of truth; run
		// the batch without it.
		a.logger.Warn("processing journal unavailable", "error", err)
		journal = nil
	} else {
		defer journal.Close()
	}

	runner := &batch.Runner{
		Store:   a.priv,
		Logger:  a.logger,
		Journal: journal,
		Session: a.sess.ID,
		User:    a.sess.User,
	}
	sum, err := runner.Run(cmd.Context(), paths)
	if err != nil {
		return WrapExitError(ExitCommandError, "batch interrupted", err)
	}

	if err := formatter.SuccessText(renderSummary(sum, a.priv.Count()), sum); err != nil {
		return err
	}
	if sum.FilesErrored > 0 || sum.RecordsErrored > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d document(s) and %d record(s) errored", sum.FilesErrored, sum.RecordsErrored))
	}
	return nil
}

func renderSummary(sum batch.Summary, sessionTotal int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Documents processed:  %d\n", sum.Files)
	fmt.Fprintf(&b, "Records found:        %d\n", sum.RecordsFound)
	fmt.Fprintf(&b, "Records added:        %d\n", sum.RecordsAdded)
	fmt.Fprintf(&b, "Records duplicate:    %d\n", sum.RecordsDuplicate)
	fmt.Fprintf(&b, "Records errored:      %d\n", sum.RecordsErrored)
	fmt.Fprintf(&b, "Documents errored:    %d\n", sum.FilesErrored)
	if sum.FilesNoItems > 0 {
		fmt.Fprintf(&b, "Documents w/o items:  %d\n", sum.FilesNoItems)
	}
	for _, msg := range sum.Errors {
		fmt.Fprintf(&b, "  - %s\n", msg)
	}
	if rest := sum.FilesErrored - len(sum.Errors); rest > 0 {
		fmt.Fprintf(&b, "  - ... and %d more\n", rest)
	}
	fmt.Fprintf(&b, "Session total:        %d record(s)", sessionTotal)
	return b.String()
}
