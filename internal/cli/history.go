package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gconsian/nfex/internal/history"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent processing batches",
		Long: `List recent batch runs from the processing journal, newest first,
across all sessions and users.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum batches to list")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	journal, err := history.Open(a.cfg.JournalPath())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open processing journal", err)
	}
	defer journal.Close()

	batches, err := journal.RecentBatches(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read processing journal", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d batch(es)\n", len(batches))
	for _, e := range batches {
		fmt.Fprintf(&b, "#%d  %s  %s  files=%d errored=%d  found=%d added=%d dup=%d\n",
			e.ID, e.StartedAt.Format(time.DateTime), e.User,
			e.Files, e.FilesErrored, e.RecordsFound, e.RecordsAdded, e.RecordsDuplicate)
	}
	return formatter.SuccessText(strings.TrimRight(b.String(), "\n"), batches)
}
