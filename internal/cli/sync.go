package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gconsian/nfex/internal/nfestore"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Merge the session's records into the shared store",
		Long: `Merge the session's private store into the shared store.

Only rows whose composite key (invoice key, item, product code) is not
already present are appended; existing shared rows are never touched. A
timestamped backup of the shared store is taken before any merge that
changes it. Merges from concurrent sessions are serialized by a file
lock on the shared store.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
	return cmd
}

// syncPayload is the JSON shape of the sync result.
type syncPayload struct {
	RowsAdded   int    `json:"rows_added"`
	SharedStore string `json:"shared_store"`
	SharedTotal int    `json:"shared_total"`
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	shared := nfestore.New(a.cfg.SharedStorePath())
	syncer := &nfestore.Syncer{Logger: a.logger}
	added, err := syncer.Merge(a.priv, shared)
	if err != nil {
		return WrapExitError(ExitFailure, "merge failed", err)
	}

	payload := syncPayload{
		RowsAdded:   added,
		SharedStore: shared.Path(),
		SharedTotal: shared.Count(),
	}
	text := fmt.Sprintf("Synchronized: %d row(s) added (shared store now holds %d)", added, payload.SharedTotal)
	if added == 0 {
		text = "Synchronized: nothing new to merge"
	}
	return formatter.SuccessText(text, payload)
}
