package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gconsian/nfex/internal/nfestore"
)

// NewCloseCommand creates the close command.
func NewCloseCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Synchronize and end the current session",
		Long: `Merge the session's private store into the shared store one final
time, then remove the session's scratch files (private store, liveness
marker, session state). The next command starts a fresh session.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClose(rootOpts, cmd)
		},
	}
	return cmd
}

// closePayload is the JSON shape of the close result.
type closePayload struct {
	Session   string `json:"session"`
	RowsAdded int    `json:"rows_added"`
}

func runClose(opts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	shared := nfestore.New(a.cfg.SharedStorePath())
	syncer := &nfestore.Syncer{Logger: a.logger}
	added, err := syncer.Merge(a.priv, shared)
	if err != nil {
		// Do not tear down a session whose records never reached the
		// shared store.
		return WrapExitError(ExitFailure, "final merge failed; session kept", err)
	}

	if err := a.sess.Close(); err != nil {
		return WrapExitError(ExitFailure, "failed to remove session files", err)
	}

	payload := closePayload{Session: a.sess.ID, RowsAdded: added}
	return formatter.SuccessText(
		fmt.Sprintf("Session %s closed: %d row(s) merged", a.sess.ID, added), payload)
}
