package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List other live extraction sessions",
		Long: `List the liveness markers of other sessions seen in the scratch
directory within the last five minutes. Markers are advisory: they warn
about concurrent activity, while shared store merges are serialized by a
file lock regardless.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(rootOpts, cmd)
		},
	}
	return cmd
}

// sessionsPayload is the JSON shape of the sessions listing.
type sessionsPayload struct {
	Session string   `json:"session"`
	User    string   `json:"user"`
	Others  []string `json:"other_live_sessions"`
}

func runSessions(opts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	others, err := a.sess.ListLive(time.Now())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to scan sessions", err)
	}

	payload := sessionsPayload{Session: a.sess.ID, User: a.sess.User, Others: others}

	var b strings.Builder
	fmt.Fprintf(&b, "This session: %s (user %s)\n", a.sess.ID, a.sess.User)
	if len(others) == 0 {
		b.WriteString("No other live sessions")
	} else {
		fmt.Fprintf(&b, "%d other live session(s):", len(others))
		for _, name := range others {
			fmt.Fprintf(&b, "\n  %s", name)
		}
	}
	return formatter.SuccessText(b.String(), payload)
}
