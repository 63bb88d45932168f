package cli

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gconsian/nfex/internal/nfestore"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Filter string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <out.csv>",
		Short: "Export the current session's records to a CSV file",
		Long: `Write the session's private store to a caller-chosen CSV file with the
full column schema, optionally restricted by a filter expression.

Example:
  nfex export /tmp/produtos.csv
  nfex export vendas.csv --filter 'cfop == "5102"'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter expression")

	return cmd
}

// exportPayload is the JSON shape of the export result.
type exportPayload struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

func runExport(opts *ExportOptions, outPath string, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	records, err := a.priv.Records()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session store", err)
	}
	records, err = applyFilter(records, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create export file", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(nfestore.Columns); err != nil {
		return WrapExitError(ExitFailure, "failed to write export", err)
	}
	for _, r := range records {
		if err := w.Write(r.Row()); err != nil {
			return WrapExitError(ExitFailure, "failed to write export", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return WrapExitError(ExitFailure, "failed to write export", err)
	}
	if err := f.Close(); err != nil {
		return WrapExitError(ExitFailure, "failed to finish export", err)
	}

	payload := exportPayload{Path: outPath, Rows: len(records)}
	return formatter.SuccessText(
		fmt.Sprintf("Exported %d row(s) to %s", payload.Rows, payload.Path), payload)
}
