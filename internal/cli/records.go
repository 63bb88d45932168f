package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gconsian/nfex/internal/filter"
	"github.com/gconsian/nfex/internal/nfestore"
)

// RecordsOptions holds flags for the records command.
type RecordsOptions struct {
	*RootOptions
	Filter string
	Limit  int
}

// NewRecordsCommand creates the records command.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List the current session's extracted records",
		Long: `List the records in the session's private store.

An optional filter expression restricts the listing, e.g.:
  nfex records --filter 'icms.cst == "40"'
  nfex records --filter 'cfop == "5102" and ibscbs.vcbs != ""'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecords(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter expression")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows to list (0 = all)")

	return cmd
}

// recordsPayload is the JSON shape of the records listing.
type recordsPayload struct {
	Count   int              `json:"count"`
	Records []recordListItem `json:"records"`
}

type recordListItem struct {
	Chave   string `json:"chave_nfe"`
	Item    string `json:"item"`
	CProd   string `json:"cprod"`
	XProd   string `json:"xprod"`
	NCM     string `json:"ncm"`
	CFOP    string `json:"cfop"`
	VProd   string `json:"vprod"`
	Arquivo string `json:"arquivo_origem"`
}

func runRecords(opts *RecordsOptions, cmd *cobra.Command) error {
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
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	payload := recordsPayload{Count: len(records)}
	for _, r := range records {
		payload.Records = append(payload.Records, recordListItem{
			Chave:   r.ChaveNFe,
			Item:    r.Item,
			CProd:   r.CProd,
			XProd:   r.XProd,
			NCM:     r.NCM,
			CFOP:    r.CFOP,
			VProd:   r.VProd,
			Arquivo: r.ArquivoOrigem,
		})
	}

	return formatter.SuccessText(renderRecords(records), payload)
}

func applyFilter(records []nfestore.Record, expr string) ([]nfestore.Record, error) {
	if expr == "" {
		return records, nil
	}
	match, err := filter.Compile(expr)
	if err != nil {
		return nil, err
	}
	var out []nfestore.Record
	for _, r := range records {
		if match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func renderRecords(records []nfestore.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d record(s)\n", len(records))
	for _, r := range records {
		desc := r.XProd
		if len(desc) > 40 {
			desc = desc[:40]
		}
		fmt.Fprintf(&b, "%s  item %-3s  %-12s %-40s  NCM %-8s CFOP %-5s  R$ %s\n",
			r.ChaveNFe, r.Item, r.CProd, desc, r.NCM, r.CFOP, r.VProd)
	}
	return strings.TrimRight(b.String(), "\n")
}
