package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/chxfer/internal/core"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		columns   []string
		delimiter string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "export <table>",
		Short: "Export table columns to a delimited file",
		Example: `  chxfer export events -c id,name > events.csv
  chxfer export events -c id,name --delimiter '\t' --out events.tsv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delim, err := parseDelimiter(delimiter)
			if err != nil {
				return err
			}

			toStdout := outPath == "" || outPath == "-"
			var w io.Writer = cmd.OutOrStdout()
			if !toStdout {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			tc := core.TransferConfig{
				Source: core.Source{
					Type:       core.EndpointClickHouse,
					Connection: &a.conn,
					Table:      args[0],
					Columns:    columns,
				},
				Target: core.Target{Type: core.EndpointFlatFile, Delimiter: delim},
			}

			return a.run(cmd, func(ctx context.Context, svc *core.Service) error {
				res, err := svc.ExportTo(ctx, tc, w)
				if err != nil {
					return err
				}
				if !res.Success {
					return res.Err
				}
				return a.summarize(cmd, res, "exported", toStdout)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&columns, "columns", "c", nil, "Columns to export, in output order (required)")
	cmd.Flags().StringVar(&delimiter, "delimiter", ",", `Field delimiter ("\t" or "tab" for TSV)`)
	cmd.Flags().StringVar(&outPath, "out", "-", "Output file, - for stdout")
	_ = cmd.MarkFlagRequired("columns")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		inPath    string
		delimiter string
		noHeaders bool
	)

	cmd := &cobra.Command{
		Use:   "import <table>",
		Short: "Import a delimited file into a table",
		Long: `Import a delimited file into a table.

The first line names the columns unless --no-headers is given; columns that
do not exist in the table are skipped. Rows are inserted in chunks, and a
failed chunk stops the import without rolling back earlier chunks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delim, err := parseDelimiter(delimiter)
			if err != nil {
				return err
			}
			if inPath == "-" && a.askPassword {
				return errors.New("--ask-password cannot be combined with reading the file from stdin")
			}

			var (
				r        io.Reader = cmd.InOrStdin()
				fileName           = "stdin"
			)
			if inPath != "-" {
				f, err := os.Open(inPath)
				if err != nil {
					return fmt.Errorf("open input file: %w", err)
				}
				defer f.Close()
				r = f
				fileName = filepath.Base(inPath)
			}

			headers := !noHeaders
			return a.run(cmd, func(ctx context.Context, svc *core.Service) error {
				tc := core.TransferConfig{
					Source: core.Source{
						Type:      core.EndpointFlatFile,
						StreamID:  svc.StoreUpload(r, "text/csv", fileName),
						Delimiter: delim,
						Headers:   &headers,
						FileName:  fileName,
					},
					Target: core.Target{
						Type:       core.EndpointClickHouse,
						Connection: &a.conn,
						Table:      args[0],
					},
				}

				res, err := svc.Import(ctx, tc)
				if err != nil {
					return err
				}
				if !res.Success {
					if res.CommittedRows > 0 {
						fmt.Fprintf(cmd.ErrOrStderr(), "%d rows were inserted before the failure and remain in the table\n", res.CommittedRows)
					}
					return res.Err
				}
				return a.summarize(cmd, res, "imported", false)
			})
		},
	}

	cmd.Flags().StringVarP(&inPath, "file", "f", "-", "Input file, - for stdin")
	cmd.Flags().StringVar(&delimiter, "delimiter", ",", `Field delimiter ("\t" or "tab" for TSV)`)
	cmd.Flags().BoolVar(&noHeaders, "no-headers", false, "The first line is data; fields map to table columns by position")
	return cmd
}

// summarize reports a finished transfer on stderr, or as JSON on stdout
// when the data itself did not go to stdout.
func (a *app) summarize(cmd *cobra.Command, res core.TransferResult, verb string, dataOnStdout bool) error {
	if a.output == "json" && !dataOnStdout {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %d rows\n", verb, res.Count)
	return nil
}
