package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/chxfer/internal/core"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the server is reachable and the database exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, svc *core.Service) error {
				res := svc.CheckConnection(ctx, a.conn)
				if a.output == "json" {
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				}
				if !res.Success {
					return errors.New(res.Error)
				}
				if a.output != "json" {
					fmt.Fprintf(cmd.OutOrStdout(), "OK: connected to %s\n", a.conn.String())
				}
				return nil
			})
		},
	}
}

func newTablesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, svc *core.Service) error {
				tables, err := svc.ListTables(ctx, a.conn)
				if err != nil {
					return err
				}
				if a.output == "json" {
					if tables == nil {
						tables = []string{}
					}
					return printJSON(cmd.OutOrStdout(), tables)
				}
				for _, t := range tables {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			})
		},
	}
}

func newColumnsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "columns <table>",
		Short: "List a table's columns and types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, svc *core.Service) error {
				cols, err := svc.ListColumns(ctx, a.conn, args[0])
				if err != nil {
					return err
				}
				if len(cols) == 0 {
					return fmt.Errorf("table not found: %s.%s does not exist or has no columns", a.conn.Database, args[0])
				}
				if a.output == "json" {
					return printJSON(cmd.OutOrStdout(), cols)
				}
				rows := make([][]string, len(cols))
				for i, c := range cols {
					rows[i] = []string{c.Name, c.Type}
				}
				return printTable(cmd.OutOrStdout(), []string{"NAME", "TYPE"}, rows)
			})
		},
	}
}

func newDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "Show a table's full schema including defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, svc *core.Service) error {
				schema, err := svc.DescribeTable(ctx, a.conn, args[0])
				if err != nil {
					return err
				}
				if a.output == "json" {
					return printJSON(cmd.OutOrStdout(), schema)
				}
				rows := make([][]string, len(schema.Columns))
				for i, c := range schema.Columns {
					rows[i] = []string{c.Name, c.Type, c.DefaultType, c.DefaultExpression}
				}
				return printTable(cmd.OutOrStdout(), []string{"NAME", "TYPE", "DEFAULT_TYPE", "DEFAULT_EXPRESSION"}, rows)
			})
		},
	}
}

func newPreviewCmd(a *app) *cobra.Command {
	var columns []string

	cmd := &cobra.Command{
		Use:   "preview <table>",
		Short: fmt.Sprintf("Show up to %d rows of a table", core.PreviewRowLimit),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, svc *core.Service) error {
				records, err := svc.Preview(ctx, a.conn, args[0], columns)
				if err != nil {
					return err
				}
				if a.output == "json" {
					return printJSON(cmd.OutOrStdout(), records)
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "(no rows)")
					return nil
				}

				headers := records[0].Columns()
				rows := make([][]string, len(records))
				for i, rec := range records {
					row := make([]string, len(headers))
					for j, h := range headers {
						v, _ := rec.Get(h)
						row[j] = core.FormatValue(v)
					}
					rows[i] = row
				}
				upper := make([]string, len(headers))
				for i, h := range headers {
					upper[i] = strings.ToUpper(h)
				}
				return printTable(cmd.OutOrStdout(), upper, rows)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&columns, "columns", "c", nil, "Columns to show (default: all)")
	return cmd
}
