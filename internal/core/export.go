package core

// export.go reads a table and writes it as delimited text.
//
// Rows go straight from the result cursor to the writer through a buffer,
// so ExportTo never holds the whole result. Export collects the output in
// memory for callers that want it as one value.

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
)

const exportBufferSize = 64 * 1024

// Export runs a store -> flat file transfer and returns the file content
// in the result. Only a failure to acquire a connection is returned as an
// error; every other failure is reported in the result.
func (s *Service) Export(ctx context.Context, tc TransferConfig) (TransferResult, error) {
	var buf bytes.Buffer
	res, err := s.ExportTo(ctx, tc, &buf)
	if res.Success {
		res.FileContent = buf.String()
	}
	return res, err
}

// ExportTo streams the export to w. The header line is written only once
// the query has succeeded, so a failed query leaves w untouched.
func (s *Service) ExportTo(ctx context.Context, tc TransferConfig, w io.Writer) (TransferResult, error) {
	src, tgt := tc.Source, tc.Target
	run := s.begin(ctx, DirectionExport, src.Connection, src.Table, "")

	if err := validateExport(tc); err != nil {
		return run.finish(0, err), nil
	}
	if err := run.acquireSlot(); err != nil {
		return run.finish(0, err), nil
	}

	client, err := s.pool.Acquire(run.ctx, *src.Connection)
	if err != nil {
		return run.finish(0, err), err
	}

	cw := &countingWriter{w: w}
	n, err := exportRows(run.ctx, client, src, tgt.delimiter(), cw)
	run.bytes = cw.n
	return run.finish(n, err), nil
}

func validateExport(tc TransferConfig) error {
	if tc.Source.Type != EndpointClickHouse || tc.Target.Type != EndpointFlatFile {
		return errMalformed("invalid transfer: export needs a clickhouse source and a flatfile target")
	}
	if err := validateTable(tc.Source.Connection, tc.Source.Table); err != nil {
		return err
	}
	if len(normalizeColumns(tc.Source.Columns)) == 0 {
		return errMalformed("invalid transfer: select at least one column to export")
	}
	return nil
}

// exportRows writes a header line and one line per row, projecting the
// requested columns in the requested order. NULL and missing values become
// empty fields.
func exportRows(ctx context.Context, client *PooledClient, src Source, delim string, w io.Writer) (int64, error) {
	columns := normalizeColumns(src.Columns)
	q := clickhouse.SelectQuery(src.Connection.Database, src.Table, columns, 0)

	rows, err := client.Query(ctx, q)
	if err != nil {
		return 0, classifyQueryError(client.Destination(), err)
	}
	defer rows.Close()

	bw := bufio.NewWriterSize(w, exportBufferSize)
	if err := writeLine(bw, columns, delim); err != nil {
		return 0, err
	}

	resultCols := rows.Columns()
	colTypes := make([]string, len(columns))
	for i, typ := range rows.ColumnTypes() {
		if i >= len(resultCols) {
			break
		}
		for j, col := range columns {
			if col == resultCols[i] {
				colTypes[j] = typ
			}
		}
	}

	fields := make([]string, len(columns))
	var count int64
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return count, classifyQueryError(client.Destination(), err)
		}
		rec := newRowRecord(resultCols, vals)
		for i, col := range columns {
			v, _ := rec.Get(col)
			fields[i] = FormatTyped(v, colTypes[i])
		}
		if err := writeLine(bw, fields, delim); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, classifyQueryError(client.Destination(), err)
	}
	if err := bw.Flush(); err != nil {
		return count, err
	}
	return count, nil
}

func writeLine(w *bufio.Writer, fields []string, delim string) error {
	if _, err := w.WriteString(strings.Join(fields, delim)); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
