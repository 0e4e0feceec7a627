package core

// import.go parses delimited text and inserts it into a table in chunks.
//
// The file is read line by line and rows are buffered only up to one
// chunk. Chunks are inserted strictly in order; the first failed chunk
// stops the import. Chunks already inserted stay in the table.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
)

// Import runs a flat file -> store transfer. Only a failure to acquire a
// connection is returned as an error; every other failure is reported in
// the result. Inline content is checked before the store is contacted. A
// held stream is opened only once a client is in hand, so a connection
// failure leaves it registered for a retry.
func (s *Service) Import(ctx context.Context, tc TransferConfig) (TransferResult, error) {
	src, tgt := tc.Source, tc.Target
	run := s.begin(ctx, DirectionImport, tgt.Connection, tgt.Table, src.FileName)

	if err := validateImport(tc); err != nil {
		return run.finish(0, err), nil
	}

	var (
		lines *lineReader
		first string
		entry *StreamEntry
		err   error
	)
	if src.FileContent != nil {
		lines, first, err = readFirstLine(strings.NewReader(*src.FileContent))
	} else {
		entry, err = s.lookupStream(src.StreamID)
		if err == nil && run.rec.FileName == "" {
			run.rec.FileName = entry.FileName
		}
	}
	if err != nil {
		return run.finish(0, err), nil
	}

	if err := run.acquireSlot(); err != nil {
		return run.finish(0, err), nil
	}

	client, err := s.pool.Acquire(run.ctx, *tgt.Connection)
	if err != nil {
		return run.finish(0, err), err
	}

	if entry != nil {
		r, err := entry.Open()
		if err != nil {
			return run.finish(0, &MalformedInputError{
				Message: fmt.Sprintf("stream %s has already been consumed", src.StreamID),
				Err:     err,
			}), nil
		}
		defer s.streams.Remove(src.StreamID)

		if lines, first, err = readFirstLine(r); err != nil {
			return run.finish(0, err), nil
		}
	}

	n, err := s.importRows(run, client, src, tgt, first, lines)
	run.bytes = lines.BytesRead()
	return run.finish(n, err), nil
}

func validateImport(tc TransferConfig) error {
	if tc.Source.Type != EndpointFlatFile || tc.Target.Type != EndpointClickHouse {
		return errMalformed("invalid transfer: import needs a flatfile source and a clickhouse target")
	}
	if err := validateTable(tc.Target.Connection, tc.Target.Table); err != nil {
		return err
	}
	if (tc.Source.FileContent != nil) == (tc.Source.StreamID != "") {
		return errMalformed("invalid transfer: a flatfile source needs exactly one of fileContent or streamId")
	}
	return nil
}

// lookupStream finds a held stream without consuming it.
func (s *Service) lookupStream(handle string) (*StreamEntry, error) {
	entry, err := s.streams.Get(handle)
	if err != nil {
		return nil, &MalformedInputError{
			Message: fmt.Sprintf("stream not found or expired: %s", handle),
			Err:     err,
		}
	}
	return entry, nil
}

// readFirstLine starts reading r. A file whose first line is blank is
// empty.
func readFirstLine(r io.Reader) (*lineReader, string, error) {
	lines := newLineReader(r)
	first, err := lines.Next()
	switch {
	case errors.Is(err, io.EOF) || (err == nil && isBlank(first)):
		return nil, "", errMalformed("empty file: the first line has no content")
	case err != nil:
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return lines, first, nil
}

func (s *Service) importRows(run *transferRun, client *PooledClient, src Source, tgt Target, first string, lines *lineReader) (int64, error) {
	ctx := run.ctx
	database, table := tgt.Connection.Database, tgt.Table

	live, err := listColumns(ctx, client, database, table)
	if err != nil {
		return 0, err
	}
	if len(live) == 0 {
		return 0, errSchema("table not found: %s.%s does not exist or has no columns", database, table)
	}

	delim := src.delimiter()
	var (
		columns   []string
		positions []int
		pending   *string
	)
	if src.hasHeaders() {
		headers := splitFields(first, delim)
		columns, positions = intersectColumns(headers, live)
		if len(columns) == 0 {
			return 0, errSchema("no valid columns found in the file: none of its headers exist in table %s.%s", database, table)
		}
		if dropped := len(normalizeColumns(headers)) - len(columns); dropped > 0 {
			run.log.Debug("file columns not in table", "count", dropped)
		}
	} else {
		columns, positions = positionalColumns(live)
		pending = &first
	}

	ins := &chunkInserter{
		ctx:       ctx,
		client:    client,
		database:  database,
		table:     table,
		columns:   columns,
		chunkSize: s.chunkSize,
		batch:     make([][]any, 0, s.chunkSize),
	}

	add := func(line string) error {
		if isBlank(line) {
			return nil
		}
		return ins.add(parseRecord(line, delim, columns, positions))
	}

	if pending != nil {
		if err := add(*pending); err != nil {
			return ins.committed, err
		}
	}
	for {
		line, err := lines.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ins.committed, ins.readFailed(fmt.Errorf("read line %d: %w", lines.Line()+1, err))
		}
		if err := add(line); err != nil {
			return ins.committed, err
		}
	}
	if err := ins.flush(); err != nil {
		return ins.committed, err
	}
	return ins.committed, nil
}

// intersectColumns keeps the trimmed headers that are live column names, in
// header order. A repeated header maps to its first position.
func intersectColumns(headers []string, live []ColumnInfo) ([]string, []int) {
	liveSet := make(map[string]struct{}, len(live))
	for _, c := range live {
		liveSet[c.Name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(headers))
	var (
		columns   []string
		positions []int
	)
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if _, ok := liveSet[h]; !ok {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		columns = append(columns, h)
		positions = append(positions, i)
	}
	return columns, positions
}

// positionalColumns maps field i to the table's i-th column, for files
// without a header row.
func positionalColumns(live []ColumnInfo) ([]string, []int) {
	columns := make([]string, len(live))
	positions := make([]int, len(live))
	for i, c := range live {
		columns[i] = c.Name
		positions[i] = i
	}
	return columns, positions
}

// parseRecord maps each column to the trimmed field at its position. A
// missing or empty field is NULL.
func parseRecord(line, delim string, columns []string, positions []int) Record {
	fields := splitFields(line, delim)
	rec := NewRecord(len(columns))
	for i, col := range columns {
		var v any
		if p := positions[i]; p < len(fields) {
			if f := strings.TrimSpace(fields[p]); f != "" {
				v = f
			}
		}
		rec.add(col, v)
	}
	return rec
}

// chunkInserter buffers records and inserts them chunkSize at a time.
type chunkInserter struct {
	ctx       context.Context
	client    *PooledClient
	database  string
	table     string
	columns   []string
	chunkSize int

	batch     [][]any
	committed int64
}

func (c *chunkInserter) add(rec Record) error {
	c.batch = append(c.batch, rec.Values())
	if len(c.batch) >= c.chunkSize {
		return c.flush()
	}
	return nil
}

func (c *chunkInserter) flush() error {
	if len(c.batch) == 0 {
		return nil
	}
	if err := c.ctx.Err(); err != nil {
		return &PartialWriteError{Committed: c.committed, Err: err}
	}

	q, err := clickhouse.InsertJSONEachRow(c.database, c.table, c.columns, c.batch)
	if err != nil {
		return &PartialWriteError{Committed: c.committed, Err: err}
	}
	if err := c.client.Exec(c.ctx, q); err != nil {
		return &PartialWriteError{
			Committed: c.committed,
			Err:       classifyQueryError(c.client.Destination(), err),
		}
	}

	c.committed += int64(len(c.batch))
	c.batch = c.batch[:0]
	return nil
}

// readFailed reports a read error. Once rows are in the table it is a
// partial write.
func (c *chunkInserter) readFailed(err error) error {
	if c.committed == 0 {
		return err
	}
	return &PartialWriteError{Committed: c.committed, Err: err}
}
