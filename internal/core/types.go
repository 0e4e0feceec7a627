package core

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
)

// EndpointType names one side of a transfer.
type EndpointType string

const (
	EndpointClickHouse EndpointType = "clickhouse"
	EndpointFlatFile   EndpointType = "flatfile"
)

// DefaultDelimiter separates fields when a flat file endpoint sets none.
const DefaultDelimiter = ","

// Source is the read side of a transfer. Which fields apply depends on Type:
//
//   - clickhouse: Connection, Table, Columns (non-empty)
//   - flatfile:   exactly one of FileContent or StreamID, Delimiter, Headers, FileName
type Source struct {
	Type EndpointType `json:"type"`

	Connection *clickhouse.ConnectionConfig `json:"connection,omitempty"`
	Table      string                       `json:"table,omitempty"`
	Columns    []string                     `json:"columns,omitempty"`

	// FileContent is a pointer so "set but empty" (an empty file) can be told
	// apart from "not set".
	FileContent *string `json:"fileContent,omitempty"`
	StreamID    string  `json:"streamId,omitempty"`
	Delimiter   string  `json:"delimiter,omitempty"`
	Headers     *bool   `json:"headers,omitempty"`
	FileName    string  `json:"fileName,omitempty"`
}

// Target is the write side of a transfer.
//
//   - clickhouse: Connection, Table
//   - flatfile:   Delimiter
type Target struct {
	Type EndpointType `json:"type"`

	Connection *clickhouse.ConnectionConfig `json:"connection,omitempty"`
	Table      string                       `json:"table,omitempty"`

	Delimiter string `json:"delimiter,omitempty"`
}

// TransferConfig pairs a source with a target of the other type.
type TransferConfig struct {
	Source Source `json:"source"`
	Target Target `json:"target"`
}

// Direction is derived from the (source, target) type pair.
type Direction string

const (
	DirectionExport Direction = "export" // store -> flat file
	DirectionImport Direction = "import" // flat file -> store
)

// Direction classifies the transfer. Same-type and unknown combinations are
// rejected.
func (c TransferConfig) Direction() (Direction, error) {
	switch {
	case c.Source.Type == EndpointClickHouse && c.Target.Type == EndpointFlatFile:
		return DirectionExport, nil
	case c.Source.Type == EndpointFlatFile && c.Target.Type == EndpointClickHouse:
		return DirectionImport, nil
	case c.Source.Type == c.Target.Type:
		return "", errMalformed("invalid transfer: source and target are both %q; transfers must cross systems", c.Source.Type)
	default:
		return "", errMalformed("invalid transfer: unsupported source %q and target %q", c.Source.Type, c.Target.Type)
	}
}

func (s Source) delimiter() string {
	if s.Delimiter == "" {
		return DefaultDelimiter
	}
	return s.Delimiter
}

func (s Source) hasHeaders() bool {
	return s.Headers == nil || *s.Headers
}

func (t Target) delimiter() string {
	if t.Delimiter == "" {
		return DefaultDelimiter
	}
	return t.Delimiter
}

// ColumnInfo is a read-only projection of one column's store metadata.
type ColumnInfo struct {
	Name              string `json:"name"`
	Type              string `json:"type"`
	DefaultType       string `json:"defaultType,omitempty"`
	DefaultExpression string `json:"defaultExpression,omitempty"`
}

// TableSchema is the full described schema of one table.
type TableSchema struct {
	Table   string       `json:"table"`
	Columns []ColumnInfo `json:"columns"`
}

// CheckResult reports whether a destination is reachable and its database
// exists.
type CheckResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TransferResult is the terminal outcome of one transfer attempt.
//
// Count is only meaningful when Success is true. When an import fails after
// some chunks were committed, CommittedRows is a best-effort count of rows
// already written; the store does not roll them back.
type TransferResult struct {
	Success       bool
	Count         int64
	FileContent   string
	Error         string
	Code          string
	CommittedRows int64

	// Err is the underlying failure, kept for errors.As by callers. It is
	// never serialized.
	Err error
}

// MarshalJSON omits count on failure so a failed import never reports a
// row count.
func (r TransferResult) MarshalJSON() ([]byte, error) {
	type wire struct {
		Success       bool   `json:"success"`
		Count         *int64 `json:"count,omitempty"`
		FileContent   string `json:"fileContent,omitempty"`
		Error         string `json:"error,omitempty"`
		Code          string `json:"code,omitempty"`
		CommittedRows int64  `json:"committedRows,omitempty"`
	}
	w := wire{
		Success:       r.Success,
		FileContent:   r.FileContent,
		Error:         r.Error,
		Code:          r.Code,
		CommittedRows: r.CommittedRows,
	}
	if r.Success {
		count := r.Count
		w.Count = &count
	}
	return json.Marshal(w)
}

func succeeded(count int64, content string) TransferResult {
	return TransferResult{Success: true, Count: count, FileContent: content}
}

func failed(err error) TransferResult {
	res := TransferResult{
		Error: err.Error(),
		Code:  MapError(err).Code,
		Err:   err,
	}
	if pw, ok := asPartialWrite(err); ok {
		res.CommittedRows = pw.Committed
	}
	return res
}

// Record is an ordered column -> value association. A nil value is NULL.
// Records read from files hold strings; records read from the store hold
// the driver's Go types.
type Record struct {
	columns []string
	values  []any
}

// NewRecord returns an empty record with room for n columns.
func NewRecord(n int) Record {
	return Record{columns: make([]string, 0, n), values: make([]any, 0, n)}
}

// Set assigns value to column, appending the column if it is new.
func (r *Record) Set(column string, value any) {
	for i, c := range r.columns {
		if c == column {
			r.values[i] = value
			return
		}
	}
	r.columns = append(r.columns, column)
	r.values = append(r.values, value)
}

// add appends without checking for an existing column.
func (r *Record) add(column string, value any) {
	r.columns = append(r.columns, column)
	r.values = append(r.values, value)
}

// Get returns the value for column.
func (r Record) Get(column string) (any, bool) {
	for i, c := range r.columns {
		if c == column {
			return r.values[i], true
		}
	}
	return nil, false
}

func (r Record) Columns() []string { return r.columns }
func (r Record) Values() []any     { return r.values }
func (r Record) Len() int          { return len(r.columns) }

// MarshalJSON encodes the record as a JSON object in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(jsonValue(r.values[i]))
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// jsonValue renders times the way the store prints them rather than RFC 3339.
func jsonValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return FormatValue(t)
	}
	return v
}

// normalizeColumns trims names and drops blanks.
func normalizeColumns(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
