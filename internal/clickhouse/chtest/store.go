// Package chtest provides an in-memory stand-in for a ClickHouse server.
//
// It understands exactly the statements the engine issues: the system
// table probes, DESCRIBE TABLE, SELECT with an optional LIMIT, and INSERT
// ... FORMAT JSONEachRow. Errors use the server's text form, as the HTTP
// protocol reports them.
package chtest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
)

// Column describes one column of a fake table.
type Column struct {
	Name              string
	Type              string
	DefaultType       string
	DefaultExpression string
}

// Insert is one recorded INSERT statement.
type Insert struct {
	Database string
	Table    string
	Columns  []string
	Rows     int
}

type table struct {
	columns []Column
	rows    [][]any
}

// Store is a fake server shared by every Conn it dials.
type Store struct {
	// DialErr, when set, fails every dial.
	DialErr error
	// InsertErr is consulted before the nth (1-based) insert is applied.
	InsertErr func(n int) error
	// QueryErr is consulted before every query.
	QueryErr func(query string) error
	// CloseErr is returned by every Conn.Close.
	CloseErr error

	mu        sync.Mutex
	databases map[string]map[string]*table
	inserts   []Insert
	queries   []string

	dials  atomic.Int64
	closes atomic.Int64
}

func NewStore() *Store {
	return &Store{databases: map[string]map[string]*table{"default": {}}}
}

// CreateDatabase adds an empty database.
func (s *Store) CreateDatabase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.databases[name]; !ok {
		s.databases[name] = map[string]*table{}
	}
}

// CreateTable adds (or replaces) a table, creating its database if needed.
func (s *Store) CreateTable(database, name string, columns ...Column) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.databases[database]; !ok {
		s.databases[database] = map[string]*table{}
	}
	s.databases[database][name] = &table{columns: columns}
}

// AddRows appends rows, each holding one value per column in table order.
func (s *Store) AddRows(database, name string, rows ...[]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.databases[database][name]
	t.rows = append(t.rows, rows...)
}

// Rows returns a copy of the table's rows in column order.
func (s *Store) Rows(database, name string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.databases[database][name]
	if !ok {
		return nil
	}
	out := make([][]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// Inserts returns every INSERT applied or attempted, in order.
func (s *Store) Inserts() []Insert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Insert(nil), s.inserts...)
}

// Queries returns every SELECT/DESCRIBE issued, in order.
func (s *Store) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// Dials counts successful dials.
func (s *Store) Dials() int { return int(s.dials.Load()) }

// Closes counts Conn.Close calls.
func (s *Store) Closes() int { return int(s.closes.Load()) }

// Dialer returns a clickhouse.Dialer that opens Conns on this store.
func (s *Store) Dialer() clickhouse.Dialer {
	return func(ctx context.Context, cfg clickhouse.ConnectionConfig) (clickhouse.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.DialErr != nil {
			return nil, s.DialErr
		}
		s.dials.Add(1)
		return &Conn{store: s, cfg: cfg}, nil
	}
}

// Conn is one fake connection.
type Conn struct {
	store  *Store
	cfg    clickhouse.ConnectionConfig
	closed atomic.Bool
}

// Config returns the config the connection was dialed with.
func (c *Conn) Config() clickhouse.ConnectionConfig { return c.cfg }

func (c *Conn) Closed() bool { return c.closed.Load() }

func (c *Conn) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return errors.New("connection is closed")
	}
	return ctx.Err()
}

func (c *Conn) Close() error {
	c.closed.Store(true)
	c.store.closes.Add(1)
	return c.store.CloseErr
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (clickhouse.Rows, error) {
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	s := c.store
	if s.QueryErr != nil {
		if err := s.QueryErr(query); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)

	switch {
	case strings.HasPrefix(query, "SELECT name FROM system.tables"):
		db := argString(args, 0)
		var names []string
		for name := range s.databases[db] {
			names = append(names, name)
		}
		sort.Strings(names)
		out := &Rows{cols: []string{"name"}}
		for _, n := range names {
			out.data = append(out.data, []any{n})
		}
		return out, nil

	case strings.HasPrefix(query, "SELECT name, type FROM system.columns"):
		out := &Rows{cols: []string{"name", "type"}}
		if t, ok := s.databases[argString(args, 0)][argString(args, 1)]; ok {
			for _, col := range t.columns {
				out.data = append(out.data, []any{col.Name, col.Type})
			}
		}
		return out, nil

	case strings.HasPrefix(query, "SELECT name FROM system.databases"):
		out := &Rows{cols: []string{"name"}}
		if db := argString(args, 0); s.databases[db] != nil {
			out.data = append(out.data, []any{db})
		}
		return out, nil

	case strings.HasPrefix(query, "DESCRIBE TABLE "):
		db, name, ok := parseQualified(strings.TrimPrefix(query, "DESCRIBE TABLE "))
		if !ok {
			return nil, syntaxError(query)
		}
		t, err := s.tableLocked(db, name)
		if err != nil {
			return nil, err
		}
		out := &Rows{cols: []string{"name", "type", "default_type", "default_expression"}}
		for _, col := range t.columns {
			out.data = append(out.data, []any{col.Name, col.Type, col.DefaultType, col.DefaultExpression})
		}
		return out, nil

	case strings.HasPrefix(query, "SELECT "):
		return s.selectLocked(query)
	}
	return nil, syntaxError(query)
}

var selectRe = regexp.MustCompile("^SELECT (.+) FROM (" + identPattern + `\.` + identPattern + `)(?: LIMIT (\d+))?$`)

func (s *Store) selectLocked(query string) (clickhouse.Rows, error) {
	m := selectRe.FindStringSubmatch(query)
	if m == nil {
		return nil, syntaxError(query)
	}
	db, name, _ := parseQualified(m[2])
	t, err := s.tableLocked(db, name)
	if err != nil {
		return nil, err
	}

	var cols []string
	if m[1] == "*" {
		for _, c := range t.columns {
			cols = append(cols, c.Name)
		}
	} else {
		cols = parseIdentList(m[1])
	}

	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = t.index(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("Code: 47. DB::Exception: Missing columns: '%s' while processing query. (UNKNOWN_IDENTIFIER)", c)
		}
	}

	limit := len(t.rows)
	if m[3] != "" {
		n, _ := strconv.Atoi(m[3])
		limit = min(limit, n)
	}

	out := &Rows{cols: cols, types: make([]string, len(cols))}
	for i, j := range idx {
		out.types[i] = t.columns[j].Type
	}
	for _, row := range t.rows[:limit] {
		vals := make([]any, len(cols))
		for i, j := range idx {
			if j < len(row) {
				vals[i] = row[j]
			}
		}
		out.data = append(out.data, vals)
	}
	return out, nil
}

var insertRe = regexp.MustCompile("^INSERT INTO (" + identPattern + `\.` + identPattern + `) \((.*)\) FORMAT JSONEachRow$`)

func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	if err := c.Ping(ctx); err != nil {
		return err
	}

	head, body, _ := strings.Cut(query, "\n")
	m := insertRe.FindStringSubmatch(head)
	if m == nil {
		return syntaxError(head)
	}
	db, name, _ := parseQualified(m[1])
	columns := parseIdentList(m[2])

	var rows []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return fmt.Errorf("Code: 117. DB::Exception: Cannot parse JSON object: %v. (INCORRECT_DATA)", err)
		}
		rows = append(rows, obj)
	}
	if err := sc.Err(); err != nil {
		return err
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inserts = append(s.inserts, Insert{Database: db, Table: name, Columns: columns, Rows: len(rows)})
	if s.InsertErr != nil {
		if err := s.InsertErr(len(s.inserts)); err != nil {
			return err
		}
	}

	t, err := s.tableLocked(db, name)
	if err != nil {
		return err
	}
	for _, col := range columns {
		if t.index(col) < 0 {
			return fmt.Errorf("Code: 16. DB::Exception: No such column %s in table %s.%s. (NO_SUCH_COLUMN_IN_TABLE)", col, db, name)
		}
	}
	for _, obj := range rows {
		row := make([]any, len(t.columns))
		for i, col := range t.columns {
			row[i] = obj[col.Name]
		}
		t.rows = append(t.rows, row)
	}
	return nil
}

func (s *Store) tableLocked(db, name string) (*table, error) {
	tables, ok := s.databases[db]
	if !ok {
		return nil, fmt.Errorf("Code: 81. DB::Exception: Database %s does not exist. (UNKNOWN_DATABASE)", db)
	}
	t, ok := tables[name]
	if !ok {
		return nil, fmt.Errorf("Code: 60. DB::Exception: Table %s.%s does not exist. (UNKNOWN_TABLE)", db, name)
	}
	return t, nil
}

func (t *table) index(column string) int {
	for i, c := range t.columns {
		if c.Name == column {
			return i
		}
	}
	return -1
}

// Rows is a fake result cursor.
type Rows struct {
	cols  []string
	types []string
	data  [][]any
	pos   int
}

func (r *Rows) Columns() []string { return r.cols }

// ColumnTypes reports the declared column types of a SELECT and String for
// the system queries.
func (r *Rows) ColumnTypes() []string {
	if r.types != nil {
		return r.types
	}
	out := make([]string, len(r.cols))
	for i := range out {
		out[i] = "String"
	}
	return out
}

func (r *Rows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Values() ([]any, error) {
	if r.pos == 0 || r.pos > len(r.data) {
		return nil, errors.New("Values called without a current row")
	}
	return append([]any(nil), r.data[r.pos-1]...), nil
}

func (r *Rows) Err() error   { return nil }
func (r *Rows) Close() error { return nil }

const identPattern = "`(?:[^`\\\\]|\\\\.)*`"

var identRe = regexp.MustCompile(identPattern)

func parseQualified(s string) (db, name string, ok bool) {
	ids := identRe.FindAllString(s, -1)
	if len(ids) != 2 {
		return "", "", false
	}
	return unquote(ids[0]), unquote(ids[1]), true
}

func parseIdentList(s string) []string {
	ids := identRe.FindAllString(s, -1)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = unquote(id)
	}
	return out
}

func unquote(id string) string {
	id = strings.TrimSuffix(strings.TrimPrefix(id, "`"), "`")
	var b strings.Builder
	escaped := false
	for _, r := range id {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

func argString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	return fmt.Sprint(args[i])
}

func syntaxError(query string) error {
	return fmt.Errorf("Code: 62. DB::Exception: Syntax error: failed at position 1: %q. (SYNTAX_ERROR)", query)
}
