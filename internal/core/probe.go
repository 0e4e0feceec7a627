package core

// probe.go runs the fixed introspection queries. Results are never cached:
// every call goes back to the store.

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
)

// PreviewRowLimit caps how many rows Preview returns.
const PreviewRowLimit = 20

const (
	queryListTables     = "SELECT name FROM system.tables WHERE database = ? ORDER BY name"
	queryListColumns    = "SELECT name, type FROM system.columns WHERE database = ? AND table = ? ORDER BY position"
	queryDatabaseExists = "SELECT name FROM system.databases WHERE name = ?"
)

// SchemaProbe reads table and column metadata through the pool.
type SchemaProbe struct {
	pool *Pool
}

// NewSchemaProbe returns a probe that borrows clients from pool.
func NewSchemaProbe(pool *Pool) *SchemaProbe {
	return &SchemaProbe{pool: pool}
}

// ListTables returns the database's table names in name order.
func (p *SchemaProbe) ListTables(ctx context.Context, cfg clickhouse.ConnectionConfig) ([]string, error) {
	client, err := p.pool.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var tables []string
	err = scan(ctx, client, func(rec Record) error {
		tables = append(tables, stringField(rec, "name"))
		return nil
	}, queryListTables, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", cfg.Database, err)
	}
	return tables, nil
}

// ListColumns returns name and type for each column in the store's
// metadata order. A missing table yields an empty slice.
func (p *SchemaProbe) ListColumns(ctx context.Context, cfg clickhouse.ConnectionConfig, table string) ([]ColumnInfo, error) {
	client, err := p.pool.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return listColumns(ctx, client, cfg.Database, table)
}

func listColumns(ctx context.Context, client *PooledClient, database, table string) ([]ColumnInfo, error) {
	var cols []ColumnInfo
	err := scan(ctx, client, func(rec Record) error {
		cols = append(cols, ColumnInfo{
			Name: stringField(rec, "name"),
			Type: stringField(rec, "type"),
		})
		return nil
	}, queryListColumns, database, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s.%s: %w", database, table, err)
	}
	return cols, nil
}

// DescribeTable returns the full schema including default kinds and
// expressions.
func (p *SchemaProbe) DescribeTable(ctx context.Context, cfg clickhouse.ConnectionConfig, table string) (TableSchema, error) {
	client, err := p.pool.Acquire(ctx, cfg)
	if err != nil {
		return TableSchema{}, err
	}

	schema := TableSchema{Table: table}
	err = scan(ctx, client, func(rec Record) error {
		schema.Columns = append(schema.Columns, ColumnInfo{
			Name:              stringField(rec, "name"),
			Type:              stringField(rec, "type"),
			DefaultType:       stringField(rec, "default_type"),
			DefaultExpression: stringField(rec, "default_expression"),
		})
		return nil
	}, "DESCRIBE TABLE "+clickhouse.QualifiedTable(cfg.Database, table))
	if err != nil {
		return TableSchema{}, fmt.Errorf("describe %s.%s: %w", cfg.Database, table, err)
	}
	return schema, nil
}

// Preview returns at most PreviewRowLimit rows. An empty column list
// selects every column.
func (p *SchemaProbe) Preview(ctx context.Context, cfg clickhouse.ConnectionConfig, table string, columns []string) ([]Record, error) {
	client, err := p.pool.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}

	q := clickhouse.SelectQuery(cfg.Database, table, normalizeColumns(columns), PreviewRowLimit)
	records := make([]Record, 0, PreviewRowLimit)
	err = scan(ctx, client, func(rec Record) error {
		records = append(records, rec)
		return nil
	}, q)
	if err != nil {
		return nil, fmt.Errorf("preview %s.%s: %w", cfg.Database, table, err)
	}
	return records, nil
}

// DatabaseExists reports whether cfg.Database exists on the server.
func (p *SchemaProbe) DatabaseExists(ctx context.Context, cfg clickhouse.ConnectionConfig) (bool, error) {
	client, err := p.pool.Acquire(ctx, cfg)
	if err != nil {
		return false, err
	}

	found := false
	err = scan(ctx, client, func(Record) error {
		found = true
		return nil
	}, queryDatabaseExists, cfg.Database)
	if err != nil {
		return false, err
	}
	return found, nil
}

// scan runs q and calls fn with each row as a Record keyed by the result's
// column names. Times are rendered to text by column type so Date columns
// read as dates. Store errors are classified into the error taxonomy.
func scan(ctx context.Context, client *PooledClient, fn func(Record) error, q string, args ...any) error {
	rows, err := client.Query(ctx, q, args...)
	if err != nil {
		return classifyQueryError(client.Destination(), err)
	}
	defer rows.Close()

	cols := rows.Columns()
	types := rows.ColumnTypes()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return classifyQueryError(client.Destination(), err)
		}
		for i, v := range vals {
			if t, ok := v.(time.Time); ok && i < len(types) {
				vals[i] = FormatTyped(t, types[i])
			}
		}
		if err := fn(newRowRecord(cols, vals)); err != nil {
			return err
		}
	}
	return classifyQueryError(client.Destination(), rows.Err())
}

// newRowRecord pairs a result row with its column names. Extra names or
// values beyond the shorter of the two are ignored.
func newRowRecord(cols []string, vals []any) Record {
	n := min(len(cols), len(vals))
	rec := NewRecord(n)
	for i := 0; i < n; i++ {
		rec.add(cols[i], vals[i])
	}
	return rec
}

func stringField(rec Record, column string) string {
	v, _ := rec.Get(column)
	return FormatValue(v)
}
