package clickhouse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QuoteIdentifier quotes a table, database or column name with backticks.
func QuoteIdentifier(name string) string {
	r := strings.NewReplacer(`\`, `\\`, "`", "\\`")
	return "`" + r.Replace(name) + "`"
}

// QualifiedTable returns `database`.`table`.
func QualifiedTable(database, table string) string {
	return QuoteIdentifier(database) + "." + QuoteIdentifier(table)
}

// QuoteColumns quotes each column name. An empty list selects every column.
func QuoteColumns(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// SelectQuery builds SELECT <columns> FROM db.table with an optional LIMIT
// (limit <= 0 means unbounded).
func SelectQuery(database, table string, columns []string, limit int) string {
	q := fmt.Sprintf("SELECT %s FROM %s", QuoteColumns(columns), QualifiedTable(database, table))
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return q
}

// InsertJSONEachRow builds an INSERT whose data travels inline in
// JSONEachRow format, one object per row. Values are emitted as JSON
// strings or null and the server converts them to the column types, so
// rows parsed from text never need client-side type coercion.
//
// Every row must have exactly len(columns) values.
func InsertJSONEachRow(database, table string, columns []string, rows [][]any) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("insert into %s.%s: no columns", database, table)
	}

	keys := make([][]byte, len(columns))
	for i, c := range columns {
		k, err := json.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("encode column %q: %w", c, err)
		}
		keys[i] = k
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(QualifiedTable(database, table))
	b.WriteString(" (")
	b.WriteString(QuoteColumns(columns))
	b.WriteString(") FORMAT JSONEachRow\n")

	for n, row := range rows {
		if len(row) != len(columns) {
			return "", fmt.Errorf("row %d has %d values, want %d", n, len(row), len(columns))
		}
		b.WriteByte('{')
		for i, v := range row {
			if i > 0 {
				b.WriteByte(',')
			}
			b.Write(keys[i])
			b.WriteByte(':')
			enc, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("encode row %d column %q: %w", n, columns[i], err)
			}
			b.Write(enc)
		}
		b.WriteString("}\n")
	}

	return b.String(), nil
}
